// Package printout renders the trip sheet as a one-page PDF.
package printout

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/julienschmidt/httprouter"
	"github.com/phpdave11/gofpdf"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"tripboard/logging"
	"tripboard/models"
)

// Renderer lays out a TripData on A4. With FontPath set, a UTF-8 TrueType
// font is embedded so Hangul renders; otherwise the core Helvetica font is
// used and characters outside cp1252 are lost.
type Renderer struct {
	FontPath string
	// LinkURL is encoded in the QR code, normally the public page.
	LinkURL string
}

const family = "body"

func (r Renderer) Render(doc models.TripData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.TripInfo.Title, true)
	pdf.SetAutoPageBreak(true, 15)

	text := func(s string) string { return s }
	fontFamily := family
	if r.FontPath != "" {
		ttf, err := os.ReadFile(r.FontPath)
		if err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
		pdf.AddUTF8FontFromBytes(family, "", ttf)
	} else {
		fontFamily = "Helvetica"
		text = pdf.UnicodeTranslatorFromDescriptor("")
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("load font %s: %w", r.FontPath, err)
	}

	pdf.AddPage()
	pdf.SetFont(fontFamily, "", 20)
	pdf.MultiCell(150, 10, text(doc.TripInfo.Title), "", "L", false)

	pdf.SetFont(fontFamily, "", 12)
	pdf.Ln(2)
	for _, line := range []string{doc.TripInfo.Date, doc.TripInfo.Location} {
		if line != "" {
			pdf.CellFormat(150, 7, text(line), "", 1, "L", false, 0, "")
		}
	}
	if doc.TripInfo.Description != "" {
		pdf.Ln(2)
		pdf.MultiCell(150, 6, text(doc.TripInfo.Description), "", "L", false)
	}

	if r.LinkURL != "" {
		png, err := qrcode.Encode(r.LinkURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode qr: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("qr", 165, 10, 35, 35, false, opts, 0, "")
	}

	pdf.SetY(50)
	section(pdf, fontFamily, text("Schedule"))
	for _, item := range doc.TripInfo.SortedSchedule() {
		line := fmt.Sprintf("%s  %s %s", item.Time, item.Emoji, item.Activity)
		if r.FontPath == "" {
			line = fmt.Sprintf("%s  %s", item.Time, item.Activity)
		}
		pdf.CellFormat(0, 7, text(line), "B", 1, "L", false, 0, "")
	}

	pdf.Ln(4)
	section(pdf, fontFamily, text("Attendees"))
	for _, a := range doc.Attendees {
		mark := "[ ]"
		if a.Confirmed {
			mark = "[x]"
		}
		pdf.CellFormat(12, 7, mark, "", 0, "L", false, 0, "")
		pdf.CellFormat(60, 7, text(a.Name), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, text(a.Position), "", 1, "L", false, 0, "")
	}

	pdf.SetY(-20)
	pdf.SetFont(fontFamily, "", 8)
	pdf.CellFormat(0, 5, text("Updated "+doc.LastUpdated), "", 0, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, fontFamily, title string) {
	pdf.SetFont(fontFamily, "", 14)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 11)
}

// Reader loads the document to print.
type Reader interface {
	Read(ctx context.Context) (models.TripData, error)
}

type Handler struct {
	docs     Reader
	renderer Renderer
	log      *zerolog.Logger
}

func NewHandler(docs Reader, renderer Renderer, log *zerolog.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{docs: docs, renderer: renderer, log: log}
}

// GET /itinerary.pdf
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	doc, err := h.docs.Read(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load document for printout")
		http.Error(w, "데이터를 불러오는데 실패했습니다.", http.StatusInternalServerError)
		return
	}
	out, err := h.renderer.Render(doc)
	if err != nil {
		h.log.Error().Err(err).Msg("render printout")
		http.Error(w, "PDF 생성에 실패했습니다.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="itinerary.pdf"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
