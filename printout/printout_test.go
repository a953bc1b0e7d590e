package printout

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripboard/models"
)

type docReader struct {
	doc models.TripData
	err error
}

func (d docReader) Read(context.Context) (models.TripData, error) { return d.doc, d.err }

func TestRenderProducesPDF(t *testing.T) {
	doc := models.Default()
	doc.LastUpdated = "2024-05-01T09:00:00.000Z"
	out, err := Renderer{LinkURL: "http://localhost:8080"}.Render(doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderMissingFont(t *testing.T) {
	_, err := Renderer{FontPath: "/nonexistent/font.ttf"}.Render(models.Default())
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	h := NewHandler(docReader{doc: models.Default()}, Renderer{}, nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/itinerary.pdf", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	h = NewHandler(docReader{err: errors.New("down")}, Renderer{}, nil)
	rec = httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/itinerary.pdf", nil), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
