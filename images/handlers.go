package images

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"tripboard/filemgr"
	"tripboard/logging"
	"tripboard/models"
	"tripboard/utils"
)

type Handler struct {
	svc      *Service
	maxBytes int64
	log      *zerolog.Logger
}

func NewHandler(svc *Service, maxBytes int64, log *zerolog.Logger) *Handler {
	if maxBytes <= 0 {
		maxBytes = filemgr.DefaultMaxBytes
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{svc: svc, maxBytes: maxBytes, log: log}
}

// maxFiles bounds one upload request.
const maxFiles = 10

// GET /images
func (h *Handler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	set, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list ticket images")
		utils.RespondWithError(w, http.StatusInternalServerError, "이미지 목록 조회에 실패했습니다.")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, set)
}

// POST /images (multipart: type, images...)
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*maxFiles+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "업로드 형식이 올바르지 않습니다.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	category := r.FormValue("type")
	files := r.MultipartForm.File["images"]
	if category == "" || len(files) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "타입과 이미지 파일이 필요합니다.")
		return
	}
	if len(files) > maxFiles {
		utils.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("이미지는 최대 %d개까지 업로드할 수 있습니다.", maxFiles))
		return
	}

	// Every file is checked before anything old is deleted.
	uploads := make([]filemgr.Upload, 0, len(files))
	for _, fh := range files {
		up, err := filemgr.ReadUpload(fh, h.maxBytes)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, up)
	}

	urls, err := h.svc.Replace(r.Context(), category, uploads)
	switch {
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrNoFiles):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Msg("replace ticket images")
		utils.RespondWithError(w, http.StatusInternalServerError, "이미지 업로드에 실패했습니다.")
		return
	}

	c, _ := models.ParseCategory(category)
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"success": true,
		"message": fmt.Sprintf("%s 기차표 %d개가 업로드되었습니다.", label(c), len(urls)),
		"urls":    urls,
	})
}

func label(c models.Category) string {
	if c == models.CategoryDeparture {
		return "출발"
	}
	return "도착"
}
