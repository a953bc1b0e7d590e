package tripdata

import (
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/models"
	"tripboard/store"
	"tripboard/utils"
)

// Messages shown to visitors, in the language of the front-end.
const (
	msgLoadFailed       = "데이터를 불러오는데 실패했습니다."
	msgSaved            = "데이터가 성공적으로 저장되었습니다."
	msgSaveFailed       = "데이터 저장에 실패했습니다."
	msgBadRequest       = "잘못된 요청입니다."
	msgEmptyField       = "작성자와 내용을 입력해주세요."
	msgAttendeeName     = "참석자 이름을 입력해주세요."
	msgMessageNotFound  = "질문을 찾을 수 없습니다."
	msgReplyNotFound    = "답변을 찾을 수 없습니다."
	msgAttendeeNotFound = "참석자를 찾을 수 없습니다."
	msgConflict         = "다른 사용자가 수정 중입니다. 잠시 후 다시 시도해주세요."
)

type Handler struct {
	svc *Service
	log *zerolog.Logger
}

func NewHandler(svc *Service, log *zerolog.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{svc: svc, log: log}
}

type postInput struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

type attendeeInput struct {
	Name     string `json:"name"`
	Position string `json:"position"`
}

// GET /data?lastUpdate=<ts>
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	up, err := h.svc.CheckForUpdate(r.Context(), r.URL.Query().Get("lastUpdate"))
	if err != nil {
		h.log.Error().Err(err).Msg("read trip data")
		utils.RespondWithError(w, http.StatusInternalServerError, msgLoadFailed)
		return
	}
	if up.NoChanges {
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"noChanges": true})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, up.Data)
}

// POST /data
func (h *Handler) SaveData(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	var doc models.TripData
	if err := utils.DecodeJSON(w, r, &doc); err != nil {
		h.badRequest(w, err)
		return
	}
	saved, err := h.svc.Save(r.Context(), doc)
	if err != nil {
		h.log.Error().Err(err).Msg("save trip data")
		utils.RespondWithError(w, http.StatusInternalServerError, msgSaveFailed)
		return
	}
	h.log.Info().Str("lastUpdated", saved.LastUpdated).Msg("trip data saved")
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"success": true,
		"message": msgSaved,
		"data":    saved,
	})
}

// POST /data/questions
func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	var in postInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		h.badRequest(w, err)
		return
	}
	msg, err := h.svc.AddQuestion(r.Context(), in.Author, in.Content)
	if err != nil {
		h.fail(w, err, "add question")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": msg})
}

// POST /data/questions/:id/replies
func (h *Handler) AddReply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	utils.NoStore(w)
	id, err := utils.ParseID(ps, "id")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	var in postInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		h.badRequest(w, err)
		return
	}
	reply, err := h.svc.AddReply(r.Context(), id, in.Author, in.Content)
	if err != nil {
		h.fail(w, err, "add reply")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": reply})
}

// DELETE /data/questions/:id
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	utils.NoStore(w)
	id, err := utils.ParseID(ps, "id")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	doc, err := h.svc.DeleteMessage(r.Context(), id)
	if err != nil {
		h.fail(w, err, "delete question")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": doc})
}

// DELETE /data/questions/:id/replies/:replyId
func (h *Handler) DeleteReply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	utils.NoStore(w)
	id, err := utils.ParseID(ps, "id")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	replyID, err := utils.ParseID(ps, "replyId")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	doc, err := h.svc.DeleteReply(r.Context(), id, replyID)
	if err != nil {
		h.fail(w, err, "delete reply")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": doc})
}

// POST /data/attendees
func (h *Handler) AddAttendee(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	var in attendeeInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.svc.AddAttendee(r.Context(), in.Name, in.Position)
	if err != nil {
		h.fail(w, err, "add attendee")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": a})
}

// PATCH /data/attendees/:id
func (h *Handler) UpdateAttendee(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	utils.NoStore(w)
	id, err := utils.ParseID(ps, "id")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	var p AttendeePatch
	if err := utils.DecodeJSON(w, r, &p); err != nil {
		h.badRequest(w, err)
		return
	}
	a, err := h.svc.UpdateAttendee(r.Context(), id, p)
	if err != nil {
		h.fail(w, err, "update attendee")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": a})
}

// DELETE /data/attendees/:id
func (h *Handler) DeleteAttendee(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	utils.NoStore(w)
	id, err := utils.ParseID(ps, "id")
	if err != nil {
		h.badRequest(w, err)
		return
	}
	doc, err := h.svc.DeleteAttendee(r.Context(), id)
	if err != nil {
		h.fail(w, err, "delete attendee")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "data": doc})
}

func (h *Handler) fail(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrEmptyField):
		utils.RespondWithError(w, http.StatusBadRequest, msgEmptyField)
	case errors.Is(err, ErrAttendeeNameEmpty):
		utils.RespondWithError(w, http.StatusBadRequest, msgAttendeeName)
	case errors.Is(err, ErrMessageNotFound):
		utils.RespondWithError(w, http.StatusNotFound, msgMessageNotFound)
	case errors.Is(err, ErrReplyNotFound):
		utils.RespondWithError(w, http.StatusNotFound, msgReplyNotFound)
	case errors.Is(err, ErrAttendeeNotFound):
		utils.RespondWithError(w, http.StatusNotFound, msgAttendeeNotFound)
	case errors.Is(err, store.ErrConflict):
		utils.RespondWithError(w, http.StatusConflict, msgConflict)
	default:
		h.log.Error().Err(err).Str("op", op).Msg("trip data edit failed")
		utils.RespondWithError(w, http.StatusInternalServerError, msgSaveFailed)
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	h.log.Debug().Err(err).Msg("rejected request")
	utils.RespondWithError(w, http.StatusBadRequest, msgBadRequest)
}
