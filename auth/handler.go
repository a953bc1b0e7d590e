package auth

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/utils"
)

type Handler struct {
	gate *Gate
	log  *zerolog.Logger
}

func NewHandler(gate *Gate, log *zerolog.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{gate: gate, log: log}
}

// POST /auth
//
// A wrong password is a normal answer ({success:false}, 200) so the view
// can ask again; only unreadable input is an error.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.NoStore(w)
	var in struct {
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		h.log.Debug().Err(err).Msg("unreadable auth request")
		utils.RespondWithError(w, http.StatusBadRequest, "잘못된 요청입니다.")
		return
	}
	if err := h.gate.Check(in.Password); err != nil {
		h.log.Info().Str("remote", r.RemoteAddr).Msg("admin password rejected")
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": false})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true})
}
