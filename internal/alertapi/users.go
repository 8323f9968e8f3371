package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

func (a *API) handleTelegramLink(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeFail(w, http.StatusBadRequest, "client error", alert.FieldErrors{
			"id": {"user id must be an integer"},
		})
		return
	}

	link, err := a.svc.TelegramLink(r.Context(), userID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	a.writeOK(w, http.StatusOK, "success", map[string]any{"link": link})
}

type registerTelegramRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Token      string `json:"token"`
}

func (a *API) handleRegisterTelegram(w http.ResponseWriter, r *http.Request) {
	var req registerTelegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFail(w, http.StatusBadRequest, "client error", alert.FieldErrors{
			"body": {"request body must be a JSON object"},
		})
		return
	}

	user, err := a.svc.RegisterTelegram(r.Context(), req.TelegramID, req.Token)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	a.writeOK(w, http.StatusOK, "success", map[string]any{"user_id": user.ID})
}
