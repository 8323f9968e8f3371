package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req alert.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFail(w, http.StatusBadRequest, "client error", alert.FieldErrors{
			"body": {"request body must be a JSON object"},
		})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentinel.alert.aibox_id", req.ID))

	created, err := a.svc.Ingest(r.Context(), &req)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	span.SetAttributes(attribute.Int64("sentinel.alert.id", created.ID))
	a.writeOK(w, http.StatusCreated, "alert push successful", nil)
}

// sendActionRequest is the confirm/reject body. telegram_id identifies the
// acting user when the action comes through the bot.
type sendActionRequest struct {
	Action     string `json:"action"`
	TelegramID *int64 `json:"telegram_id"`
}

func (a *API) handleSendAction(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeFail(w, http.StatusBadRequest, "client error", alert.FieldErrors{
			"id": {"alert id must be an integer"},
		})
		return
	}

	var req sendActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFail(w, http.StatusBadRequest, "client error", alert.FieldErrors{
			"body": {"request body must be a JSON object"},
		})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int64("sentinel.alert.id", alertID),
		attribute.String("sentinel.alert.action", req.Action),
	)

	res, err := a.svc.Action(r.Context(), alertID, req.Action, req.TelegramID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	a.writeOK(w, http.StatusOK, "success", map[string]any{
		"id":                res.Alert.ID,
		"status":            res.Alert.Status,
		"users_telegram_id": res.Notified,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stats, err := a.svc.Stats(r.Context(), q.Get("period"), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	a.writeOK(w, http.StatusOK, "success", stats)
}
