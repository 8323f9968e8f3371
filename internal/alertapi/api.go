package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Ingest(ctx context.Context, req *alert.IntakeRequest) (*alert.Alert, error)
	Action(ctx context.Context, alertID int64, action string, telegramID *int64) (*alert.ActionResult, error)
	Stats(ctx context.Context, period, startDate, endDate string) (*alert.Stats, error)
	TelegramLink(ctx context.Context, userID int64) (string, error)
	RegisterTelegram(ctx context.Context, telegramID int64, token string) (*alert.User, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        AlertService
	intakeAuth func(http.Handler) http.Handler
}

// New creates a new API handler. intakeAuth guards the device intake route
// and may be nil when no device secret is configured.
func New(logger log.Logger, svc AlertService, intakeAuth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	if intakeAuth == nil {
		intakeAuth = func(next http.Handler) http.Handler { return next }
	}
	return &API{
		logger:     logger,
		svc:        svc,
		intakeAuth: intakeAuth,
	}
}

// RegisterRoutes attaches API endpoints to the router. AIBox firmware is
// inconsistent about trailing slashes, hence StripSlashes.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.StripSlashes)
		r.With(a.intakeAuth).Post("/alerts", a.handleIngestAlert)
		r.Post("/alerts/{id}/send-action", a.handleSendAction)
		r.Get("/users/{id}/telegram-link", a.handleTelegramLink)
		r.Post("/users/register-telegram", a.handleRegisterTelegram)
	})
	r.Route("/alert-stats", func(r chi.Router) {
		r.Use(middleware.StripSlashes)
		r.Get("/", a.handleStats)
	})
}

// envelope is the response shape shared by every endpoint. error_code is 0
// on success and -1 on any failure, mirroring what the bot and AIBox
// firmware already parse.
type envelope struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
}

func (a *API) writeOK(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{ErrorCode: 0, Message: message, Data: data})
}

func (a *API) writeFail(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{ErrorCode: -1, Message: message, Data: data})
}

// writeErr maps service errors onto HTTP statuses: validation failures are
// 400 with field details, missing entities 404, terminal alerts 409,
// everything else a logged 500.
func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if fe, ok := alert.AsFieldErrors(err); ok {
		a.writeFail(w, http.StatusBadRequest, "client error", fe)
		return
	}
	switch {
	case errors.Is(err, alert.ErrAlertNotFound), errors.Is(err, alert.ErrUserNotFound):
		a.writeFail(w, http.StatusNotFound, "not found", nil)
	case errors.Is(err, alert.ErrInvalidTransition):
		a.writeFail(w, http.StatusConflict, "alert already handled", nil)
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeFail(w, http.StatusInternalServerError, "internal error", nil)
	}
}
