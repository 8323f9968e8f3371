package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// BlobStore persists alert media outside the relational store. Save returns
// the stored path relative to the media root, as referenced in bot payloads.
type BlobStore interface {
	Save(ctx context.Context, relPath string, data []byte) (string, error)
}

const (
	imageDir = "alerts/images"
	videoDir = "alerts/videos"
)

// ActionResult is the outcome of a confirm/reject call.
type ActionResult struct {
	Alert *Alert

	// Notified holds the executive telegram ids targeted after a confirm.
	Notified []int64
}

// Service is the business boundary for alert intake, lifecycle and stats.
type Service struct {
	store      Store
	blobs      BlobStore
	dispatcher *Dispatcher
	logger     log.Logger
	metrics    *Metrics

	botUsername string

	now func() time.Time // swapped in tests
}

// NewService creates a new alert service.
func NewService(store Store, blobs BlobStore, dispatcher *Dispatcher, logger log.Logger, metrics *Metrics, botUsername string) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:       store,
		blobs:       blobs,
		dispatcher:  dispatcher,
		logger:      logger,
		metrics:     metrics,
		botUsername: botUsername,
		now:         time.Now,
	}
}

// Ingest validates an AIBox payload and materializes the alert with its
// dependent entities in one transactional unit. On success the security-role
// notification is enqueued before returning; delivery happens asynchronously
// and its outcome never affects intake.
func (s *Service) Ingest(ctx context.Context, req *IntakeRequest) (*Alert, error) {
	in, fe := parseIntake(req)
	if fe != nil {
		s.metrics.IngestsTotal.WithLabelValues("invalid").Inc()
		return nil, fe
	}

	device, ok, err := s.store.DeviceByAIBoxID(ctx, req.Device.ID)
	if err != nil {
		s.metrics.IngestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	if !ok {
		s.metrics.IngestsTotal.WithLabelValues("invalid").Inc()
		return nil, FieldErrors{"device": {"the referenced device was not found"}}
	}

	in.new.DeviceID = device.ID
	in.new.CompanyID = device.CompanyID

	created, err := s.store.CreateAlert(ctx, &in.new)
	if err != nil {
		if errors.Is(err, ErrDuplicateAlert) {
			s.metrics.IngestsTotal.WithLabelValues("duplicate").Inc()
			return nil, FieldErrors{"id": {"alert with this id already exists"}}
		}
		s.metrics.IngestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create alert: %w", err)
	}

	// Media is persisted and linked after the alert row exists.
	if err := s.saveMedia(ctx, created, in.image, in.video); err != nil {
		s.metrics.IngestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Record the executive set at creation, independent of later confirm/reject.
	executives, err := s.store.UsersByRole(ctx, created.CompanyID, RoleExecutive)
	if err != nil {
		s.metrics.IngestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("lookup executives: %w", err)
	}
	if len(executives) > 0 {
		ids := make([]int64, len(executives))
		for i := range executives {
			ids[i] = executives[i].ID
		}
		if err := s.store.SetExecutiveUsers(ctx, created.ID, ids); err != nil {
			s.metrics.IngestsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("set executive users: %w", err)
		}
		created.ExecutiveUserIDs = ids
	}

	s.metrics.IngestsTotal.WithLabelValues("created").Inc()
	s.logger.Info(ctx, "alert created",
		"alert_id", created.ID,
		"aibox_alert_id", created.AIBoxAlertID,
		"device_id", created.DeviceID,
		"company_id", created.CompanyID,
		"hazard_level", created.HazardLevel,
	)

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(created.ID, RoleSecurity)
	}

	return created, nil
}

func (s *Service) saveMedia(ctx context.Context, a *Alert, image, video []byte) error {
	var imagePath, videoPath string

	if len(image) > 0 {
		name := fmt.Sprintf("%s/alert_%s.jpg", imageDir, ulid.Make().String())
		p, err := s.blobs.Save(ctx, name, image)
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		imagePath = p
		s.metrics.MediaBytes.WithLabelValues("image").Observe(float64(len(image)))
	}
	if len(video) > 0 {
		name := fmt.Sprintf("%s/alert_%s.mp4", videoDir, ulid.Make().String())
		p, err := s.blobs.Save(ctx, name, video)
		if err != nil {
			return fmt.Errorf("save video: %w", err)
		}
		videoPath = p
		s.metrics.MediaBytes.WithLabelValues("video").Observe(float64(len(video)))
	}

	if imagePath == "" && videoPath == "" {
		return nil
	}

	if err := s.store.AttachMedia(ctx, a.ID, imagePath, videoPath); err != nil {
		return fmt.Errorf("attach media: %w", err)
	}
	a.ImagePath = imagePath
	a.VideoPath = videoPath
	return nil
}

// Action applies a confirm or reject to a pending alert. A second action on
// the same alert fails with ErrInvalidTransition rather than silently
// overwriting. On confirm the executive-role notification is enqueued; its
// delivery outcome is never surfaced to the caller.
func (s *Service) Action(ctx context.Context, alertID int64, action string, telegramID *int64) (*ActionResult, error) {
	var to Status
	switch action {
	case "confirm":
		to = StatusConfirmed
	case "reject":
		to = StatusRejected
	default:
		return nil, FieldErrors{"action": {"action must be 'confirm' or 'reject'"}}
	}

	var actorID *int64
	if telegramID != nil {
		actor, ok, err := s.store.UserByTelegramID(ctx, *telegramID)
		if err != nil {
			return nil, fmt.Errorf("lookup actor: %w", err)
		}
		if !ok {
			return nil, FieldErrors{"telegram_id": {"no user with this telegram id"}}
		}
		actorID = &actor.ID
	}

	updated, err := s.store.TransitionAlert(ctx, alertID, Transition{
		To:      to,
		ActorID: actorID,
		At:      s.now().UTC(),
	})
	if err != nil {
		s.metrics.TransitionsTotal.WithLabelValues(action, "error").Inc()
		return nil, err
	}
	s.metrics.TransitionsTotal.WithLabelValues(action, "ok").Inc()

	s.logger.Info(ctx, "alert "+string(to),
		"alert_id", updated.ID,
		"aibox_alert_id", updated.AIBoxAlertID,
	)

	res := &ActionResult{Alert: updated}

	if to == StatusConfirmed {
		executives, err := s.store.UsersByRole(ctx, updated.CompanyID, RoleExecutive)
		if err != nil {
			// The transition already committed; recipient lookup failure only
			// costs the notified-id list in the response.
			s.logger.Error(ctx, err, "failed to list executives after confirm", "alert_id", updated.ID)
		} else {
			for i := range executives {
				if executives[i].Addressable() {
					res.Notified = append(res.Notified, *executives[i].TelegramID)
				}
			}
		}
		if s.dispatcher != nil {
			s.dispatcher.Enqueue(updated.ID, RoleExecutive)
		}
	}

	return res, nil
}

// Alert retrieves an alert by its internal id.
func (s *Service) Alert(ctx context.Context, id int64) (*Alert, bool, error) {
	return s.store.AlertByID(ctx, id)
}

// Stats aggregates alerts either over an explicit inclusive date range
// (YYYY-MM-DD) or over a trailing window named by period.
func (s *Service) Stats(ctx context.Context, period, startDate, endDate string) (*Stats, error) {
	from, to, window, fe := s.statsRange(period, startDate, endDate)
	if fe != nil {
		return nil, fe
	}

	s.metrics.StatsTotal.WithLabelValues(window).Inc()

	stats, err := s.store.Stats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}

const statsDateFormat = "2006-01-02"

func (s *Service) statsRange(period, startDate, endDate string) (from, to *time.Time, window string, fe FieldErrors) {
	if startDate != "" || endDate != "" {
		fe = FieldErrors{}
		if startDate == "" {
			fe.Add("start_date", "start_date is required when end_date is given")
		}
		if endDate == "" {
			fe.Add("end_date", "end_date is required when start_date is given")
		}

		var start, end time.Time
		var err error
		if startDate != "" {
			start, err = time.Parse(statsDateFormat, startDate)
			if err != nil {
				fe.Add("start_date", "invalid date format, expected YYYY-MM-DD")
			}
		}
		if endDate != "" {
			end, err = time.Parse(statsDateFormat, endDate)
			if err != nil {
				fe.Add("end_date", "invalid date format, expected YYYY-MM-DD")
			}
		}
		if len(fe) > 0 {
			return nil, nil, "", fe
		}

		// Inclusive of both end dates.
		endExcl := end.AddDate(0, 0, 1)
		return &start, &endExcl, "range", nil
	}

	now := s.now().UTC()
	switch period {
	case "", "all":
		return nil, nil, "all", nil
	case "day":
		f := now.Add(-24 * time.Hour)
		return &f, nil, "day", nil
	case "week":
		f := now.Add(-7 * 24 * time.Hour)
		return &f, nil, "week", nil
	case "month":
		f := now.Add(-30 * 24 * time.Hour)
		return &f, nil, "month", nil
	default:
		return nil, nil, "", FieldErrors{"period": {"period must be one of all, day, week, month"}}
	}
}

// TelegramLink rotates the user's single-use link token and returns the deep
// link that starts the bot registration flow.
func (s *Service) TelegramLink(ctx context.Context, userID int64) (string, error) {
	_, ok, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return "", ErrUserNotFound
	}

	token := ulid.Make().String()
	if err := s.store.SetTelegramToken(ctx, userID, &token); err != nil {
		return "", fmt.Errorf("set telegram token: %w", err)
	}

	return fmt.Sprintf("https://t.me/%s?start=register_%s", s.botUsername, token), nil
}

// RegisterTelegram consumes a link token and binds the telegram id to the
// owning user.
func (s *Service) RegisterTelegram(ctx context.Context, telegramID int64, token string) (*User, error) {
	if token == "" || telegramID == 0 {
		fe := FieldErrors{}
		if telegramID == 0 {
			fe.Add("telegram_id", "this field is required")
		}
		if token == "" {
			fe.Add("token", "this field is required")
		}
		return nil, fe
	}

	user, err := s.store.BindTelegram(ctx, token, telegramID)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, FieldErrors{"token": {"invalid or expired token"}}
		}
		return nil, fmt.Errorf("bind telegram: %w", err)
	}

	s.logger.Info(ctx, "telegram account linked", "user_id", user.ID)
	return user, nil
}
