package alert

import (
	"context"
	"encoding/json"
	"time"
)

// NewAlert is the resolved, validated input to Store.CreateAlert. Source and
// Algorithm are get-or-create descriptors; the store resolves them inside the
// same transaction as the alert row.
type NewAlert struct {
	AIBoxAlertID string
	AlertTime    time.Time
	DeviceID     int64
	CompanyID    int64
	Source       *NewSource
	Algorithm    *NewAlgorithm
	HazardLevel  string
	ReservedData json.RawMessage
}

// NewSource describes a source to resolve-or-create, scoped to the device.
type NewSource struct {
	SourceID string
	IPv4     string
	Desc     string
}

// NewAlgorithm describes an algorithm to resolve-or-create by key.
type NewAlgorithm struct {
	Key  string
	Name string
	Type string
}

// Transition is a requested status change applied under the pending guard.
type Transition struct {
	To      Status
	ActorID *int64
	At      time.Time
}

// Store is the persistence interface for the alert pipeline.
//
// CreateAlert is the single atomic unit of intake: source and algorithm
// get-or-create plus the alert insert either all commit or all roll back.
// TransitionAlert must apply the pending check and the update atomically so
// concurrent confirm/reject calls cannot both pass it.
type Store interface {
	// Entity provisioning (no HTTP surface; used by seeding and tests).
	CreateCompany(ctx context.Context, c *Company) error
	CreateDevice(ctx context.Context, d *Device) error
	CreateUser(ctx context.Context, u *User) error

	DeviceByAIBoxID(ctx context.Context, aiboxID string) (*Device, bool, error)

	// CreateAlert atomically resolves dependents and inserts the alert.
	// Returns ErrDuplicateAlert when the external id is taken.
	CreateAlert(ctx context.Context, na *NewAlert) (*Alert, error)

	// AttachMedia links persisted media paths to an existing alert.
	AttachMedia(ctx context.Context, alertID int64, imagePath, videoPath string) error

	// SetExecutiveUsers records the executive notification set for an alert.
	SetExecutiveUsers(ctx context.Context, alertID int64, userIDs []int64) error

	AlertByID(ctx context.Context, id int64) (*Alert, bool, error)

	// AlertView loads an alert with its device, source, algorithm and company.
	AlertView(ctx context.Context, id int64) (*View, error)

	// TransitionAlert moves a pending alert to a terminal status. Returns
	// ErrAlertNotFound or ErrInvalidTransition (already terminal).
	TransitionAlert(ctx context.Context, alertID int64, tr Transition) (*Alert, error)

	// UsersByRole lists active users of a company holding the given role.
	UsersByRole(ctx context.Context, companyID int64, role Role) ([]User, error)

	UserByID(ctx context.Context, id int64) (*User, bool, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*User, bool, error)

	// SetTelegramToken rotates (or clears, with nil) a user's link token.
	SetTelegramToken(ctx context.Context, userID int64, token *string) error

	// BindTelegram consumes a link token: sets the telegram id on the owning
	// user and clears the token. Returns ErrInvalidToken for unknown tokens.
	BindTelegram(ctx context.Context, token string, telegramID int64) (*User, error)

	// Stats aggregates alerts with alert_time in [from, to). Nil bounds are
	// open-ended.
	Stats(ctx context.Context, from, to *time.Time) (*Stats, error)
}
