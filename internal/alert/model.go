package alert

import (
	"encoding/json"
	"time"
)

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusPending means reported by a device, awaiting review
	StatusPending Status = "pending"

	// StatusConfirmed means a security operator confirmed the hazard (terminal)
	StatusConfirmed Status = "confirmed"

	// StatusRejected means a security operator dismissed the hazard (terminal)
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Role is a user's notification role within their company. A user holds at
// most one role, which makes the security/executive exclusivity structural
// rather than a write-time check.
type Role string

const (
	RoleNone      Role = ""
	RoleSecurity  Role = "security"
	RoleExecutive Role = "executive"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleNone || r == RoleSecurity || r == RoleExecutive
}

// Company owns devices and users.
type Company struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Device is a registered AIBox edge unit.
type Device struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"-"`
	AIBoxID   string `json:"aibox_id"`
	Name      string `json:"name"`
	Desc      string `json:"desc"`
}

// Source is a camera/feed identifier scoped to a device.
// (device_id, source_id) pairs are unique.
type Source struct {
	ID       int64  `json:"id"`
	DeviceID int64  `json:"device"`
	SourceID string `json:"source_id"`
	IPv4     string `json:"ipv4"`
	Desc     string `json:"desc"`
}

// Algorithm is the detection model that triggered an alert. Created lazily
// on first reference; key is globally unique.
type Algorithm struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// User is a person addressable through the messaging bot. TelegramID, Email
// and TelegramToken are nullable and unique when set.
type User struct {
	ID            int64      `json:"id"`
	TelegramID    *int64     `json:"telegram_id,omitempty"`
	Email         *string    `json:"email,omitempty"`
	FullName      string     `json:"full_name"`
	CompanyID     *int64     `json:"company,omitempty"`
	Role          Role       `json:"role"`
	TelegramToken *string    `json:"-"`
	IsStaff       bool       `json:"is_staff"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validate checks the invariants a user record must satisfy before a write.
func (u *User) Validate() error {
	if u.TelegramID == nil && u.Email == nil {
		return ErrUserUnaddressable
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Addressable reports whether the user can receive bot notifications.
func (u *User) Addressable() bool {
	return u.TelegramID != nil
}

// Alert is a single hazard event reported by an edge device. The external
// AIBoxAlertID is immutable and globally unique; CompanyID is derived from
// the device once at creation and never re-derived.
type Alert struct {
	ID           int64           `json:"id"`
	AIBoxAlertID string          `json:"aibox_alert_id"`
	AlertTime    time.Time       `json:"alert_time"`
	DeviceID     int64           `json:"-"`
	SourceID     *int64          `json:"-"`
	AlgorithmID  *int64          `json:"-"`
	HazardLevel  string          `json:"hazard_level"`
	CompanyID    int64           `json:"-"`
	ImagePath    string          `json:"image,omitempty"`
	VideoPath    string          `json:"video,omitempty"`
	ReservedData json.RawMessage `json:"reserved_data,omitempty"`
	Status       Status          `json:"status"`
	ConfirmedBy  *int64          `json:"confirmed_by,omitempty"`
	ConfirmedAt  *time.Time      `json:"confirmed_at,omitempty"`
	RejectedBy   *int64          `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time      `json:"rejected_at,omitempty"`

	// ExecutiveUserIDs is the set of executive-role users recorded at
	// creation, independent of whether the alert is later confirmed.
	ExecutiveUserIDs []int64 `json:"executive_users,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// View is an alert joined with the entities it references, as serialized
// toward the bot and API consumers.
type View struct {
	Alert     *Alert
	Device    *Device
	Source    *Source    // nil when the alert has no source
	Algorithm *Algorithm // nil when the alert has no algorithm
	Company   *Company
}

// Stats is a time-windowed aggregate over alerts.
type Stats struct {
	Total      int              `json:"total"`
	Confirmed  int              `json:"confirmed"`
	Algorithms []AlgorithmStats `json:"algorithms"`
}

// AlgorithmStats is a per-algorithm breakdown row. Name is empty for alerts
// without an algorithm reference.
type AlgorithmStats struct {
	Name      string `json:"alg_name"`
	Total     int    `json:"total"`
	Confirmed int    `json:"confirmed"`
}
