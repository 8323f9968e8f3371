package alert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for store and lifecycle operations. HTTP handlers map
// these onto response codes; everything else is an internal error.
var (
	// ErrDuplicateAlert means an alert with the same external id already exists.
	ErrDuplicateAlert = errors.New("alert with this id already exists")

	// ErrAlertNotFound means the referenced alert does not exist.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrDeviceNotFound means the intake payload referenced an unknown device.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUserNotFound means the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidTransition means the alert is already in a terminal status.
	ErrInvalidTransition = errors.New("alert is not pending")

	// ErrInvalidToken means the telegram link token is unknown or already used.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrUserUnaddressable means a user has neither a telegram id nor an email.
	ErrUserUnaddressable = errors.New("user must have a telegram id or an email")

	// ErrInvalidRole means a user carries an unknown role value.
	ErrInvalidRole = errors.New("unknown role")
)

// FieldErrors maps payload field names to validation messages, in the shape
// the device firmware expects back under the response "data" key.
type FieldErrors map[string][]string

// Add appends a message for a field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Error implements error with a deterministic field ordering.
func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed")
	for _, f := range fields {
		fmt.Fprintf(&b, "; %s: %s", f, strings.Join(fe[f], ", "))
	}
	return b.String()
}

// AsFieldErrors unwraps err into FieldErrors if it is one.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
