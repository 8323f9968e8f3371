// Package memstore provides an in-memory implementation of alert.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

// Store holds all entities in memory. Suitable for dev/testing. The single
// mutex makes every operation, including CreateAlert's get-or-create chain,
// trivially atomic.
type Store struct {
	mu sync.RWMutex

	companies  map[int64]*alert.Company
	devices    map[int64]*alert.Device
	sources    map[int64]*alert.Source
	algorithms map[int64]*alert.Algorithm
	users      map[int64]*alert.User
	alerts     map[int64]*alert.Alert

	alertsByExternalID map[string]int64

	nextID int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		companies:          make(map[int64]*alert.Company),
		devices:            make(map[int64]*alert.Device),
		sources:            make(map[int64]*alert.Source),
		algorithms:         make(map[int64]*alert.Algorithm),
		users:              make(map[int64]*alert.User),
		alerts:             make(map[int64]*alert.Alert),
		alertsByExternalID: make(map[string]int64),
	}
}

func (s *Store) nextSeq() int64 {
	s.nextID++
	return s.nextID
}

// CreateCompany stores a company, assigning its id.
func (s *Store) CreateCompany(_ context.Context, c *alert.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextSeq()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

// CreateDevice stores a device, assigning its id.
func (s *Store) CreateDevice(_ context.Context, d *alert.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextSeq()
	cp := *d
	s.devices[d.ID] = &cp
	return nil
}

// CreateUser validates and stores a user, assigning its id.
func (s *Store) CreateUser(_ context.Context, u *alert.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextSeq()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// DeviceByAIBoxID retrieves a device by its external id. Returns a copy.
func (s *Store) DeviceByAIBoxID(_ context.Context, aiboxID string) (*alert.Device, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.AIBoxID == aiboxID {
			cp := *d
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// CreateAlert resolves source and algorithm (get-or-create) and inserts the
// alert, all under one lock.
func (s *Store) CreateAlert(_ context.Context, na *alert.NewAlert) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alertsByExternalID[na.AIBoxAlertID]; exists {
		return nil, alert.ErrDuplicateAlert
	}

	var sourceID *int64
	if na.Source != nil {
		id := s.getOrCreateSource(na.DeviceID, na.Source)
		sourceID = &id
	}

	var algorithmID *int64
	if na.Algorithm != nil {
		id := s.getOrCreateAlgorithm(na.Algorithm)
		algorithmID = &id
	}

	a := &alert.Alert{
		ID:           s.nextSeq(),
		AIBoxAlertID: na.AIBoxAlertID,
		AlertTime:    na.AlertTime,
		DeviceID:     na.DeviceID,
		SourceID:     sourceID,
		AlgorithmID:  algorithmID,
		HazardLevel:  na.HazardLevel,
		CompanyID:    na.CompanyID,
		ReservedData: na.ReservedData,
		Status:       alert.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	s.alerts[a.ID] = a
	s.alertsByExternalID[a.AIBoxAlertID] = a.ID

	cp := *a
	return &cp, nil
}

func (s *Store) getOrCreateSource(deviceID int64, ns *alert.NewSource) int64 {
	for _, src := range s.sources {
		if src.DeviceID == deviceID && src.SourceID == ns.SourceID {
			return src.ID
		}
	}
	src := &alert.Source{
		ID:       s.nextSeq(),
		DeviceID: deviceID,
		SourceID: ns.SourceID,
		IPv4:     ns.IPv4,
		Desc:     ns.Desc,
	}
	s.sources[src.ID] = src
	return src.ID
}

func (s *Store) getOrCreateAlgorithm(na *alert.NewAlgorithm) int64 {
	for _, alg := range s.algorithms {
		if alg.Key == na.Key {
			return alg.ID
		}
	}
	alg := &alert.Algorithm{
		ID:   s.nextSeq(),
		Key:  na.Key,
		Name: na.Name,
		Type: na.Type,
	}
	s.algorithms[alg.ID] = alg
	return alg.ID
}

// AttachMedia links media paths to an existing alert.
func (s *Store) AttachMedia(_ context.Context, alertID int64, imagePath, videoPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return alert.ErrAlertNotFound
	}
	if imagePath != "" {
		a.ImagePath = imagePath
	}
	if videoPath != "" {
		a.VideoPath = videoPath
	}
	return nil
}

// SetExecutiveUsers records the executive notification set for an alert.
func (s *Store) SetExecutiveUsers(_ context.Context, alertID int64, userIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return alert.ErrAlertNotFound
	}
	a.ExecutiveUserIDs = append([]int64(nil), userIDs...)
	return nil
}

// AlertByID retrieves an alert by its internal id. Returns a copy.
func (s *Store) AlertByID(_ context.Context, id int64) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// AlertView loads an alert joined with its device, source, algorithm and company.
func (s *Store) AlertView(_ context.Context, id int64) (*alert.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}

	cp := *a
	view := &alert.View{Alert: &cp}

	if d, ok := s.devices[a.DeviceID]; ok {
		dc := *d
		view.Device = &dc
	}
	if c, ok := s.companies[a.CompanyID]; ok {
		cc := *c
		view.Company = &cc
	}
	if a.SourceID != nil {
		if src, ok := s.sources[*a.SourceID]; ok {
			sc := *src
			view.Source = &sc
		}
	}
	if a.AlgorithmID != nil {
		if alg, ok := s.algorithms[*a.AlgorithmID]; ok {
			ac := *alg
			view.Algorithm = &ac
		}
	}
	return view, nil
}

// TransitionAlert applies a confirm/reject under the pending guard.
func (s *Store) TransitionAlert(_ context.Context, alertID int64, tr alert.Transition) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}
	if a.Status != alert.StatusPending {
		return nil, alert.ErrInvalidTransition
	}

	at := tr.At
	a.Status = tr.To
	switch tr.To {
	case alert.StatusConfirmed:
		a.ConfirmedBy = tr.ActorID
		a.ConfirmedAt = &at
	case alert.StatusRejected:
		a.RejectedBy = tr.ActorID
		a.RejectedAt = &at
	default:
		return nil, alert.ErrInvalidTransition
	}

	cp := *a
	return &cp, nil
}

// UsersByRole lists active users of a company holding the given role.
func (s *Store) UsersByRole(_ context.Context, companyID int64, role alert.Role) ([]alert.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []alert.User
	for _, u := range s.users {
		if u.IsActive && u.Role == role && u.CompanyID != nil && *u.CompanyID == companyID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UserByID retrieves a user by id. Returns a copy.
func (s *Store) UserByID(_ context.Context, id int64) (*alert.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

// UserByTelegramID retrieves a user by telegram id. Returns a copy.
func (s *Store) UserByTelegramID(_ context.Context, telegramID int64) (*alert.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			cp := *u
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// SetTelegramToken rotates or clears a user's link token.
func (s *Store) SetTelegramToken(_ context.Context, userID int64, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return alert.ErrUserNotFound
	}
	u.TelegramToken = token
	return nil
}

// BindTelegram consumes a link token and binds the telegram id.
func (s *Store) BindTelegram(_ context.Context, token string, telegramID int64) (*alert.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TelegramToken != nil && *u.TelegramToken == token {
			tid := telegramID
			u.TelegramID = &tid
			u.TelegramToken = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, alert.ErrInvalidToken
}

// Stats aggregates alerts with alert_time in [from, to).
func (s *Store) Stats(_ context.Context, from, to *time.Time) (*alert.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		total     int
		confirmed int
	}
	byAlg := make(map[string]*bucket)

	stats := &alert.Stats{}
	for _, a := range s.alerts {
		if from != nil && a.AlertTime.Before(*from) {
			continue
		}
		if to != nil && !a.AlertTime.Before(*to) {
			continue
		}

		stats.Total++
		confirmed := a.Status == alert.StatusConfirmed
		if confirmed {
			stats.Confirmed++
		}

		name := ""
		if a.AlgorithmID != nil {
			if alg, ok := s.algorithms[*a.AlgorithmID]; ok {
				name = alg.Name
			}
		}
		b := byAlg[name]
		if b == nil {
			b = &bucket{}
			byAlg[name] = b
		}
		b.total++
		if confirmed {
			b.confirmed++
		}
	}

	for name, b := range byAlg {
		stats.Algorithms = append(stats.Algorithms, alert.AlgorithmStats{
			Name:      name,
			Total:     b.total,
			Confirmed: b.confirmed,
		})
	}
	sort.Slice(stats.Algorithms, func(i, j int) bool {
		if stats.Algorithms[i].Total != stats.Algorithms[j].Total {
			return stats.Algorithms[i].Total > stats.Algorithms[j].Total
		}
		return stats.Algorithms[i].Name < stats.Algorithms[j].Name
	})

	return stats, nil
}
