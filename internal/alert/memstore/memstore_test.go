package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

func seedCompanyDevice(t *testing.T, s *Store) (*alert.Company, *alert.Device) {
	t.Helper()
	ctx := context.Background()
	c := &alert.Company{Name: "Acme"}
	if err := s.CreateCompany(ctx, c); err != nil {
		t.Fatalf("create company: %v", err)
	}
	d := &alert.Device{CompanyID: c.ID, AIBoxID: "DEV1", Name: "gate cam"}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	return c, d
}

func newAlertAt(d *alert.Device, externalID string, at time.Time) *alert.NewAlert {
	return &alert.NewAlert{
		AIBoxAlertID: externalID,
		AlertTime:    at,
		DeviceID:     d.ID,
		CompanyID:    d.CompanyID,
		Source:       &alert.NewSource{SourceID: "cam-2", IPv4: "10.0.0.2"},
		Algorithm:    &alert.NewAlgorithm{Key: "intrusion", Name: "Intrusion"},
		HazardLevel:  "3",
	}
}

func TestCreateAlert_GetOrCreateChain(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)

	a1, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create first alert: %v", err)
	}
	a2, err := s.CreateAlert(ctx, newAlertAt(d, "A2", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create second alert: %v", err)
	}

	if a1.SourceID == nil || a2.SourceID == nil || *a1.SourceID != *a2.SourceID {
		t.Errorf("source ids = %v, %v, want shared source row", a1.SourceID, a2.SourceID)
	}
	if a1.AlgorithmID == nil || a2.AlgorithmID == nil || *a1.AlgorithmID != *a2.AlgorithmID {
		t.Errorf("algorithm ids = %v, %v, want shared algorithm row", a1.AlgorithmID, a2.AlgorithmID)
	}
	if a1.Status != alert.StatusPending {
		t.Errorf("status = %q, want pending", a1.Status)
	}
}

func TestCreateAlert_DuplicateExternalID(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)

	if _, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC())); err != alert.ErrDuplicateAlert {
		t.Errorf("duplicate create = %v, want ErrDuplicateAlert", err)
	}
}

func TestCreateAlert_SourceScopedToDevice(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c, d1 := seedCompanyDevice(t, s)
	d2 := &alert.Device{CompanyID: c.ID, AIBoxID: "DEV2"}
	if err := s.CreateDevice(ctx, d2); err != nil {
		t.Fatalf("create device: %v", err)
	}

	a1, err := s.CreateAlert(ctx, newAlertAt(d1, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a2, err := s.CreateAlert(ctx, newAlertAt(d2, "A2", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same source_id string on different devices must not collapse into one row.
	if *a1.SourceID == *a2.SourceID {
		t.Errorf("source id %d shared across devices", *a1.SourceID)
	}
}

func TestAttachMedia(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)
	a, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AttachMedia(ctx, a.ID, "alerts/images/x.jpg", ""); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, ok, err := s.AlertByID(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("reload: %v, %v", ok, err)
	}
	if got.ImagePath != "alerts/images/x.jpg" || got.VideoPath != "" {
		t.Errorf("media = %q/%q, want image only", got.ImagePath, got.VideoPath)
	}

	if err := s.AttachMedia(ctx, 9999, "x", ""); err != alert.ErrAlertNotFound {
		t.Errorf("attach to missing alert = %v, want ErrAlertNotFound", err)
	}
}

func TestTransitionAlert_PendingGuard(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)
	a, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	actor := int64(7)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := s.TransitionAlert(ctx, a.ID, alert.Transition{To: alert.StatusConfirmed, ActorID: &actor, At: at})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != alert.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", got.Status)
	}
	if got.ConfirmedBy == nil || *got.ConfirmedBy != actor {
		t.Errorf("confirmed_by = %v, want %d", got.ConfirmedBy, actor)
	}
	if got.ConfirmedAt == nil || !got.ConfirmedAt.Equal(at) {
		t.Errorf("confirmed_at = %v, want %v", got.ConfirmedAt, at)
	}

	if _, err := s.TransitionAlert(ctx, a.ID, alert.Transition{To: alert.StatusRejected, At: at}); err != alert.ErrInvalidTransition {
		t.Errorf("second transition = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.TransitionAlert(ctx, 9999, alert.Transition{To: alert.StatusConfirmed, At: at}); err != alert.ErrAlertNotFound {
		t.Errorf("missing alert = %v, want ErrAlertNotFound", err)
	}
}

func TestAlertView_JoinsRelations(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c, d := seedCompanyDevice(t, s)
	a, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v, err := s.AlertView(ctx, a.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Device == nil || v.Device.AIBoxID != "DEV1" {
		t.Errorf("device = %+v, want DEV1", v.Device)
	}
	if v.Company == nil || v.Company.ID != c.ID {
		t.Errorf("company = %+v, want id %d", v.Company, c.ID)
	}
	if v.Source == nil || v.Source.SourceID != "cam-2" {
		t.Errorf("source = %+v, want cam-2", v.Source)
	}
	if v.Algorithm == nil || v.Algorithm.Key != "intrusion" {
		t.Errorf("algorithm = %+v, want intrusion", v.Algorithm)
	}

	if _, err := s.AlertView(ctx, 9999); err != alert.ErrAlertNotFound {
		t.Errorf("missing view = %v, want ErrAlertNotFound", err)
	}
}

func TestUsersByRole_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c, _ := seedCompanyDevice(t, s)
	other := &alert.Company{Name: "Other"}
	if err := s.CreateCompany(ctx, other); err != nil {
		t.Fatalf("create company: %v", err)
	}

	mk := func(companyID int64, role alert.Role, tg int64, active bool) {
		t.Helper()
		tid := tg
		cid := companyID
		u := &alert.User{TelegramID: &tid, CompanyID: &cid, Role: role, IsActive: active}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	mk(c.ID, alert.RoleSecurity, 100, true)
	mk(c.ID, alert.RoleSecurity, 200, true)
	mk(c.ID, alert.RoleSecurity, 300, false)    // inactive
	mk(c.ID, alert.RoleExecutive, 400, true)    // wrong role
	mk(other.ID, alert.RoleSecurity, 500, true) // wrong company

	got, err := s.UsersByRole(ctx, c.ID, alert.RoleSecurity)
	if err != nil {
		t.Fatalf("UsersByRole: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d users, want 2", len(got))
	}
	if got[0].ID > got[1].ID {
		t.Errorf("users not sorted by id: %d, %d", got[0].ID, got[1].ID)
	}
}

func TestBindTelegram_SingleUse(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c, _ := seedCompanyDevice(t, s)

	email := "exec@acme.example"
	cid := c.ID
	u := &alert.User{Email: &email, CompanyID: &cid, Role: alert.RoleExecutive, IsActive: true}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	token := "tok-abc"
	if err := s.SetTelegramToken(ctx, u.ID, &token); err != nil {
		t.Fatalf("set token: %v", err)
	}

	bound, err := s.BindTelegram(ctx, token, 31337)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if bound.ID != u.ID || bound.TelegramID == nil || *bound.TelegramID != 31337 {
		t.Errorf("bound = %+v, want user %d with telegram 31337", bound, u.ID)
	}

	// Token is consumed on bind.
	if _, err := s.BindTelegram(ctx, token, 999); err != alert.ErrInvalidToken {
		t.Errorf("reuse = %v, want ErrInvalidToken", err)
	}

	if err := s.SetTelegramToken(ctx, 9999, &token); err != alert.ErrUserNotFound {
		t.Errorf("set token for missing user = %v, want ErrUserNotFound", err)
	}
}

func TestStats_WindowAndGrouping(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mk := func(externalID, algKey, algName string, at time.Time, confirm bool) {
		t.Helper()
		na := newAlertAt(d, externalID, at)
		na.Algorithm = &alert.NewAlgorithm{Key: algKey, Name: algName}
		a, err := s.CreateAlert(ctx, na)
		if err != nil {
			t.Fatalf("create %s: %v", externalID, err)
		}
		if confirm {
			if _, err := s.TransitionAlert(ctx, a.ID, alert.Transition{To: alert.StatusConfirmed, At: at}); err != nil {
				t.Fatalf("confirm %s: %v", externalID, err)
			}
		}
	}

	mk("A1", "intrusion", "Intrusion", base, true)
	mk("A2", "intrusion", "Intrusion", base.Add(time.Hour), false)
	mk("A3", "fire", "Fire", base.Add(2*time.Hour), true)
	mk("A4", "fire", "Fire", base.AddDate(0, 1, 0), false) // outside window

	to := base.AddDate(0, 0, 7)
	stats, err := s.Stats(ctx, &base, &to)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.Total != 3 || stats.Confirmed != 2 {
		t.Errorf("totals = %d/%d, want 3/2", stats.Total, stats.Confirmed)
	}
	if len(stats.Algorithms) != 2 {
		t.Fatalf("algorithms = %+v, want 2 groups", stats.Algorithms)
	}
	// Descending by total, then name.
	if stats.Algorithms[0].Name != "Intrusion" || stats.Algorithms[0].Total != 2 || stats.Algorithms[0].Confirmed != 1 {
		t.Errorf("first group = %+v, want Intrusion 2/1", stats.Algorithms[0])
	}
	if stats.Algorithms[1].Name != "Fire" || stats.Algorithms[1].Total != 1 || stats.Algorithms[1].Confirmed != 1 {
		t.Errorf("second group = %+v, want Fire 1/1", stats.Algorithms[1])
	}
}

func TestStats_BoundsAreHalfOpen(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id string
		at time.Time
	}{
		{"before", from.Add(-time.Second)},
		{"at-from", from},
		{"inside", from.Add(12 * time.Hour)},
		{"at-to", to},
	} {
		if _, err := s.CreateAlert(ctx, newAlertAt(d, tc.id, tc.at)); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}

	stats, err := s.Stats(ctx, &from, &to)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2 (from inclusive, to exclusive)", stats.Total)
	}

	open, err := s.Stats(ctx, nil, nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if open.Total != 4 {
		t.Errorf("open-range total = %d, want 4", open.Total)
	}
}

func TestReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, d := seedCompanyDevice(t, s)
	a, err := s.CreateAlert(ctx, newAlertAt(d, "A1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	a.HazardLevel = "tampered"

	got, ok, err := s.AlertByID(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("reload: %v, %v", ok, err)
	}
	if got.HazardLevel != "3" {
		t.Errorf("stored alert mutated through returned copy: hazard = %q", got.HazardLevel)
	}
}
