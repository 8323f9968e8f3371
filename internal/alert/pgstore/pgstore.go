// Package pgstore provides a PostgreSQL implementation of alert.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/alert/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// Store persists the alert pipeline entities in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CreateCompany inserts a company and fills in its id and created_at.
func (s *Store) CreateCompany(ctx context.Context, c *alert.Company) error {
	ctx, span := startSpan(ctx, "pgstore.CreateCompany", "INSERT")
	defer span.End()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, description) VALUES ($1, $2) RETURNING id, created_at`,
		c.Name, c.Description,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert company: %w", err))
	}
	return nil
}

// CreateDevice inserts a device and fills in its id.
func (s *Store) CreateDevice(ctx context.Context, d *alert.Device) error {
	ctx, span := startSpan(ctx, "pgstore.CreateDevice", "INSERT")
	defer span.End()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO devices (company_id, aibox_id, name, "desc") VALUES ($1, $2, $3, $4) RETURNING id`,
		d.CompanyID, d.AIBoxID, d.Name, d.Desc,
	).Scan(&d.ID)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert device: %w", err))
	}
	return nil
}

// CreateUser validates and inserts a user, filling in its id and created_at.
func (s *Store) CreateUser(ctx context.Context, u *alert.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	ctx, span := startSpan(ctx, "pgstore.CreateUser", "INSERT")
	defer span.End()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, email, full_name, company_id, role, is_staff, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		u.TelegramID, u.Email, u.FullName, u.CompanyID, string(u.Role), u.IsStaff, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert user: %w", err))
	}
	return nil
}

// DeviceByAIBoxID retrieves a device by its external id.
func (s *Store) DeviceByAIBoxID(ctx context.Context, aiboxID string) (*alert.Device, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.DeviceByAIBoxID", "SELECT")
	defer span.End()

	var d alert.Device
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, aibox_id, name, "desc" FROM devices WHERE aibox_id = $1`,
		aiboxID,
	).Scan(&d.ID, &d.CompanyID, &d.AIBoxID, &d.Name, &d.Desc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("select device: %w", err))
	}
	return &d, true, nil
}

// CreateAlert resolves source and algorithm via unique-constraint-backed
// upserts and inserts the alert row, all in one transaction. Concurrent
// intake of the same new source or algorithm serializes on the constraints
// instead of racing a check-then-insert.
func (s *Store) CreateAlert(ctx context.Context, na *alert.NewAlert) (*alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.CreateAlert", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var sourceID *int64
	if na.Source != nil {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO sources (device_id, source_id, ipv4, "desc")
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (device_id, source_id) DO UPDATE SET source_id = EXCLUDED.source_id
			 RETURNING id`,
			na.DeviceID, na.Source.SourceID, na.Source.IPv4, na.Source.Desc,
		).Scan(&id)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("upsert source: %w", err))
		}
		sourceID = &id
	}

	var algorithmID *int64
	if na.Algorithm != nil {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO algorithms (key, name, type)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
			 RETURNING id`,
			na.Algorithm.Key, na.Algorithm.Name, na.Algorithm.Type,
		).Scan(&id)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("upsert algorithm: %w", err))
		}
		algorithmID = &id
	}

	a := &alert.Alert{
		AIBoxAlertID: na.AIBoxAlertID,
		AlertTime:    na.AlertTime,
		DeviceID:     na.DeviceID,
		SourceID:     sourceID,
		AlgorithmID:  algorithmID,
		HazardLevel:  na.HazardLevel,
		CompanyID:    na.CompanyID,
		ReservedData: na.ReservedData,
		Status:       alert.StatusPending,
	}

	var reserved []byte
	if len(na.ReservedData) > 0 {
		reserved = na.ReservedData
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO alerts (aibox_alert_id, alert_time, device_id, source_id, algorithm_id,
		                     hazard_level, company_id, reserved_data, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		a.AIBoxAlertID, a.AlertTime, a.DeviceID, a.SourceID, a.AlgorithmID,
		a.HazardLevel, a.CompanyID, reserved, string(a.Status),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, alert.ErrDuplicateAlert
		}
		return nil, spanErr(span, fmt.Errorf("insert alert: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return a, nil
}

// AttachMedia links persisted media paths to an alert.
func (s *Store) AttachMedia(ctx context.Context, alertID int64, imagePath, videoPath string) error {
	ctx, span := startSpan(ctx, "pgstore.AttachMedia", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts
		 SET image_path = CASE WHEN $2 <> '' THEN $2 ELSE image_path END,
		     video_path = CASE WHEN $3 <> '' THEN $3 ELSE video_path END
		 WHERE id = $1`,
		alertID, imagePath, videoPath,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update media: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return alert.ErrAlertNotFound
	}
	return nil
}

// SetExecutiveUsers replaces the executive notification set for an alert.
func (s *Store) SetExecutiveUsers(ctx context.Context, alertID int64, userIDs []int64) error {
	ctx, span := startSpan(ctx, "pgstore.SetExecutiveUsers", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `DELETE FROM alert_executive_users WHERE alert_id = $1`, alertID); err != nil {
		return spanErr(span, fmt.Errorf("clear executive users: %w", err))
	}
	for _, uid := range userIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO alert_executive_users (alert_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			alertID, uid,
		); err != nil {
			return spanErr(span, fmt.Errorf("insert executive user %d: %w", uid, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const alertColumns = `id, aibox_alert_id, alert_time, device_id, source_id, algorithm_id,
	hazard_level, company_id, image_path, video_path, reserved_data, status,
	confirmed_by, confirmed_at, rejected_by, rejected_at, created_at`

// AlertByID retrieves an alert by its internal id, with its executive set.
func (s *Store) AlertByID(ctx context.Context, id int64) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.AlertByID", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if a == nil {
		return nil, false, nil
	}
	if err := s.loadExecutiveUsers(ctx, a); err != nil {
		return nil, false, spanErr(span, err)
	}
	return a, true, nil
}

// AlertView loads an alert joined with its device, source, algorithm and company.
func (s *Store) AlertView(ctx context.Context, id int64) (*alert.View, error) {
	ctx, span := startSpan(ctx, "pgstore.AlertView", "SELECT")
	defer span.End()

	a, ok, err := s.AlertByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alert.ErrAlertNotFound
	}

	view := &alert.View{Alert: a}

	var d alert.Device
	err = s.pool.QueryRow(ctx,
		`SELECT id, company_id, aibox_id, name, "desc" FROM devices WHERE id = $1`, a.DeviceID,
	).Scan(&d.ID, &d.CompanyID, &d.AIBoxID, &d.Name, &d.Desc)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("select device: %w", err))
	}
	view.Device = &d

	var c alert.Company
	err = s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM companies WHERE id = $1`, a.CompanyID,
	).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("select company: %w", err))
	}
	view.Company = &c

	if a.SourceID != nil {
		var src alert.Source
		err = s.pool.QueryRow(ctx,
			`SELECT id, device_id, source_id, ipv4, "desc" FROM sources WHERE id = $1`, *a.SourceID,
		).Scan(&src.ID, &src.DeviceID, &src.SourceID, &src.IPv4, &src.Desc)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("select source: %w", err))
		}
		view.Source = &src
	}

	if a.AlgorithmID != nil {
		var alg alert.Algorithm
		err = s.pool.QueryRow(ctx,
			`SELECT id, key, name, type FROM algorithms WHERE id = $1`, *a.AlgorithmID,
		).Scan(&alg.ID, &alg.Key, &alg.Name, &alg.Type)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("select algorithm: %w", err))
		}
		view.Algorithm = &alg
	}

	return view, nil
}

// TransitionAlert applies a confirm/reject with the pending guard in the
// UPDATE itself, so concurrent calls cannot both pass the check.
func (s *Store) TransitionAlert(ctx context.Context, alertID int64, tr alert.Transition) (*alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.TransitionAlert", "UPDATE")
	defer span.End()

	var query string
	switch tr.To {
	case alert.StatusConfirmed:
		query = `UPDATE alerts SET status = 'confirmed', confirmed_by = $2, confirmed_at = $3
		         WHERE id = $1 AND status = 'pending' RETURNING ` + alertColumns
	case alert.StatusRejected:
		query = `UPDATE alerts SET status = 'rejected', rejected_by = $2, rejected_at = $3
		         WHERE id = $1 AND status = 'pending' RETURNING ` + alertColumns
	default:
		return nil, alert.ErrInvalidTransition
	}

	a, err := scanAlert(s.pool.QueryRow(ctx, query, alertID, tr.ActorID, tr.At))
	if err != nil {
		return nil, spanErr(span, err)
	}
	if a == nil {
		// Guard did not match: distinguish missing from already terminal.
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM alerts WHERE id = $1`, alertID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alert.ErrAlertNotFound
		}
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("select status: %w", err))
		}
		return nil, alert.ErrInvalidTransition
	}

	if err := s.loadExecutiveUsers(ctx, a); err != nil {
		return nil, spanErr(span, err)
	}
	return a, nil
}

// UsersByRole lists active users of a company holding the given role.
func (s *Store) UsersByRole(ctx context.Context, companyID int64, role alert.Role) ([]alert.User, error) {
	ctx, span := startSpan(ctx, "pgstore.UsersByRole", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE company_id = $1 AND role = $2 AND is_active ORDER BY id`,
		companyID, string(role),
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query users: %w", err))
	}
	defer rows.Close()

	var out []alert.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate users: %w", err))
	}
	return out, nil
}

// UserByID retrieves a user by id.
func (s *Store) UserByID(ctx context.Context, id int64) (*alert.User, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UserByID", "SELECT")
	defer span.End()
	return s.userWhere(ctx, span, `id = $1`, id)
}

// UserByTelegramID retrieves a user by telegram id.
func (s *Store) UserByTelegramID(ctx context.Context, telegramID int64) (*alert.User, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UserByTelegramID", "SELECT")
	defer span.End()
	return s.userWhere(ctx, span, `telegram_id = $1`, telegramID)
}

// SetTelegramToken rotates or clears a user's link token.
func (s *Store) SetTelegramToken(ctx context.Context, userID int64, token *string) error {
	ctx, span := startSpan(ctx, "pgstore.SetTelegramToken", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE users SET telegram_token = $2 WHERE id = $1`, userID, token)
	if err != nil {
		return spanErr(span, fmt.Errorf("update token: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return alert.ErrUserNotFound
	}
	return nil
}

// BindTelegram consumes a link token: binds the telegram id and clears the
// token in a single guarded UPDATE.
func (s *Store) BindTelegram(ctx context.Context, token string, telegramID int64) (*alert.User, error) {
	ctx, span := startSpan(ctx, "pgstore.BindTelegram", "UPDATE")
	defer span.End()

	u := &alert.User{}
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET telegram_id = $2, telegram_token = NULL
		 WHERE telegram_token = $1 RETURNING `+userColumns,
		token, telegramID,
	).Scan(scanUserDest(u)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alert.ErrInvalidToken
		}
		return nil, spanErr(span, fmt.Errorf("bind telegram: %w", err))
	}
	return u, nil
}

// Stats aggregates alerts with alert_time in [from, to).
func (s *Store) Stats(ctx context.Context, from, to *time.Time) (*alert.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	stats := &alert.Stats{}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'confirmed')
		 FROM alerts
		 WHERE ($1::timestamptz IS NULL OR alert_time >= $1)
		   AND ($2::timestamptz IS NULL OR alert_time < $2)`,
		from, to,
	).Scan(&stats.Total, &stats.Confirmed)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("count alerts: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(alg.name, ''), COUNT(*), COUNT(*) FILTER (WHERE a.status = 'confirmed')
		 FROM alerts a
		 LEFT JOIN algorithms alg ON alg.id = a.algorithm_id
		 WHERE ($1::timestamptz IS NULL OR a.alert_time >= $1)
		   AND ($2::timestamptz IS NULL OR a.alert_time < $2)
		 GROUP BY 1
		 ORDER BY 2 DESC, 1 ASC`,
		from, to,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("group alerts: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var row alert.AlgorithmStats
		if err := rows.Scan(&row.Name, &row.Total, &row.Confirmed); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan stats row: %w", err))
		}
		stats.Algorithms = append(stats.Algorithms, row)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate stats rows: %w", err))
	}

	return stats, nil
}

func (s *Store) loadExecutiveUsers(ctx context.Context, a *alert.Alert) error {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM alert_executive_users WHERE alert_id = $1 ORDER BY user_id`, a.ID,
	)
	if err != nil {
		return fmt.Errorf("query executive users: %w", err)
	}
	defer rows.Close()

	a.ExecutiveUserIDs = nil
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return fmt.Errorf("scan executive user: %w", err)
		}
		a.ExecutiveUserIDs = append(a.ExecutiveUserIDs, uid)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate executive users: %w", err)
	}
	return nil
}

func (s *Store) userWhere(ctx context.Context, span trace.Span, where string, arg any) (*alert.User, bool, error) {
	u := &alert.User{}
	err := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(scanUserDest(u)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("select user: %w", err))
	}
	return u, true, nil
}

const userColumns = `id, telegram_id, email, full_name, company_id, role, telegram_token,
	is_staff, is_active, created_at`

func scanUserDest(u *alert.User) []any {
	return []any{
		&u.ID, &u.TelegramID, &u.Email, &u.FullName, &u.CompanyID, (*string)(&u.Role),
		&u.TelegramToken, &u.IsStaff, &u.IsActive, &u.CreatedAt,
	}
}

func scanUser(rows pgx.Rows) (*alert.User, error) {
	u := &alert.User{}
	if err := rows.Scan(scanUserDest(u)...); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// scanAlert scans a single row into an alert. Returns (nil, nil) when no row
// is found.
func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a        alert.Alert
		status   string
		reserved []byte
	)
	err := row.Scan(
		&a.ID, &a.AIBoxAlertID, &a.AlertTime, &a.DeviceID, &a.SourceID, &a.AlgorithmID,
		&a.HazardLevel, &a.CompanyID, &a.ImagePath, &a.VideoPath, &reserved, &status,
		&a.ConfirmedBy, &a.ConfirmedAt, &a.RejectedBy, &a.RejectedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Status = alert.Status(status)
	a.ReservedData = reserved
	return &a, nil
}
