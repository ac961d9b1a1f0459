package security

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"policycopilot/internal/models"
)

var (
	ErrUnknownSetting = errors.New("unknown security setting")
	ErrInvalidFilter  = errors.New("filter must be all, critical or success")
)

// Filter narrows the audit log by status.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterCritical Filter = "critical"
	FilterSuccess  Filter = "success"
)

// ParseFilter accepts the three filter names; empty means all.
func ParseFilter(v string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(v))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterCritical, FilterSuccess:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, v)
	}
}

var settingLabels = map[string]string{
	"mfa_enforcement": "Multi-Factor Authentication",
	"sso_login":       "Single Sign-On",
	"audit_logging":   "Audit Logging",
}

// Service manages the security console: policy switches, the audit log and audit scans.
type Service struct {
	db    *sql.DB
	log   *zap.Logger
	scans *scanner
}

func NewService(db *sql.DB, sched Scheduler, opts ScanOptions, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{db: db, log: log}
	s.scans = newScanner(s, sched, opts, log.Named("audit"))
	return s
}

// Settings lists the policy switches by name.
func (s *Service) Settings(ctx context.Context) ([]models.SecuritySetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled, updated_at FROM security_settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make([]models.SecuritySetting, 0, len(settingLabels))
	for rows.Next() {
		var st models.SecuritySetting
		if err := rows.Scan(&st.Name, &st.Enabled, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// SetSetting flips a policy switch and records the change in the audit log.
func (s *Service) SetSetting(ctx context.Context, name string, enabled bool, actor string) (models.SecuritySetting, error) {
	label, ok := settingLabels[name]
	if !ok {
		return models.SecuritySetting{}, fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE security_settings SET enabled = ?, updated_at = ? WHERE name = ?`, enabled, now, name)
	if err != nil {
		return models.SecuritySetting{}, fmt.Errorf("update setting: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO security_settings (name, enabled, updated_at) VALUES (?, ?, ?)`, name, enabled, now); err != nil {
			return models.SecuritySetting{}, fmt.Errorf("insert setting: %w", err)
		}
	}

	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	if err := s.Record(ctx, models.AuditEvent{
		Event:      "Security Policy Updated",
		Actor:      actorOrDefault(actor),
		Location:   "Admin Console",
		Status:     models.AuditSuccess,
		Details:    fmt.Sprintf("%s is now %s.", label, state),
		OccurredAt: now,
	}); err != nil {
		s.log.Warn("record setting change", zap.Error(err))
	}
	return models.SecuritySetting{Name: name, Enabled: enabled, UpdatedAt: now}, nil
}

// Record appends an event to the audit log.
func (s *Service) Record(ctx context.Context, e models.AuditEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event, actor, location, status, details, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Event, e.Actor, e.Location, string(e.Status), e.Details, e.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Events returns the audit log, newest first, matching query against event or
// user (case-insensitive) and the status filter.
func (s *Service) Events(ctx context.Context, query string, filter Filter) ([]models.AuditEvent, error) {
	q := `SELECT id, event, actor, location, status, details, occurred_at FROM audit_events WHERE 1 = 1`
	var args []interface{}
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + escapeLike(strings.ToLower(query)) + "%"
		q += ` AND (LOWER(event) LIKE ? ESCAPE '!' OR LOWER(actor) LIKE ? ESCAPE '!')`
		args = append(args, like, like)
	}
	switch filter {
	case FilterCritical:
		q += ` AND status IN (?, ?)`
		args = append(args, string(models.AuditBlocked), string(models.AuditWarning))
	case FilterSuccess:
		q += ` AND status = ?`
		args = append(args, string(models.AuditSuccess))
	}
	q += ` ORDER BY occurred_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]models.AuditEvent, 0)
	for rows.Next() {
		var (
			e      models.AuditEvent
			status string
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Actor, &e.Location, &status, &e.Details, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Status = models.AuditStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// StartAudit begins a scan. Only one scan runs at a time.
func (s *Service) StartAudit(actor string) (Scan, error) {
	return s.scans.start(actorOrDefault(actor))
}

// CurrentAudit reports the running or last finished scan.
func (s *Service) CurrentAudit() (Scan, bool) {
	return s.scans.current()
}

// Close stops a running scan.
func (s *Service) Close() {
	s.scans.close()
}

func actorOrDefault(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return "System Admin"
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
