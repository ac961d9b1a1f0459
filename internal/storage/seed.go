package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"policycopilot/internal/models"
)

func day(month time.Month, d, hour, min int) time.Time {
	return time.Date(2024, month, d, hour, min, 0, 0, time.UTC)
}

const mb = 1 << 20

// SeedDocuments is the library content a fresh database starts with.
var SeedDocuments = []models.Document{
	{Name: "CESL_Framework_v2.pdf", Type: "PDF", SizeBytes: 24 * mb / 10, Pages: 84, Status: models.DocumentVerified, Author: "Director Nguyen", ModifiedAt: day(time.January, 12, 0, 0)},
	{Name: "Payment_Security_Draft.docx", Type: "DOCX", SizeBytes: 18 * mb / 10, Pages: 21, Status: models.DocumentDraft, Author: "Sarah Jenkins", ModifiedAt: day(time.January, 10, 0, 0)},
	{Name: "Q1_Financial_Model.xlsx", Type: "XLSX", SizeBytes: 42 * mb / 10, Pages: 12, Status: models.DocumentReview, Author: "Finance Team", ModifiedAt: day(time.January, 8, 0, 0)},
	{Name: "Policy_Brief_Jan26.pdf", Type: "PDF", SizeBytes: 12 * mb / 10, Pages: 6, Status: models.DocumentVerified, Author: "AI Copilot", ModifiedAt: day(time.January, 14, 0, 0)},
	{Name: "Stakeholder_Meeting_Minutes.docx", Type: "DOCX", SizeBytes: 8 * mb / 10, Pages: 3, Status: models.DocumentArchived, Author: "Admin", ModifiedAt: day(time.January, 5, 0, 0)},
}

// SeedAuditEvents is the audit history a fresh database starts with.
var SeedAuditEvents = []models.AuditEvent{
	{Event: "Login Attempt", Actor: "Director", Location: "192.168.1.1 (VN)", Status: models.AuditSuccess, Details: "Authorized via biometrics.", OccurredAt: day(time.January, 15, 10, 42)},
	{Event: "Document Export", Actor: "Director", Location: "192.168.1.1 (VN)", Status: models.AuditSuccess, Details: "Exported 'CESL_Framework_v2.pdf'.", OccurredAt: day(time.January, 15, 10, 15)},
	{Event: "API Key Rotation", Actor: "System Admin", Location: "Internal", Status: models.AuditSuccess, Details: "Routine automated rotation.", OccurredAt: day(time.January, 14, 2, 0)},
	{Event: "Failed Login", Actor: "Unknown", Location: "45.2.1.1 (CN)", Status: models.AuditBlocked, Details: "Multiple failed attempts. IP temporarily banned.", OccurredAt: day(time.January, 13, 23, 20)},
	{Event: "Policy Access", Actor: "Sarah Jenkins", Location: "192.168.1.5 (VN)", Status: models.AuditSuccess, Details: "Viewed restricted document #442.", OccurredAt: day(time.January, 13, 9, 30)},
	{Event: "Anomalous Traffic", Actor: "System", Location: "External Gateway", Status: models.AuditWarning, Details: "Spike in inbound traffic detected.", OccurredAt: day(time.January, 12, 4, 15)},
}

// SeedSettings lists the security switches, all enabled by default.
var SeedSettings = []string{"mfa_enforcement", "sso_login", "audit_logging"}

// Seed fills empty tables with the initial library, audit log and settings.
// Tables that already hold rows are left alone.
func Seed(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer tx.Rollback()

	empty, err := isEmpty(ctx, tx, "documents")
	if err != nil {
		return err
	}
	if empty {
		for _, d := range SeedDocuments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents(name, doc_type, size_bytes, pages, status, author, stored_path, modified_at) VALUES(?, ?, ?, ?, ?, ?, '', ?)`,
				d.Name, d.Type, d.SizeBytes, d.Pages, string(d.Status), d.Author, d.ModifiedAt); err != nil {
				return fmt.Errorf("seed documents: %w", err)
			}
		}
	}

	empty, err = isEmpty(ctx, tx, "audit_events")
	if err != nil {
		return err
	}
	if empty {
		// oldest first so ids grow with time
		for i := len(SeedAuditEvents) - 1; i >= 0; i-- {
			e := SeedAuditEvents[i]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO audit_events(event, actor, location, status, details, occurred_at) VALUES(?, ?, ?, ?, ?, ?)`,
				e.Event, e.Actor, e.Location, string(e.Status), e.Details, e.OccurredAt); err != nil {
				return fmt.Errorf("seed audit events: %w", err)
			}
		}
	}

	empty, err = isEmpty(ctx, tx, "security_settings")
	if err != nil {
		return err
	}
	if empty {
		now := time.Now().UTC()
		for _, name := range SeedSettings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO security_settings(name, enabled, updated_at) VALUES(?, ?, ?)`,
				name, true, now); err != nil {
				return fmt.Errorf("seed settings: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed commit: %w", err)
	}
	return nil
}

func isEmpty(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return false, fmt.Errorf("count %s: %w", table, err)
	}
	return n == 0, nil
}
