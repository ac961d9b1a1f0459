package models

import "time"

type AuditStatus string

const (
	AuditSuccess AuditStatus = "Success"
	AuditBlocked AuditStatus = "Blocked"
	AuditWarning AuditStatus = "Warning"
)

// AuditEvent is one line of the security audit log.
type AuditEvent struct {
	ID         int64       `json:"id"`
	Event      string      `json:"event"`
	Actor      string      `json:"user"`
	Location   string      `json:"location"`
	Status     AuditStatus `json:"status"`
	Details    string      `json:"details"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// SecuritySetting is a named on/off policy switch.
type SecuritySetting struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}
