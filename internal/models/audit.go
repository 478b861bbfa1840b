package models

import "time"

// AuditType is the activity-log category.
type AuditType string

const (
	AuditFile     AuditType = "FILE"
	AuditJob      AuditType = "JOB"
	AuditMovement AuditType = "MOVEMENT"
	AuditAlert    AuditType = "ALERT"
	AuditSQL      AuditType = "SQL"
	AuditError    AuditType = "ERROR"
	AuditUser     AuditType = "USER"
	AuditSystem   AuditType = "SYSTEM"
)

func (t AuditType) String() string {
	return string(t)
}

// AuditEvent is one row of the activity log.
type AuditEvent struct {
	ID         string
	RunID      string
	OccurredAt time.Time
	Type       AuditType
	Message    string
	Details    string
	PartNumber string
	Quantity   *int64
	PONumber   string
	OutputFile string
}
