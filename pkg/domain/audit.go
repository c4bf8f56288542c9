package domain

import "time"

// AuditResult classifies the outcome recorded in an audit entry.
type AuditResult string

const (
	AuditExecuted     AuditResult = "executed"
	AuditWouldExecute AuditResult = "would-execute"
	AuditQueued       AuditResult = "queued"
	AuditFailed       AuditResult = "failed"
	AuditSkipped      AuditResult = "skipped"
	AuditCompleted    AuditResult = "completed"
)

// AuditLogEntry is the immutable record of one action outcome. Write-once;
// the core never mutates or deletes entries (retention is an external
// collaborator's concern).
type AuditLogEntry struct {
	ID         string        `json:"id"`
	Actor      string        `json:"actor"`
	Timestamp  time.Time     `json:"timestamp"`
	ActionID   string        `json:"action_id"`
	ActionType ActionType    `json:"action_type"`
	Target     string        `json:"target"`
	Result     AuditResult   `json:"result"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration"`
}
