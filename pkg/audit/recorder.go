// Package audit records action outcomes. Entries are write-once; the core
// appends and reads, retention and shipping belong to external tooling.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

// Recorder is an append-only in-memory audit log with a structured-log
// mirror: every entry is also emitted through zap so external shippers can
// pick it up without polling.
type Recorder struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries []domain.AuditLogEntry
}

// NewRecorder builds an empty recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record appends one entry, assigning its ID and timestamp, and returns the
// stored copy.
func (r *Recorder) Record(actor string, action domain.Action, result domain.AuditResult, detail string, duration time.Duration) domain.AuditLogEntry {
	entry := domain.AuditLogEntry{
		ID:         uuid.NewString(),
		Actor:      actor,
		Timestamp:  time.Now(),
		ActionID:   action.ID,
		ActionType: action.Type,
		Target:     action.Target,
		Result:     result,
		Detail:     detail,
		Duration:   duration,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	r.logger.Info("Audit",
		zap.String("actor", entry.Actor),
		zap.String("action_id", entry.ActionID),
		zap.String("action_type", string(entry.ActionType)),
		zap.String("target", entry.Target),
		zap.String("result", string(entry.Result)),
		zap.String("detail", entry.Detail),
		zap.Duration("duration", entry.Duration),
	)
	return entry
}

// Entries returns a copy of all recorded entries in append order.
func (r *Recorder) Entries() []domain.AuditLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AuditLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
