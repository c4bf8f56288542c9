package domain

import "time"

// PoolRisk is the tracker's current verdict for a pool.
type PoolRisk string

const (
	PoolSafe    PoolRisk = "SAFE"
	PoolWarning PoolRisk = "WARNING"
	PoolDanger  PoolRisk = "DANGER"
)

// RiskEventType classifies the interruption evidence behind a risk event.
type RiskEventType string

const (
	RiskEventRebalance   RiskEventType = "rebalance"
	RiskEventTermination RiskEventType = "termination"
)

// RiskEvent is an append-only record of interruption evidence for a pool.
// Shared across all tenants; never updated, only superseded by expiry.
type RiskEvent struct {
	Pool        Pool          `json:"pool"`
	EventType   RiskEventType `json:"event_type"`
	ReportedAt  time.Time     `json:"reported_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Attribution string        `json:"attribution"`
}

// Expired reports whether the event's recovery window has passed.
func (e RiskEvent) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
