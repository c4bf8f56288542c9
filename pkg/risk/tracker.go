package risk

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
)

// Tracker is the tenant-shared record of dangerous resource pools. One
// tenant's interruption flags the pool for every other tenant sharing it,
// visible to concurrent decision requests immediately.
//
// It runs two deliberately separate mechanisms: a short-TTL tactical flag
// consulted at decision time, and a long-horizon append-only event log used
// for model features. The two windows differ by design and are never merged.
type Tracker struct {
	logger *zap.Logger
	cfg    config.TrackerConfig

	mu      sync.RWMutex
	flags   map[string]domain.RiskEvent
	history []domain.RiskEvent

	// now is swappable for expiry tests.
	now func() time.Time

	flagsRaised metric.Int64Counter
	riskReads   metric.Int64Counter
}

// NewTracker builds a tracker. The tracker is constructed once and injected
// into every component that needs it; there is no ambient global instance.
func NewTracker(logger *zap.Logger, cfg config.TrackerConfig) *Tracker {
	meter := otel.Meter("spothive.risk.tracker")

	t := &Tracker{
		logger: logger,
		cfg:    cfg,
		flags:  make(map[string]domain.RiskEvent),
		now:    time.Now,
	}

	var err error
	t.flagsRaised, err = meter.Int64Counter(
		"risk_tracker_flags_total",
		metric.WithDescription("Total risky-pool flags raised"),
	)
	if err != nil {
		logger.Warn("Failed to create flags counter", zap.Error(err))
	}

	t.riskReads, err = meter.Int64Counter(
		"risk_tracker_reads_total",
		metric.WithDescription("Pool risk reads by resulting status"),
	)
	if err != nil {
		logger.Warn("Failed to create reads counter", zap.Error(err))
	}

	return t
}

// FlagRiskyPool records interruption evidence for a pool. The tactical flag
// becomes visible to every concurrent reader before this call returns. A
// termination flag is never downgraded by a later rebalance flag while both
// are live.
func (t *Tracker) FlagRiskyPool(pool domain.Pool, eventType domain.RiskEventType, attribution string) {
	now := t.now()
	ev := domain.RiskEvent{
		Pool:        pool,
		EventType:   eventType,
		ReportedAt:  now,
		ExpiresAt:   now.Add(t.cfg.TacticalTTL),
		Attribution: attribution,
	}

	t.mu.Lock()
	key := pool.Key()
	if cur, ok := t.flags[key]; ok && !cur.Expired(now) &&
		cur.EventType == domain.RiskEventTermination && eventType == domain.RiskEventRebalance {
		// Keep the stronger live flag, still record history below.
	} else {
		t.flags[key] = ev
	}

	hist := ev
	hist.ExpiresAt = now.Add(t.cfg.HistoryWindow)
	t.history = append(t.history, hist)
	t.mu.Unlock()

	if t.flagsRaised != nil {
		t.flagsRaised.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("event_type", string(eventType)),
		))
	}

	t.logger.Info("Flagged risky pool",
		zap.String("pool", pool.ID()),
		zap.String("event_type", string(eventType)),
		zap.String("attribution", attribution),
		zap.Time("expires_at", ev.ExpiresAt),
	)
}

// CheckPoolRisk returns the current verdict for a pool. It is a pure read:
// a flagged pool reverts to SAFE once its expiry passes, with no explicit
// unflag operation.
func (t *Tracker) CheckPoolRisk(pool domain.Pool) domain.PoolRisk {
	now := t.now()

	t.mu.RLock()
	ev, ok := t.flags[pool.Key()]
	t.mu.RUnlock()

	status := domain.PoolSafe
	if ok && !ev.Expired(now) {
		switch ev.EventType {
		case domain.RiskEventTermination:
			status = domain.PoolDanger
		case domain.RiskEventRebalance:
			status = domain.PoolWarning
		}
	}

	if t.riskReads != nil {
		t.riskReads.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("status", string(status)),
		))
	}
	return status
}

// History returns the unexpired long-horizon events for a pool, newest last.
// Events are never updated, only superseded by expiry.
func (t *Tracker) History(pool domain.Pool) []domain.RiskEvent {
	now := t.now()
	key := pool.Key()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.RiskEvent
	for _, ev := range t.history {
		if ev.Pool.Key() == key && !ev.Expired(now) {
			out = append(out, ev)
		}
	}
	return out
}

// Start runs the background sweep that trims expired state. Reads already
// apply expiry lazily; the sweep only bounds memory. Returns when ctx ends.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, ev := range t.flags {
		if ev.Expired(now) {
			delete(t.flags, key)
		}
	}

	kept := t.history[:0]
	for _, ev := range t.history {
		if !ev.Expired(now) {
			kept = append(kept, ev)
		}
	}
	t.history = kept
}
