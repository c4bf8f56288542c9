package stages

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/domain"
)

// DryRunActuator records what would happen without any side effects: one
// trace line and one audit entry per request.
type DryRunActuator struct {
	logger *zap.Logger
	audit  *audit.Recorder
	actor  string
}

// NewDryRunActuator builds the actuator.
func NewDryRunActuator(logger *zap.Logger, recorder *audit.Recorder, actor string) *DryRunActuator {
	return &DryRunActuator{logger: logger, audit: recorder, actor: actor}
}

func (a *DryRunActuator) Name() string { return "dryrun" }

func (a *DryRunActuator) Actuate(_ context.Context, dc *domain.DecisionContext) error {
	detail := fmt.Sprintf("decision %s for tenant %s", dc.Decision(), dc.Request.Tenant)
	if dc.Selected != nil {
		detail += fmt.Sprintf(", selected %s at $%.4f", dc.Selected.Key(), dc.Selected.SpotPrice)
	}
	dc.AppendTrace("dryrun", "%s", detail)

	if a.audit != nil {
		action := decisionAction(dc)
		a.audit.Record(a.actor, action, domain.AuditWouldExecute, detail, 0)
	}
	return nil
}

// decisionAction maps a decision to the representative action a live run
// would build for it.
func decisionAction(dc *domain.DecisionContext) domain.Action {
	target := dc.Request.CurrentInstance.Key()
	if target == "" && dc.Selected != nil {
		target = dc.Selected.Key()
	}
	switch dc.Decision() {
	case domain.DecisionEvacuate:
		return domain.NewAction(domain.ActionEvictPod, target, nil)
	case domain.DecisionDrain:
		return domain.NewAction(domain.ActionDrainNode, target, nil)
	case domain.DecisionSwitch:
		params := map[string]string{}
		if dc.Selected != nil {
			params["pool"] = dc.Selected.Pool.ID()
		}
		return domain.NewAction(domain.ActionLaunchSpot, target, params)
	default:
		return domain.NewAction(domain.ActionLabelNode, target, map[string]string{"decision": "stay"})
	}
}

// MetricsActuator exports decision outcomes for external dashboards. It
// mutates nothing.
type MetricsActuator struct {
	logger *zap.Logger

	decisions metric.Int64Counter
	yield     metric.Float64Gauge
	risk      metric.Float64Gauge
	price     metric.Float64Gauge
}

// NewMetricsActuator builds the actuator and its instruments.
func NewMetricsActuator(logger *zap.Logger) *MetricsActuator {
	meter := otel.Meter("spothive.pipeline.actuators")
	m := &MetricsActuator{logger: logger}

	var err error
	m.decisions, err = meter.Int64Counter(
		"decisions_total",
		metric.WithDescription("Decisions by outcome and tenant"),
	)
	if err != nil {
		logger.Warn("Failed to create decisions counter", zap.Error(err))
	}
	m.yield, err = meter.Float64Gauge(
		"selected_candidate_yield_score",
		metric.WithDescription("Yield score of the selected candidate"),
	)
	if err != nil {
		logger.Warn("Failed to create yield gauge", zap.Error(err))
	}
	m.risk, err = meter.Float64Gauge(
		"selected_candidate_crash_probability",
		metric.WithDescription("Crash probability of the selected candidate"),
	)
	if err != nil {
		logger.Warn("Failed to create risk gauge", zap.Error(err))
	}
	m.price, err = meter.Float64Gauge(
		"selected_candidate_spot_price",
		metric.WithDescription("Spot price of the selected candidate"),
	)
	if err != nil {
		logger.Warn("Failed to create price gauge", zap.Error(err))
	}
	return m
}

func (m *MetricsActuator) Name() string { return "metrics" }

func (m *MetricsActuator) Actuate(ctx context.Context, dc *domain.DecisionContext) error {
	attrs := metric.WithAttributes(
		attribute.String("decision", string(dc.Decision())),
		attribute.String("tenant", dc.Request.Tenant),
	)
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, attrs)
	}
	if dc.Selected != nil {
		if m.yield != nil {
			m.yield.Record(ctx, dc.Selected.YieldScore, attrs)
		}
		if prob, err := dc.Selected.CrashProbability(); err == nil && m.risk != nil {
			m.risk.Record(ctx, prob, attrs)
		}
		if m.price != nil {
			m.price.Record(ctx, dc.Selected.SpotPrice, attrs)
		}
	}
	return nil
}
