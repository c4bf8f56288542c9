package stages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/providers"
)

const overrideStageName = "reactive_override"

// PoolRiskReader is the slice of the global risk tracker the override stage
// consults.
type PoolRiskReader interface {
	CheckPoolRisk(pool domain.Pool) domain.PoolRisk
}

// OverrideConfig tunes the reactive override stage.
type OverrideConfig struct {
	// SignalOverrideEnabled lets live interruption signals force the
	// decision. Signal-driven decisions always outrank model-driven ones.
	SignalOverrideEnabled bool
	// SwitchMarginPts is the yield-score advantage, in points, the top
	// candidate needs over the current instance to justify a switch.
	SwitchMarginPts float64
	// SignalTimeout bounds the signal provider call.
	SignalTimeout time.Duration
}

// OverrideStage sets the final decision. Priority is strict: a live
// TERMINATION signal forces EVACUATE, a REBALANCE signal forces DRAIN, and
// only then does the ranked comparison decide STAY versus SWITCH. No viable
// candidate forces DRAIN as the conservative fallback.
type OverrideStage struct {
	logger  *zap.Logger
	signals providers.SignalProvider
	tracker PoolRiskReader
	cfg     OverrideConfig
}

// NewOverrideStage builds the stage.
func NewOverrideStage(logger *zap.Logger, signals providers.SignalProvider, tracker PoolRiskReader, cfg OverrideConfig) *OverrideStage {
	return &OverrideStage{logger: logger, signals: signals, tracker: tracker, cfg: cfg}
}

func (s *OverrideStage) Name() string { return overrideStageName }

func (s *OverrideStage) Process(ctx context.Context, dc *domain.DecisionContext) error {
	dc.Signal = s.readSignal(ctx, dc)

	if s.cfg.SignalOverrideEnabled {
		switch dc.Signal {
		case domain.SignalTermination:
			dc.AppendTrace(overrideStageName, "live termination signal: forcing EVACUATE")
			return dc.SetDecision(domain.DecisionEvacuate)
		case domain.SignalRebalance:
			dc.AppendTrace(overrideStageName, "rebalance signal: forcing DRAIN")
			return dc.SetDecision(domain.DecisionDrain)
		}
	}

	viable := s.viableCandidates(dc)
	if len(viable) == 0 {
		dc.AppendTrace(overrideStageName, "no viable candidate with acceptable risk: conservative DRAIN")
		dc.Selected = nil
		return dc.SetDecision(domain.DecisionDrain)
	}

	top := viable[0]
	dc.Selected = top

	current := s.currentCandidate(dc, viable)
	if current == nil {
		dc.AppendTrace(overrideStageName, "current instance not a viable candidate: SWITCH to %s", top.Key())
		return dc.SetDecision(domain.DecisionSwitch)
	}
	if current == top {
		dc.AppendTrace(overrideStageName, "current instance %s remains best: STAY", current.Key())
		dc.Selected = current
		return dc.SetDecision(domain.DecisionStay)
	}
	if top.YieldScore-current.YieldScore > s.cfg.SwitchMarginPts {
		dc.AppendTrace(overrideStageName, "candidate %s beats current %s by %.2f yield points: SWITCH",
			top.Key(), current.Key(), top.YieldScore-current.YieldScore)
		return dc.SetDecision(domain.DecisionSwitch)
	}

	dc.AppendTrace(overrideStageName, "candidate %s within %.2f-point switch margin of current %s: STAY",
		top.Key(), s.cfg.SwitchMarginPts, current.Key())
	dc.Selected = current
	return dc.SetDecision(domain.DecisionStay)
}

// readSignal fetches the live interruption signal for the instance under
// evaluation. Signal provider exhaustion degrades to NONE; the pipeline
// still produces a model-driven decision.
func (s *OverrideStage) readSignal(ctx context.Context, dc *domain.DecisionContext) domain.Signal {
	if dc.Request.CurrentInstance.IsZero() {
		return domain.SignalNone
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()

	sig, err := s.signals.CurrentSignal(callCtx, dc.Request.CurrentInstance)
	if err != nil {
		s.logger.Warn("Signal provider unavailable, assuming no signal",
			zap.String("instance", dc.Request.CurrentInstance.ID()),
			zap.Error(err),
		)
		dc.AppendTrace(overrideStageName, "signal provider unavailable (%v): assuming NONE", err)
		return domain.SignalNone
	}
	return sig
}

// viableCandidates filters out pools the tracker currently reports as
// DANGER, preserving rank order.
func (s *OverrideStage) viableCandidates(dc *domain.DecisionContext) []*domain.Candidate {
	var out []*domain.Candidate
	for _, c := range dc.Candidates {
		if s.tracker != nil && s.tracker.CheckPoolRisk(c.Pool) == domain.PoolDanger {
			dc.AppendTrace(overrideStageName, "excluded %s: pool flagged DANGER by risk tracker", c.Key())
			continue
		}
		out = append(out, c)
	}
	return out
}

// currentCandidate finds the instance currently in use among the viable
// candidates. A current instance that was filtered or flagged is not a STAY
// target.
func (s *OverrideStage) currentCandidate(dc *domain.DecisionContext, viable []*domain.Candidate) *domain.Candidate {
	if dc.Request.CurrentInstance.IsZero() {
		return nil
	}
	key := dc.Request.CurrentInstance.Key()
	for _, c := range viable {
		if c.Key() == key {
			return c
		}
	}
	return nil
}
