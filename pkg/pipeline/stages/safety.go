package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

const safetyStageName = "safety_gate"

// SafetyGateStage hard-rejects any candidate whose crash probability
// exceeds the cutoff. The gate is a final backstop independent of ranking
// weights; ranking cannot bypass it because gated candidates never reach
// the ranking stage.
type SafetyGateStage struct {
	logger *zap.Logger
	cutoff float64
}

// NewSafetyGateStage builds the stage with the configured cutoff.
func NewSafetyGateStage(logger *zap.Logger, cutoff float64) *SafetyGateStage {
	return &SafetyGateStage{logger: logger, cutoff: cutoff}
}

func (s *SafetyGateStage) Name() string { return safetyStageName }

func (s *SafetyGateStage) Process(_ context.Context, dc *domain.DecisionContext) error {
	kept := dc.Candidates[:0]
	for _, c := range dc.Candidates {
		prob, err := c.CrashProbability()
		if err != nil {
			// Scoring must precede the gate; an unscored candidate here is
			// a stage-ordering bug.
			return err
		}
		if prob > s.cutoff {
			dc.AppendTrace(safetyStageName, "rejected %s: crash probability %.2f exceeds gate %.2f",
				c.Key(), prob, s.cutoff)
			continue
		}
		kept = append(kept, c)
	}

	dc.Candidates = kept
	dc.AppendTrace(safetyStageName, "%d candidates under gate %.2f", len(kept), s.cutoff)
	return nil
}
