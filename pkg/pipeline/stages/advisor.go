package stages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/providers"
)

const advisorStageName = "spot_advisor_filter"

// AdvisorStage removes candidates whose historical interruption frequency
// exceeds the configured threshold. The threshold is pipeline configuration,
// never hardcoded.
type AdvisorStage struct {
	logger    *zap.Logger
	advisor   providers.SpotAdvisor
	threshold float64
	timeout   time.Duration
}

// NewAdvisorStage builds the stage with the configured cutoff.
func NewAdvisorStage(logger *zap.Logger, advisor providers.SpotAdvisor, threshold float64, timeout time.Duration) *AdvisorStage {
	return &AdvisorStage{logger: logger, advisor: advisor, threshold: threshold, timeout: timeout}
}

func (s *AdvisorStage) Name() string { return advisorStageName }

func (s *AdvisorStage) Process(ctx context.Context, dc *domain.DecisionContext) error {
	kept := dc.Candidates[:0]
	for _, c := range dc.Candidates {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		freq, err := s.advisor.InterruptionFrequency(callCtx, c.Pool)
		cancel()

		if err != nil {
			// Advisor data missing for a pool is a drop with a recorded
			// reason, not a request failure.
			dc.AppendTrace(advisorStageName, "dropped %s: advisor data unavailable: %v", c.Key(), err)
			continue
		}
		if freq > s.threshold {
			dc.AppendTrace(advisorStageName, "dropped %s: interruption frequency %.2f exceeds %.2f",
				c.Key(), freq, s.threshold)
			continue
		}
		kept = append(kept, c)
	}

	dc.Candidates = kept
	dc.AppendTrace(advisorStageName, "%d candidates within advisor threshold %.2f", len(kept), s.threshold)
	return nil
}
