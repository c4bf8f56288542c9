package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

const hardwareStageName = "hardware_filter"

// HardwareStage removes candidates whose vCPU, memory or architecture do
// not meet the request's stated minimums. It never adds candidates.
type HardwareStage struct {
	logger *zap.Logger
}

// NewHardwareStage builds the stage.
func NewHardwareStage(logger *zap.Logger) *HardwareStage {
	return &HardwareStage{logger: logger}
}

func (s *HardwareStage) Name() string { return hardwareStageName }

func (s *HardwareStage) Process(_ context.Context, dc *domain.DecisionContext) error {
	req := dc.Request.Requirements

	kept := dc.Candidates[:0]
	for _, c := range dc.Candidates {
		if c.Hardware.Meets(req) {
			kept = append(kept, c)
			continue
		}
		dc.AppendTrace(hardwareStageName, "dropped %s: %d vCPU / %.1f GiB / %s does not meet minimums",
			c.Key(), c.Hardware.VCPU, c.Hardware.MemoryGiB, c.Hardware.Architecture)
	}

	dropped := len(dc.Candidates) - len(kept)
	dc.Candidates = kept
	if dropped > 0 {
		dc.AppendTrace(hardwareStageName, "filtered %d candidates, %d remain", dropped, len(kept))
	}
	return nil
}
