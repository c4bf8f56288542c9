package stages

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

const rankStageName = "waste_cost_ranking"

// RankStage computes waste cost, total cost of ownership and yield score
// for every surviving candidate, then orders them best first. Higher yield
// means cheaper and safer; ties break toward lower crash probability, then
// lower spot price.
type RankStage struct {
	logger *zap.Logger
}

// NewRankStage builds the stage.
func NewRankStage(logger *zap.Logger) *RankStage {
	return &RankStage{logger: logger}
}

func (s *RankStage) Name() string { return rankStageName }

func (s *RankStage) Process(_ context.Context, dc *domain.DecisionContext) error {
	if len(dc.Candidates) == 0 {
		dc.AppendTrace(rankStageName, "no candidates to rank")
		return nil
	}

	// Waste cost only applies in cluster mode, where oversized hardware
	// burns money on unused capacity. The current instance in single mode
	// is already committed.
	maxTCO := 0.0
	tcos := make([]float64, len(dc.Candidates))
	for i, c := range dc.Candidates {
		if dc.Request.Mode == domain.ModeCluster {
			c.WasteCost = unusedFraction(c.Hardware, dc.Request.Requirements) * c.SpotPrice
		}
		tcos[i] = c.SpotPrice + c.WasteCost
		if tcos[i] > maxTCO {
			maxTCO = tcos[i]
		}
	}

	for i, c := range dc.Candidates {
		prob, err := c.CrashProbability()
		if err != nil {
			return err
		}
		if maxTCO > 0 {
			c.YieldScore = 100 * (1 - tcos[i]/maxTCO) * (1 - prob)
		}
	}

	sort.SliceStable(dc.Candidates, func(i, j int) bool {
		a, b := dc.Candidates[i], dc.Candidates[j]
		if a.YieldScore != b.YieldScore {
			return a.YieldScore > b.YieldScore
		}
		pa, _ := a.CrashProbability()
		pb, _ := b.CrashProbability()
		if pa != pb {
			return pa < pb
		}
		return a.SpotPrice < b.SpotPrice
	})

	top := dc.Candidates[0]
	dc.Selected = top
	prob, _ := top.CrashProbability()
	dc.AppendTrace(rankStageName, "top candidate %s: yield %.2f, crash probability %.2f, spot $%.4f",
		top.Key(), top.YieldScore, prob, top.SpotPrice)
	return nil
}

// unusedFraction estimates the share of a candidate's capacity the workload
// would leave idle, averaged over vCPU and memory.
func unusedFraction(h domain.HardwareSpec, req domain.ResourceRequirements) float64 {
	var fractions []float64
	if req.MinVCPU > 0 && h.VCPU > 0 {
		fractions = append(fractions, 1-float64(req.MinVCPU)/float64(h.VCPU))
	}
	if req.MinMemoryGiB > 0 && h.MemoryGiB > 0 {
		fractions = append(fractions, 1-req.MinMemoryGiB/h.MemoryGiB)
	}
	if len(fractions) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range fractions {
		if f < 0 {
			f = 0
		}
		sum += f
	}
	return sum / float64(len(fractions))
}
