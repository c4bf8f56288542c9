package engine

import (
	"github.com/spothive/spothive/pkg/domain"
)

// FromDecision converts a completed decision context into an advisory
// recommendation. STAY and undetermined decisions produce nothing. A switch
// is one atomic launch-and-replace action; launch and terminate are never
// scheduled separately.
func FromDecision(source string, dc *domain.DecisionContext) (Recommendation, bool) {
	target := dc.Request.NodeID
	if target == "" {
		target = dc.Request.CurrentInstance.Key()
	}
	if target == "" && dc.Selected != nil {
		target = dc.Selected.Key()
	}
	if target == "" {
		return Recommendation{}, false
	}

	rec := Recommendation{Source: source}
	switch dc.Decision() {
	case domain.DecisionSwitch:
		if dc.Selected == nil {
			return rec, false
		}
		rec.PreservesAvailability = true
		rec.Actions = []domain.Action{domain.NewAction(domain.ActionLaunchSpot, target, map[string]string{
			"region":           dc.Selected.Pool.Region,
			"zone":             dc.Selected.Pool.Zone,
			"instance_type":    dc.Selected.Pool.InstanceType,
			"replace_instance": target,
		})}
		if prob, err := dc.Selected.CrashProbability(); err == nil {
			rec.RiskScore = prob
		}
		rec.EstimatedSavings = switchSavings(dc)
	case domain.DecisionDrain:
		rec.Actions = []domain.Action{domain.NewAction(domain.ActionDrainNode, target, nil)}
	case domain.DecisionEvacuate:
		rec.Actions = []domain.Action{domain.NewAction(domain.ActionEvictPod, target, map[string]string{
			"mode": "immediate",
		})}
	default:
		return rec, false
	}
	return rec, true
}

// switchSavings estimates the hourly saving of moving from the current
// instance to the selected candidate. Zero when the current price is
// unknown, for example after the current pool was filtered out.
func switchSavings(dc *domain.DecisionContext) float64 {
	if dc.Selected == nil || dc.Request.CurrentInstance.IsZero() {
		return 0
	}
	key := dc.Request.CurrentInstance.Key()
	for _, c := range dc.Candidates {
		if c.Key() == key {
			if saving := c.SpotPrice - dc.Selected.SpotPrice; saving > 0 {
				return saving
			}
			return 0
		}
	}
	return 0
}
