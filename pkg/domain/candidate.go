package domain

import "fmt"

// Candidate is one priceable, schedulable resource option under evaluation:
// an instance type in an availability zone at spot pricing. Candidates are
// owned by a single DecisionContext and mutated in place by pipeline stages.
type Candidate struct {
	Pool          Pool
	SpotPrice     float64
	OnDemandPrice float64
	Hardware      HardwareSpec

	// WasteCost and YieldScore are written by the ranking stage.
	WasteCost  float64
	YieldScore float64

	crashProbability float64
	scored           bool
}

// Key returns the candidate identity key, "zone:instance_type".
func (c *Candidate) Key() string {
	return c.Pool.Key()
}

// SetCrashProbability records the risk model's interruption estimate.
// Scores outside [0,1] are rejected.
func (c *Candidate) SetCrashProbability(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("crash probability %f out of range [0,1] for %s", p, c.Key())
	}
	c.crashProbability = p
	c.scored = true
	return nil
}

// CrashProbability returns the interruption estimate. It is undefined until
// the risk scoring stage has run; earlier reads are a stage-ordering bug and
// surface as ErrCrashProbabilityUnset.
func (c *Candidate) CrashProbability() (float64, error) {
	if !c.scored {
		return 0, fmt.Errorf("%w: candidate %s", ErrCrashProbabilityUnset, c.Key())
	}
	return c.crashProbability, nil
}

// Scored reports whether the risk stage has scored this candidate.
func (c *Candidate) Scored() bool {
	return c.scored
}
