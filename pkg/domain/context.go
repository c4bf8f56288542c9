package domain

import (
	"fmt"
	"time"
)

// Signal is the cloud provider's current interruption signal for the
// instance under evaluation.
type Signal string

const (
	SignalNone        Signal = "NONE"
	SignalRebalance   Signal = "REBALANCE"
	SignalTermination Signal = "TERMINATION"
)

// Decision is the terminal outcome of one decision request.
type Decision string

const (
	DecisionUndetermined Decision = ""
	DecisionStay         Decision = "STAY"
	DecisionSwitch       Decision = "SWITCH"
	DecisionDrain        Decision = "DRAIN"
	DecisionEvacuate     Decision = "EVACUATE"
)

// RequestMode selects how the input stage populates candidates.
type RequestMode string

const (
	// ModeSingleInstance evaluates exactly one candidate: the instance
	// currently in use.
	ModeSingleInstance RequestMode = "single"
	// ModeCluster draws candidates from all hardware/AZ combinations that
	// match the stated resource requirements.
	ModeCluster RequestMode = "cluster"
)

// InputRequest is the immutable input of one decision request.
type InputRequest struct {
	ID     string      `yaml:"id" json:"id"`
	Tenant string      `yaml:"tenant" json:"tenant"`
	Mode   RequestMode `yaml:"mode" json:"mode"`
	Region string      `yaml:"region" json:"region"`
	// NodeID names the managed node this request concerns, when known.
	// Actions produced from the decision target it.
	NodeID          string               `yaml:"node_id" json:"node_id"`
	CurrentInstance Pool                 `yaml:"current_instance" json:"current_instance"`
	Requirements    ResourceRequirements `yaml:"requirements" json:"requirements"`
}

// Validate rejects malformed requests before pipeline entry.
func (r InputRequest) Validate() error {
	switch r.Mode {
	case ModeSingleInstance:
		if err := r.CurrentInstance.Validate(); err != nil {
			return fmt.Errorf("%w: single-instance mode requires a current instance", ErrInvalidRequest)
		}
	case ModeCluster:
		if r.Region == "" {
			return fmt.Errorf("%w: cluster mode requires a region", ErrInvalidRequest)
		}
		if r.Requirements.MinVCPU <= 0 && r.Requirements.MinMemoryGiB <= 0 {
			return fmt.Errorf("%w: cluster mode requires resource requirements", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Tenant == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	return nil
}

// TraceEntry is one stage observation recorded for debugging.
type TraceEntry struct {
	Stage   string
	Message string
	At      time.Time
}

// DecisionContext carries the state of one decision request through the
// pipeline. It is created at pipeline entry, mutated in place by each stage
// in sequence, and discarded after actuation. Never shared across requests.
type DecisionContext struct {
	Request    InputRequest
	Candidates []*Candidate
	Signal     Signal
	Selected   *Candidate

	decision Decision
	trace    []TraceEntry
}

// NewDecisionContext validates the request and builds a fresh context.
func NewDecisionContext(req InputRequest) (*DecisionContext, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &DecisionContext{
		Request: req,
		Signal:  SignalNone,
	}, nil
}

// Decision returns the final decision, DecisionUndetermined until the
// override stage has run.
func (dc *DecisionContext) Decision() Decision {
	return dc.decision
}

// SetDecision moves the context into a terminal state. Terminal states are
// one-way within a single context: a second set is an error.
func (dc *DecisionContext) SetDecision(d Decision) error {
	if dc.decision != DecisionUndetermined {
		return fmt.Errorf("%w: %s -> %s", ErrDecisionAlreadySet, dc.decision, d)
	}
	if d == DecisionUndetermined {
		return fmt.Errorf("cannot set decision to undetermined")
	}
	dc.decision = d
	return nil
}

// AppendTrace records a stage observation. The trace is append-only.
func (dc *DecisionContext) AppendTrace(stage, format string, args ...interface{}) {
	dc.trace = append(dc.trace, TraceEntry{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	})
}

// Trace returns a copy of the execution trace.
func (dc *DecisionContext) Trace() []TraceEntry {
	out := make([]TraceEntry, len(dc.trace))
	copy(out, dc.trace)
	return out
}
