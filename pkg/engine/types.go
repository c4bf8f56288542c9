// Package engine merges recommendations from multiple advisory sources into
// one conflict-free action plan under the global safety policy.
package engine

import (
	"context"
	"fmt"

	"github.com/spothive/spothive/pkg/domain"
)

// Node is one managed node in the cluster capacity snapshot.
type Node struct {
	ID   string
	Pool domain.Pool
	// NonEvictable marks a node hosting a workload that must not be
	// displaced. No plan may terminate or drain it.
	NonEvictable bool
	CapacityVCPU float64
	UsedVCPU     float64
}

// ClusterState is the capacity snapshot a plan is resolved against. The
// engine does no discovery of its own; callers supply the snapshot.
type ClusterState struct {
	Nodes []Node
}

// NodeCount returns the number of nodes in the snapshot.
func (s *ClusterState) NodeCount() int { return len(s.Nodes) }

// Node returns the node with the given ID.
func (s *ClusterState) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Capacity returns total and used vCPU across the snapshot.
func (s *ClusterState) Capacity() (total, used float64) {
	for _, n := range s.Nodes {
		total += n.CapacityVCPU
		used += n.UsedVCPU
	}
	return total, used
}

// Recommendation is one advisory source's proposal.
type Recommendation struct {
	// Source names the advisory module for logs and conflict reports.
	Source  string
	Actions []domain.Action
	// EstimatedSavings is the hourly saving the proposal expects.
	EstimatedSavings float64
	// RiskScore aggregates the proposal's interruption risk in [0,1].
	RiskScore float64
	// PreservesAvailability marks a proposal that does not reduce serving
	// capacity. When two proposals conflict, the availability-preserving
	// one wins: stability dominates savings.
	PreservesAvailability bool
}

// Advisor produces recommendations for the engine to merge. The decision
// pipeline is one advisor; bin-packing and right-sizing modules are others.
type Advisor interface {
	Name() string
	Advise(ctx context.Context, state *ClusterState) ([]Recommendation, error)
}

// PolicyRule identifies the safety rule a rejected plan violated.
type PolicyRule string

const (
	RuleNonEvictable  PolicyRule = "non_evictable_workload"
	RuleCapacityFloor PolicyRule = "capacity_floor"
	RuleHeadroom      PolicyRule = "safety_headroom"
	RuleContradiction PolicyRule = "contradictory_actions"
)

// PolicyViolationError reports the specific rule a plan broke. Violations
// are fatal for the plan and are never auto-corrected.
type PolicyViolationError struct {
	Rule   PolicyRule
	Detail string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Rule, e.Detail)
}
