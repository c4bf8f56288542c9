package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType tags an action variant. The set is closed and split into two
// families: cloud-direct actions executed synchronously against the provider
// API, and agent actions queued for the remote cluster agent.
type ActionType string

const (
	// Cloud-direct actions.
	ActionLaunchSpot        ActionType = "launch_spot"
	ActionTerminateInstance ActionType = "terminate_instance"
	ActionDetachVolume      ActionType = "detach_volume"
	ActionUpdateASG         ActionType = "update_asg"

	// Agent-queued actions.
	ActionEvictPod   ActionType = "evict_pod"
	ActionCordonNode ActionType = "cordon_node"
	ActionDrainNode  ActionType = "drain_node"
	ActionLabelNode  ActionType = "label_node"
)

// Substrate identifies the execution substrate an action routes to.
type Substrate string

const (
	SubstrateCloud Substrate = "cloud"
	SubstrateAgent Substrate = "agent"
)

// Substrate returns the execution substrate for the action type, or an error
// for a tag outside the closed set. The executor relies on this being
// exhaustive.
func (t ActionType) Substrate() (Substrate, error) {
	switch t {
	case ActionLaunchSpot, ActionTerminateInstance, ActionDetachVolume, ActionUpdateASG:
		return SubstrateCloud, nil
	case ActionEvictPod, ActionCordonNode, ActionDrainNode, ActionLabelNode:
		return SubstrateAgent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}
}

// Action is one unit of work in an action plan. Created by the decision
// engine, consumed exactly once by the executor. Dependent steps (a switch
// that must launch and terminate together) are modeled as a single atomic
// action via Params, never decomposed.
type Action struct {
	ID        string            `json:"id"`
	Type      ActionType        `json:"type"`
	Target    string            `json:"target"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewAction builds an action with a fresh ID.
func NewAction(t ActionType, target string, params map[string]string) Action {
	return Action{
		ID:        uuid.NewString(),
		Type:      t,
		Target:    target,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

// ActionResult is the asynchronous completion report for an agent-queued
// action, correlated back to the originating action by ID.
type ActionResult struct {
	ActionID    string    `json:"action_id"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ActionPlan is the decision engine's output: an ordered action sequence
// with its expected economics.
type ActionPlan struct {
	ID               string    `json:"id"`
	Actions          []Action  `json:"actions"`
	EstimatedSavings float64   `json:"estimated_savings"`
	RiskScore        float64   `json:"risk_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewActionPlan builds an empty plan with a fresh ID.
func NewActionPlan() *ActionPlan {
	return &ActionPlan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// removesTarget reports whether the action consumes its target: once it
// runs, the target no longer accepts work.
func removesTarget(t ActionType) bool {
	switch t {
	case ActionTerminateInstance, ActionDrainNode, ActionEvictPod, ActionDetachVolume:
		return true
	}
	return false
}

// Compatible reports whether two distinct action types may share one target.
// Cordoning composes with removal (cordon then drain is the standard
// sequence) and mutations compose with each other; removing a target twice,
// or mutating a target another action removes, is contradictory.
func Compatible(a, b ActionType) bool {
	if a == ActionCordonNode || b == ActionCordonNode {
		return true
	}
	return !removesTarget(a) && !removesTarget(b)
}

// Validate rejects plans whose actions target one resource in conflicting
// ways: the same action carried twice (each action is consumed exactly
// once), or an incompatible pair per Compatible, like terminating and
// relabeling one node.
func (p *ActionPlan) Validate() error {
	seen := make(map[string][]ActionType, len(p.Actions))
	for _, a := range p.Actions {
		if _, err := a.Type.Substrate(); err != nil {
			return err
		}
		if a.Target == "" {
			return fmt.Errorf("action %s (%s) has no target", a.ID, a.Type)
		}
		for _, prev := range seen[a.Target] {
			if prev == a.Type || !Compatible(prev, a.Type) {
				return fmt.Errorf("%w: %s and %s both target %s", ErrConflictingActions, prev, a.Type, a.Target)
			}
		}
		seen[a.Target] = append(seen[a.Target], a.Type)
	}
	return nil
}
