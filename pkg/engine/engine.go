package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
)

// PoolRiskReader is the slice of the global risk tracker the engine
// consults to keep plans away from dangerous pools.
type PoolRiskReader interface {
	CheckPoolRisk(pool domain.Pool) domain.PoolRisk
}

// Engine resolves advisory recommendations into one safe action plan.
type Engine struct {
	logger  *zap.Logger
	cfg     config.EngineConfig
	tracker PoolRiskReader

	plansResolved metric.Int64Counter
	violations    metric.Int64Counter
}

// New builds an engine with the given safety policy.
func New(logger *zap.Logger, cfg config.EngineConfig, tracker PoolRiskReader) *Engine {
	meter := otel.Meter("spothive.engine")

	e := &Engine{logger: logger, cfg: cfg, tracker: tracker}

	var err error
	e.plansResolved, err = meter.Int64Counter(
		"engine_plans_resolved_total",
		metric.WithDescription("Action plans resolved by the decision engine"),
	)
	if err != nil {
		logger.Warn("Failed to create plans counter", zap.Error(err))
	}
	e.violations, err = meter.Int64Counter(
		"engine_policy_violations_total",
		metric.WithDescription("Rejected plans by violated rule"),
	)
	if err != nil {
		logger.Warn("Failed to create violations counter", zap.Error(err))
	}
	return e
}

// Resolve merges recommendations into one plan, applying the safety rules
// in priority order: no non-evictable target, no capacity-floor breach,
// stability over savings on conflicts, minimum headroom after execution,
// and no actions into DANGER pools. A violation rejects the plan with the
// specific rule; contradictory input the stability rule cannot order is a
// hard error, never silently resolved.
func (e *Engine) Resolve(ctx context.Context, state *ClusterState, recs []Recommendation) (*domain.ActionPlan, error) {
	kept, err := e.resolveConflicts(recs)
	if err != nil {
		return nil, e.reject(ctx, err)
	}

	plan := domain.NewActionPlan()
	for _, rec := range kept {
		dropped := 0
		for _, action := range rec.Actions {
			if e.targetsDangerPool(state, action) {
				e.logger.Warn("Dropping action into DANGER pool",
					zap.String("source", rec.Source),
					zap.String("action", string(action.Type)),
					zap.String("target", action.Target),
				)
				dropped++
				continue
			}
			plan.Actions = append(plan.Actions, action)
		}
		if dropped < len(rec.Actions) {
			plan.EstimatedSavings += rec.EstimatedSavings
		}
		if rec.RiskScore > plan.RiskScore {
			plan.RiskScore = rec.RiskScore
		}
	}

	if err := e.checkNonEvictable(state, plan); err != nil {
		return nil, e.reject(ctx, err)
	}
	if err := e.checkCapacityFloor(state, plan); err != nil {
		return nil, e.reject(ctx, err)
	}
	if err := e.checkHeadroom(state, plan); err != nil {
		return nil, e.reject(ctx, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, e.reject(ctx, &PolicyViolationError{Rule: RuleContradiction, Detail: err.Error()})
	}

	if e.plansResolved != nil {
		e.plansResolved.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("actions", len(plan.Actions)),
		))
	}
	e.logger.Info("Resolved action plan",
		zap.String("plan_id", plan.ID),
		zap.Int("actions", len(plan.Actions)),
		zap.Float64("estimated_savings", plan.EstimatedSavings),
		zap.Float64("risk_score", plan.RiskScore),
	)
	return plan, nil
}

// resolveConflicts drops the losing side when two sources target the same
// resource and exactly one preserves availability. Conflicts the stability
// rule cannot order are contradictory input: a hard error.
func (e *Engine) resolveConflicts(recs []Recommendation) ([]Recommendation, error) {
	type claim struct {
		rec    int
		action domain.Action
	}
	claims := make(map[string][]claim)
	for i, rec := range recs {
		for _, action := range rec.Actions {
			claims[action.Target] = append(claims[action.Target], claim{rec: i, action: action})
		}
	}

	excluded := make(map[int]bool)
	for target, cs := range claims {
		if len(cs) < 2 {
			continue
		}
		for i := 0; i < len(cs); i++ {
			for j := i + 1; j < len(cs); j++ {
				a, b := cs[i], cs[j]
				if a.action.Type != b.action.Type && domain.Compatible(a.action.Type, b.action.Type) {
					// Composable pair, like cordon before drain.
					continue
				}
				if a.rec == b.rec {
					// Same source contradicting itself is always hard.
					return nil, &PolicyViolationError{
						Rule: RuleContradiction,
						Detail: fmt.Sprintf("source %s proposes both %s and %s for %s",
							recs[a.rec].Source, a.action.Type, b.action.Type, target),
					}
				}
				ra, rb := recs[a.rec], recs[b.rec]
				switch {
				case ra.PreservesAvailability && !rb.PreservesAvailability:
					excluded[b.rec] = true
				case rb.PreservesAvailability && !ra.PreservesAvailability:
					excluded[a.rec] = true
				default:
					return nil, &PolicyViolationError{
						Rule: RuleContradiction,
						Detail: fmt.Sprintf("%s (%s) and %s (%s) both target %s and neither yields",
							ra.Source, a.action.Type, rb.Source, b.action.Type, target),
					}
				}
			}
		}
	}

	var kept []Recommendation
	for i, rec := range recs {
		if excluded[i] {
			e.logger.Info("Stability dominates savings: dropping conflicting recommendation",
				zap.String("source", rec.Source),
				zap.Float64("foregone_savings", rec.EstimatedSavings),
			)
			continue
		}
		kept = append(kept, rec)
	}
	return kept, nil
}

func (e *Engine) targetsDangerPool(state *ClusterState, action domain.Action) bool {
	if e.tracker == nil {
		return false
	}
	pool, ok := actionPool(state, action)
	if !ok {
		return false
	}
	return e.tracker.CheckPoolRisk(pool) == domain.PoolDanger
}

// actionPool resolves the pool an action lands in: the launch destination
// for launches, the hosting node's pool otherwise.
func actionPool(state *ClusterState, action domain.Action) (domain.Pool, bool) {
	if action.Type == domain.ActionLaunchSpot {
		pool := domain.Pool{
			Region:       action.Params["region"],
			Zone:         action.Params["zone"],
			InstanceType: action.Params["instance_type"],
		}
		if pool.Validate() == nil {
			return pool, true
		}
		return domain.Pool{}, false
	}
	if state == nil {
		return domain.Pool{}, false
	}
	if node, ok := state.Node(action.Target); ok {
		return node.Pool, true
	}
	return domain.Pool{}, false
}

func (e *Engine) checkNonEvictable(state *ClusterState, plan *domain.ActionPlan) error {
	for _, action := range plan.Actions {
		if !displacesWorkloads(action.Type) {
			continue
		}
		if node, ok := state.Node(action.Target); ok && node.NonEvictable {
			return &PolicyViolationError{
				Rule:   RuleNonEvictable,
				Detail: fmt.Sprintf("%s targets node %s hosting a non-evictable workload", action.Type, node.ID),
			}
		}
	}
	return nil
}

func (e *Engine) checkCapacityFloor(state *ClusterState, plan *domain.ActionPlan) error {
	remaining := state.NodeCount() - removedNodes(plan)
	if remaining < e.cfg.MinNodes {
		return &PolicyViolationError{
			Rule: RuleCapacityFloor,
			Detail: fmt.Sprintf("plan leaves %d nodes, minimum is %d",
				remaining, e.cfg.MinNodes),
		}
	}
	return nil
}

func (e *Engine) checkHeadroom(state *ClusterState, plan *domain.ActionPlan) error {
	total, used := state.Capacity()
	for _, action := range plan.Actions {
		if !removesNode(action.Type) {
			continue
		}
		if node, ok := state.Node(action.Target); ok {
			total -= node.CapacityVCPU
			// Displaced load lands on the remaining nodes.
		}
	}
	if total <= 0 {
		if used > 0 {
			return &PolicyViolationError{Rule: RuleHeadroom, Detail: "plan removes all capacity"}
		}
		return nil
	}
	spare := (total - used) / total * 100
	if spare < e.cfg.HeadroomPct {
		return &PolicyViolationError{
			Rule: RuleHeadroom,
			Detail: fmt.Sprintf("plan leaves %.1f%% spare capacity, minimum is %.1f%%",
				spare, e.cfg.HeadroomPct),
		}
	}
	return nil
}

// displacesWorkloads reports whether the action type displaces workloads
// from its target node.
func displacesWorkloads(t domain.ActionType) bool {
	switch t {
	case domain.ActionTerminateInstance, domain.ActionDrainNode, domain.ActionEvictPod:
		return true
	}
	return false
}

// removesNode reports whether the action type removes its target node's
// capacity from the cluster.
func removesNode(t domain.ActionType) bool {
	return t == domain.ActionTerminateInstance || t == domain.ActionDrainNode
}

func removedNodes(plan *domain.ActionPlan) int {
	n := 0
	for _, action := range plan.Actions {
		if removesNode(action.Type) {
			n++
		}
	}
	return n
}

func (e *Engine) reject(ctx context.Context, err error) error {
	if v, ok := err.(*PolicyViolationError); ok {
		if e.violations != nil {
			e.violations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("rule", string(v.Rule)),
			))
		}
		e.logger.Warn("Rejected action plan",
			zap.String("rule", string(v.Rule)),
			zap.String("detail", v.Detail),
		)
	}
	return err
}
