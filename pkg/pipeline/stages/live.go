package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/engine"
	"github.com/spothive/spothive/pkg/executor"
)

// StateProvider supplies the cluster snapshot a live actuation resolves
// its plan against.
type StateProvider func(ctx context.Context) (*engine.ClusterState, error)

// LiveActuator turns the decision into a real action plan and executes it:
// the decision engine applies the global safety policy, the executor routes
// the surviving actions to their substrates. Executor-level dry-run still
// applies underneath.
type LiveActuator struct {
	logger *zap.Logger
	engine *engine.Engine
	exec   *executor.Executor
	state  StateProvider
}

// NewLiveActuator builds the actuator.
func NewLiveActuator(logger *zap.Logger, eng *engine.Engine, exec *executor.Executor, state StateProvider) *LiveActuator {
	return &LiveActuator{logger: logger, engine: eng, exec: exec, state: state}
}

func (a *LiveActuator) Name() string { return "live" }

func (a *LiveActuator) Actuate(ctx context.Context, dc *domain.DecisionContext) error {
	if dc.Decision() == domain.DecisionStay {
		dc.AppendTrace("live", "STAY: nothing to execute")
		return nil
	}

	rec, ok := engine.FromDecision("pipeline_live_actuator", dc)
	if !ok {
		dc.AppendTrace("live", "decision %s produced no executable action", dc.Decision())
		return nil
	}

	state, err := a.state(ctx)
	if err != nil {
		return fmt.Errorf("cluster state unavailable: %w", err)
	}

	plan, err := a.engine.Resolve(ctx, state, []engine.Recommendation{rec})
	if err != nil {
		dc.AppendTrace("live", "plan rejected: %v", err)
		return err
	}

	result, err := a.exec.Execute(ctx, plan)
	if err != nil {
		return err
	}
	dc.AppendTrace("live", "executed plan %s: %d actions, %d failed",
		plan.ID, len(plan.Actions), result.Failed())
	if failed := result.Failed(); failed > 0 {
		a.logger.Warn("Plan executed with failures",
			zap.String("plan_id", plan.ID),
			zap.Int("failed", failed),
		)
	}
	return nil
}
