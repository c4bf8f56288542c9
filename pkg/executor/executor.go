// Package executor carries out action plans across the two execution
// substrates: cloud-provider actions run directly and synchronously with
// retry, cluster actions go to the durable agent queue. Every action,
// successful or failed, dry-run or live, produces exactly one audit entry.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/cloud"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
)

// AgentQueue is the slice of the durable queue the executor needs.
type AgentQueue interface {
	Enqueue(ctx context.Context, action domain.Action) error
}

// ActionOutcome records how one action of a plan ended.
type ActionOutcome struct {
	Action domain.Action
	Result domain.AuditResult
	Err    error
}

// PlanResult aggregates the outcomes of one plan execution.
type PlanResult struct {
	PlanID   string
	Outcomes []ActionOutcome
}

// Failed returns the number of failed actions.
func (r *PlanResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == domain.AuditFailed {
			n++
		}
	}
	return n
}

// Executor routes each action of a plan to its substrate.
type Executor struct {
	logger *zap.Logger
	cfg    config.ExecutorConfig
	api    cloud.API
	queue  AgentQueue
	audit  *audit.Recorder

	tracer  trace.Tracer
	actions metric.Int64Counter

	// pending correlates queued agent actions with their asynchronous
	// results.
	mu      sync.Mutex
	pending map[string]domain.Action
}

// New builds an executor. The dry-run flag lives in cfg: process-wide,
// injected, read once per execution.
func New(logger *zap.Logger, cfg config.ExecutorConfig, api cloud.API, queue AgentQueue, recorder *audit.Recorder) *Executor {
	meter := otel.Meter("spothive.executor")

	e := &Executor{
		logger:  logger,
		cfg:     cfg,
		api:     api,
		queue:   queue,
		audit:   recorder,
		tracer:  otel.Tracer("spothive.executor"),
		pending: make(map[string]domain.Action),
	}

	var err error
	e.actions, err = meter.Int64Counter(
		"executor_actions_total",
		metric.WithDescription("Actions executed by substrate and result"),
	)
	if err != nil {
		logger.Warn("Failed to create actions counter", zap.Error(err))
	}
	return e
}

// Execute runs the plan. Independent actions continue past one another's
// failures; dependent steps arrive pre-bundled as a single atomic action,
// so no partial switch can occur here.
func (e *Executor) Execute(ctx context.Context, plan *domain.ActionPlan) (*PlanResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.actions", len(plan.Actions)),
		attribute.Bool("dry_run", e.cfg.DryRun),
	)

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("refusing invalid plan %s: %w", plan.ID, err)
	}

	dryRun := e.cfg.DryRun
	result := &PlanResult{PlanID: plan.ID}

	for _, action := range plan.Actions {
		outcome := e.executeAction(ctx, action, dryRun)
		result.Outcomes = append(result.Outcomes, outcome)

		if e.actions != nil {
			substrate, _ := action.Type.Substrate()
			e.actions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("substrate", string(substrate)),
				attribute.String("result", string(outcome.Result)),
			))
		}
	}

	e.logger.Info("Plan execution finished",
		zap.String("plan_id", plan.ID),
		zap.Int("actions", len(plan.Actions)),
		zap.Int("failed", result.Failed()),
		zap.Bool("dry_run", dryRun),
	)
	return result, nil
}

func (e *Executor) executeAction(ctx context.Context, action domain.Action, dryRun bool) ActionOutcome {
	substrate, err := action.Type.Substrate()
	if err != nil {
		e.audit.Record(e.cfg.Actor, action, domain.AuditSkipped, err.Error(), 0)
		return ActionOutcome{Action: action, Result: domain.AuditSkipped, Err: err}
	}

	if dryRun {
		detail := fmt.Sprintf("would execute %s on %s via %s substrate", action.Type, action.Target, substrate)
		e.audit.Record(e.cfg.Actor, action, domain.AuditWouldExecute, detail, 0)
		return ActionOutcome{Action: action, Result: domain.AuditWouldExecute}
	}

	start := time.Now()
	switch substrate {
	case domain.SubstrateCloud:
		err = e.executeCloud(ctx, action)
	default:
		err = e.queue.Enqueue(ctx, action)
	}
	elapsed := time.Since(start)

	if err != nil {
		e.audit.Record(e.cfg.Actor, action, domain.AuditFailed, err.Error(), elapsed)
		return ActionOutcome{Action: action, Result: domain.AuditFailed, Err: err}
	}

	if substrate == domain.SubstrateAgent {
		e.mu.Lock()
		e.pending[action.ID] = action
		e.mu.Unlock()
		e.audit.Record(e.cfg.Actor, action, domain.AuditQueued, "awaiting agent result", elapsed)
		return ActionOutcome{Action: action, Result: domain.AuditQueued}
	}

	e.audit.Record(e.cfg.Actor, action, domain.AuditExecuted, "", elapsed)
	return ActionOutcome{Action: action, Result: domain.AuditExecuted}
}

func (e *Executor) executeCloud(ctx context.Context, action domain.Action) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	switch action.Type {
	case domain.ActionLaunchSpot:
		req := cloud.LaunchRequest{
			Pool: domain.Pool{
				Region:       action.Params["region"],
				Zone:         action.Params["zone"],
				InstanceType: action.Params["instance_type"],
			},
			IdempotencyToken:  action.ID,
			ReplaceInstanceID: action.Params["replace_instance"],
		}
		instanceID, err := e.api.LaunchSpot(callCtx, req)
		if err != nil {
			return err
		}
		e.logger.Info("Launched spot instance",
			zap.String("instance_id", instanceID),
			zap.String("pool", req.Pool.ID()),
			zap.String("replacing", req.ReplaceInstanceID),
		)
		return nil
	case domain.ActionTerminateInstance:
		return e.api.TerminateInstance(callCtx, action.Target, action.ID)
	case domain.ActionDetachVolume:
		return e.api.DetachVolume(callCtx, action.Params["volume_id"], action.Target)
	case domain.ActionUpdateASG:
		desired := 0
		if _, err := fmt.Sscanf(action.Params["desired"], "%d", &desired); err != nil {
			return fmt.Errorf("update_asg requires a numeric desired capacity: %w", err)
		}
		return e.api.UpdateASGCapacity(callCtx, action.Target, desired)
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownActionType, action.Type)
}

// HandleResult receives an asynchronous agent result and correlates it back
// to the originating action. Unknown IDs are logged and dropped: the agent
// may report on actions from a previous process lifetime.
func (e *Executor) HandleResult(result domain.ActionResult) {
	e.mu.Lock()
	action, ok := e.pending[result.ActionID]
	if ok {
		delete(e.pending, result.ActionID)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("Agent result for unknown action",
			zap.String("action_id", result.ActionID),
			zap.Bool("success", result.Success),
		)
		return
	}

	outcome := domain.AuditCompleted
	if !result.Success {
		outcome = domain.AuditFailed
	}
	e.audit.Record("remote-agent", action, outcome, result.Detail, result.CompletedAt.Sub(action.CreatedAt))
}

// Pending returns the IDs of queued actions still awaiting agent results.
func (e *Executor) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	return ids
}
