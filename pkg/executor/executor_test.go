package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/cloud"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
)

type fakeQueue struct {
	enqueued []domain.Action
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, action domain.Action) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, action)
	return nil
}

func testConfig(dryRun bool) config.ExecutorConfig {
	return config.ExecutorConfig{
		DryRun:        dryRun,
		Actor:         "test-executor",
		ActionTimeout: time.Second,
	}
}

func newTestExecutor(t *testing.T, dryRun bool) (*Executor, *cloud.FakeAPI, *fakeQueue, *audit.Recorder) {
	t.Helper()
	api := cloud.NewFakeAPI()
	queue := &fakeQueue{}
	recorder := audit.NewRecorder(zap.NewNop())
	exec := New(zap.NewNop(), testConfig(dryRun), api, queue, recorder)
	return exec, api, queue, recorder
}

func planOf(actions ...domain.Action) *domain.ActionPlan {
	plan := domain.NewActionPlan()
	plan.Actions = actions
	return plan
}

func TestExecuteDryRunAuditsEveryActionWithoutSideEffects(t *testing.T) {
	exec, api, queue, recorder := newTestExecutor(t, true)

	plan := planOf(
		domain.NewAction(domain.ActionTerminateInstance, "i-old", nil),
		domain.NewAction(domain.ActionEvictPod, "pod-1", nil),
	)

	result, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	for _, outcome := range result.Outcomes {
		assert.Equal(t, domain.AuditWouldExecute, outcome.Result)
	}

	// Two audit entries, one per action, and no side effects anywhere.
	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditWouldExecute, entries[0].Result)
	assert.Equal(t, domain.AuditWouldExecute, entries[1].Result)
	assert.Empty(t, api.Calls())
	assert.Empty(t, queue.enqueued)
}

func TestExecuteRoutesCloudAndAgentSubstrates(t *testing.T) {
	exec, api, queue, recorder := newTestExecutor(t, false)

	plan := planOf(
		domain.NewAction(domain.ActionTerminateInstance, "i-old", nil),
		domain.NewAction(domain.ActionDrainNode, "node-1", nil),
	)

	result, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, domain.AuditExecuted, result.Outcomes[0].Result)
	assert.Equal(t, domain.AuditQueued, result.Outcomes[1].Result)

	require.Len(t, api.Calls(), 1)
	assert.Equal(t, "terminate_instance", api.Calls()[0].Op)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, domain.ActionDrainNode, queue.enqueued[0].Type)

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditExecuted, entries[0].Result)
	assert.Equal(t, domain.AuditQueued, entries[1].Result)
}

func TestExecuteLaunchSpotPassesIdempotencyTokenAndReplacement(t *testing.T) {
	exec, api, _, _ := newTestExecutor(t, false)

	action := domain.NewAction(domain.ActionLaunchSpot, "node-1", map[string]string{
		"region":           "us-east-1",
		"zone":             "us-east-1b",
		"instance_type":    "c5.large",
		"replace_instance": "i-old",
	})

	_, err := exec.Execute(context.Background(), planOf(action))
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, action.ID, calls[0].Token)
	assert.Contains(t, calls[0].Target, "replacing i-old")
}

func TestExecuteContinuesPastIndependentFailures(t *testing.T) {
	exec, api, queue, recorder := newTestExecutor(t, false)
	api.FailOps["terminate_instance"] = errors.New("instance protected")

	plan := planOf(
		domain.NewAction(domain.ActionTerminateInstance, "i-old", nil),
		domain.NewAction(domain.ActionCordonNode, "node-2", nil),
	)

	result, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, domain.AuditFailed, result.Outcomes[0].Result)
	assert.Equal(t, domain.AuditQueued, result.Outcomes[1].Result)

	// The failure is audited and the second action still ran.
	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditFailed, entries[0].Result)
	assert.Len(t, queue.enqueued, 1)
}

func TestExecuteRefusesConflictingPlan(t *testing.T) {
	exec, api, queue, recorder := newTestExecutor(t, false)

	plan := planOf(
		domain.NewAction(domain.ActionTerminateInstance, "node-1", nil),
		domain.NewAction(domain.ActionLabelNode, "node-1", nil),
	)

	_, err := exec.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflictingActions)
	assert.Empty(t, api.Calls())
	assert.Empty(t, queue.enqueued)
	assert.Empty(t, recorder.Entries())
}

func TestExecuteQueueFailureIsAudited(t *testing.T) {
	exec, _, queue, recorder := newTestExecutor(t, false)
	queue.err = errors.New("stream unavailable")

	result, err := exec.Execute(context.Background(), planOf(
		domain.NewAction(domain.ActionEvictPod, "pod-1", nil),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditFailed, entries[0].Result)
	assert.Contains(t, entries[0].Detail, "stream unavailable")
}

func TestHandleResultCorrelatesPendingAction(t *testing.T) {
	exec, _, _, recorder := newTestExecutor(t, false)

	action := domain.NewAction(domain.ActionDrainNode, "node-1", nil)
	_, err := exec.Execute(context.Background(), planOf(action))
	require.NoError(t, err)
	require.Contains(t, exec.Pending(), action.ID)

	exec.HandleResult(domain.ActionResult{
		ActionID:    action.ID,
		Success:     true,
		Detail:      "drained 12 pods",
		CompletedAt: time.Now(),
	})

	assert.Empty(t, exec.Pending())
	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditCompleted, entries[1].Result)
	assert.Equal(t, "remote-agent", entries[1].Actor)
	assert.Equal(t, "drained 12 pods", entries[1].Detail)
}

func TestHandleResultFailureIsAudited(t *testing.T) {
	exec, _, _, recorder := newTestExecutor(t, false)

	action := domain.NewAction(domain.ActionDrainNode, "node-1", nil)
	_, err := exec.Execute(context.Background(), planOf(action))
	require.NoError(t, err)

	exec.HandleResult(domain.ActionResult{
		ActionID:    action.ID,
		Success:     false,
		Detail:      "pod disruption budget exceeded",
		CompletedAt: time.Now(),
	})

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditFailed, entries[1].Result)
}

func TestHandleResultUnknownActionIsDropped(t *testing.T) {
	exec, _, _, recorder := newTestExecutor(t, false)

	exec.HandleResult(domain.ActionResult{ActionID: "ghost", Success: true})
	assert.Empty(t, recorder.Entries())
}
