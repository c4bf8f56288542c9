package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/engine"
	"github.com/spothive/spothive/pkg/pipeline/stages"
	"github.com/spothive/spothive/pkg/providers"
	"github.com/spothive/spothive/pkg/risk"
)

// testHarness wires a whole pipeline against in-memory collaborators.
type testHarness struct {
	provider *providers.StaticProvider
	tracker  *risk.Tracker
	recorder *audit.Recorder
	pipeline *Pipeline
}

func newHarness(t *testing.T, model risk.Model) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	sp := providers.NewStaticProvider()
	tracker := risk.NewTracker(logger, config.TrackerConfig{
		TacticalTTL:   30 * time.Minute,
		HistoryWindow: 360 * time.Hour,
		SweepInterval: time.Minute,
	})
	recorder := audit.NewRecorder(logger)

	p, err := New(logger,
		stages.NewInputStage(logger, sp, sp, time.Second),
		stages.NewHardwareStage(logger),
		stages.NewAdvisorStage(logger, sp, 0.20, time.Second),
		stages.NewScoreStage(logger, model, time.Second),
		stages.NewSafetyGateStage(logger, 0.85),
		stages.NewRankStage(logger),
		stages.NewOverrideStage(logger, sp, tracker, stages.OverrideConfig{
			SignalOverrideEnabled: true,
			SwitchMarginPts:       5,
			SignalTimeout:         time.Second,
		}),
		stages.NewActuateStage(logger,
			stages.NewDryRunActuator(logger, recorder, "test-pipeline"),
		),
	)
	require.NoError(t, err)

	return &testHarness{provider: sp, tracker: tracker, recorder: recorder, pipeline: p}
}

func (h *testHarness) addPool(pool domain.Pool, spot, onDemand, advisorFreq float64, spec domain.HardwareSpec) {
	h.provider.SpotPrices[pool.Key()] = spot
	h.provider.OnDemandPrices[pool.Key()] = onDemand
	h.provider.Frequencies[pool.Key()] = advisorFreq
	h.provider.Hardware[pool.InstanceType] = spec
}

func singleRequest(pool domain.Pool) domain.InputRequest {
	return domain.InputRequest{
		ID:              "req-1",
		Tenant:          "acme",
		Mode:            domain.ModeSingleInstance,
		Region:          pool.Region,
		NodeID:          "node-1",
		CurrentInstance: pool,
	}
}

func TestPipelineHealthyInstanceStays(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &risk.StaticModel{Score: 0.28})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})

	dc, err := h.pipeline.Run(context.Background(), singleRequest(pool))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionStay, dc.Decision())
	require.NotNil(t, dc.Selected)
	assert.Equal(t, pool.Key(), dc.Selected.Key())

	prob, err := dc.Selected.CrashProbability()
	require.NoError(t, err)
	assert.Equal(t, 0.28, prob)
}

func TestPipelineTerminationSignalEvacuates(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &risk.StaticModel{Score: 0.28})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.provider.SetSignal(pool, domain.SignalTermination)

	dc, err := h.pipeline.Run(context.Background(), singleRequest(pool))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionEvacuate, dc.Decision())

	// The dry-run actuator audited what a live run would do.
	entries := h.recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditWouldExecute, entries[0].Result)
	assert.Equal(t, domain.ActionEvictPod, entries[0].ActionType)
}

func TestPipelineRebalanceSignalDrains(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &risk.StaticModel{Score: 0.05})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.provider.SetSignal(pool, domain.SignalRebalance)

	dc, err := h.pipeline.Run(context.Background(), singleRequest(pool))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDrain, dc.Decision())
}

func TestPipelineCrossTenantFlagForcesDrain(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &risk.StaticModel{Score: 0.05})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})

	// Another tenant reports a termination in this pool before our run.
	h.tracker.FlagRiskyPool(pool, domain.RiskEventTermination, "tenant-other")

	dc, err := h.pipeline.Run(context.Background(), singleRequest(pool))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDrain, dc.Decision(),
		"the only candidate sits in a DANGER pool, leaving no viable option")
}

func TestPipelineModelFailureFailsClosed(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &failingModel{})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})

	dc, err := h.pipeline.Run(context.Background(), singleRequest(pool))
	require.NoError(t, err)

	// Maximum risk trips the safety gate; with no candidate left the
	// conservative fallback drains.
	assert.Equal(t, domain.DecisionDrain, dc.Decision())
}

func TestPipelineClusterModePicksCheaperPool(t *testing.T) {
	cheap := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	pricier := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "m5.large"}

	h := newHarness(t, &risk.StaticModel{Score: 0.30})
	h.addPool(cheap, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.addPool(pricier, 0.0321, 0.096, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.provider.RegionZones["ap-south-1"] = []string{"ap-south-1a"}
	h.provider.RegionTypes["ap-south-1"] = []string{"c5.large", "m5.large"}

	dc, err := h.pipeline.Run(context.Background(), domain.InputRequest{
		ID:           "req-2",
		Tenant:       "acme",
		Mode:         domain.ModeCluster,
		Region:       "ap-south-1",
		Requirements: domain.ResourceRequirements{MinVCPU: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionSwitch, dc.Decision(),
		"cluster requests have no committed instance, so the winner is a switch target")
	require.NotNil(t, dc.Selected)
	assert.Equal(t, cheap.Key(), dc.Selected.Key())
	assert.Greater(t, dc.Selected.YieldScore, 0.0)
}

func TestPipelineRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, &risk.StaticModel{Score: 0.1})

	_, err := h.pipeline.Run(context.Background(), domain.InputRequest{Mode: "nonsense"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPipelineAbandonedAtStageBoundary(t *testing.T) {
	pool := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	h := newHarness(t, &risk.StaticModel{Score: 0.1})
	h.addPool(pool, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dc, err := h.pipeline.Run(ctx, singleRequest(pool))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.DecisionUndetermined, dc.Decision())
}

func TestPipelineStageErrorIsWrappedWithStageName(t *testing.T) {
	logger := zap.NewNop()
	boom := errors.New("boom")
	p, err := New(logger, failingStage{err: boom})
	require.NoError(t, err)

	pool := domain.Pool{Region: "r", Zone: "z", InstanceType: "t"}
	_, err = p.Run(context.Background(), singleRequest(pool))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stage exploding")
}

func TestPipelineRequiresStages(t *testing.T) {
	_, err := New(zap.NewNop())
	assert.Error(t, err)
}

func TestDecisionAdvisorCollectsRecommendations(t *testing.T) {
	healthy := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"}
	doomed := domain.Pool{Region: "ap-south-1", Zone: "ap-south-1b", InstanceType: "c5.large"}

	h := newHarness(t, &risk.StaticModel{Score: 0.28})
	h.addPool(healthy, 0.0288, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.addPool(doomed, 0.0301, 0.085, 0.05, domain.HardwareSpec{VCPU: 2, MemoryGiB: 4})
	h.provider.SetSignal(doomed, domain.SignalTermination)

	requests := func(state *engine.ClusterState) []domain.InputRequest {
		reqs := make([]domain.InputRequest, 0, len(state.Nodes))
		for _, n := range state.Nodes {
			reqs = append(reqs, domain.InputRequest{
				ID:              "req-" + n.ID,
				Tenant:          "acme",
				Mode:            domain.ModeSingleInstance,
				Region:          n.Pool.Region,
				NodeID:          n.ID,
				CurrentInstance: n.Pool,
			})
		}
		return reqs
	}

	advisor := NewDecisionAdvisor(zap.NewNop(), h.pipeline, requests)
	recs, err := advisor.Advise(context.Background(), &engine.ClusterState{Nodes: []engine.Node{
		{ID: "node-1", Pool: healthy},
		{ID: "node-2", Pool: doomed},
	}})
	require.NoError(t, err)

	// STAY for the healthy node yields no recommendation; the signaled node
	// produces an evacuation.
	require.Len(t, recs, 1)
	assert.Equal(t, "decision_pipeline", recs[0].Source)
	require.NotEmpty(t, recs[0].Actions)
	assert.Equal(t, domain.ActionEvictPod, recs[0].Actions[0].Type)
}

type failingModel struct{}

func (failingModel) Name() string { return "failing" }
func (failingModel) Predict(context.Context, []*domain.Candidate) (map[string]float64, error) {
	return nil, errors.New("model unavailable")
}

type failingStage struct{ err error }

func (f failingStage) Name() string                                          { return "exploding" }
func (f failingStage) Process(context.Context, *domain.DecisionContext) error { return f.err }
