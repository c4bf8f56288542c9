package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/orchestrator"
	"github.com/spothive/spothive/pkg/pipeline"
	"github.com/spothive/spothive/pkg/risk"
)

// stayStage decides STAY for every request so handler plumbing can be
// exercised without a full provider setup.
type stayStage struct{}

func (stayStage) Name() string { return "stay" }

func (stayStage) Process(_ context.Context, dc *domain.DecisionContext) error {
	dc.AppendTrace("stay", "decided")
	return dc.SetDecision(domain.DecisionStay)
}

type serverFixture struct {
	ts       *httptest.Server
	tracker  *risk.Tracker
	recorder *audit.Recorder
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := zap.NewNop()

	pipe, err := pipeline.New(logger, stayStage{})
	require.NoError(t, err)

	orch := orchestrator.New(logger, config.OrchestratorConfig{
		InterruptWorkers: 1,
		OptimizeWorkers:  1,
		ScanWorkers:      1,
		QueueSize:        4,
	})
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Stop() })

	tracker := risk.NewTracker(logger, config.TrackerConfig{
		TacticalTTL:   30 * time.Minute,
		HistoryWindow: 360 * time.Hour,
		SweepInterval: time.Minute,
	})
	recorder := audit.NewRecorder(logger)

	s := New(logger, config.APIConfig{ListenAddr: ":0"}, pipe, orch, tracker, recorder)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, tracker: tracker, recorder: recorder}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func TestDecideReturnsDecision(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.ts.URL+"/v1/decide", domain.InputRequest{
		ID:              "req-1",
		Tenant:          "acme",
		Mode:            domain.ModeSingleInstance,
		Region:          "ap-south-1",
		NodeID:          "node-1",
		CurrentInstance: domain.Pool{Region: "ap-south-1", Zone: "ap-south-1a", InstanceType: "c5.large"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out decideResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, domain.DecisionStay, out.Decision)
	require.NotEmpty(t, out.Trace)
	assert.Equal(t, "stay", out.Trace[0].Stage)
}

func TestDecideRejectsInvalidRequest(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.ts.URL+"/v1/decide", domain.InputRequest{ID: "req-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecideRejectsMalformedBody(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.ts.URL+"/v1/decide", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRiskLookupAndFlagging(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.ts.URL + "/v1/risk/us-east-1/us-east-1a/c5.large")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lookup struct {
		Risk domain.PoolRisk `json:"risk"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lookup))
	assert.Equal(t, domain.PoolSafe, lookup.Risk)

	flagResp := postJSON(t, f.ts.URL+"/v1/risk/us-east-1/us-east-1a/c5.large/flag", map[string]string{
		"event_type":  "termination",
		"attribution": "agent-7",
	})
	defer flagResp.Body.Close()
	require.Equal(t, http.StatusAccepted, flagResp.StatusCode)

	var flagged struct {
		Risk domain.PoolRisk `json:"risk"`
	}
	require.NoError(t, json.NewDecoder(flagResp.Body).Decode(&flagged))
	assert.Equal(t, domain.PoolDanger, flagged.Risk)
}

func TestFlagRejectsUnknownEventType(t *testing.T) {
	f := newServerFixture(t)

	resp := postJSON(t, f.ts.URL+"/v1/risk/us-east-1/us-east-1a/c5.large/flag", map[string]string{
		"event_type": "meteor-strike",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditEndpointReturnsEntries(t *testing.T) {
	f := newServerFixture(t)
	f.recorder.Record("test", domain.NewAction(domain.ActionCordonNode, "n1", nil), domain.AuditExecuted, "", 0)

	resp, err := http.Get(f.ts.URL + "/v1/audit")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []domain.AuditLogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionCordonNode, entries[0].ActionType)
}
