package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/engine"
)

// RequestBuilder maps a cluster snapshot to the decision requests the
// advisor should evaluate, typically one per managed node.
type RequestBuilder func(state *engine.ClusterState) []domain.InputRequest

// DecisionAdvisor adapts the pipeline to the decision engine's advisory
// interface: it runs one pipeline request per managed node and converts
// non-STAY decisions into recommendations.
type DecisionAdvisor struct {
	logger   *zap.Logger
	pipeline *Pipeline
	requests RequestBuilder
}

// NewDecisionAdvisor builds the adapter.
func NewDecisionAdvisor(logger *zap.Logger, p *Pipeline, requests RequestBuilder) *DecisionAdvisor {
	return &DecisionAdvisor{logger: logger, pipeline: p, requests: requests}
}

func (a *DecisionAdvisor) Name() string { return "decision_pipeline" }

func (a *DecisionAdvisor) Advise(ctx context.Context, state *engine.ClusterState) ([]engine.Recommendation, error) {
	var recs []engine.Recommendation
	for _, req := range a.requests(state) {
		dc, err := a.pipeline.Run(ctx, req)
		if err != nil {
			// One node's pipeline failure does not silence the others.
			a.logger.Warn("Pipeline run failed for node",
				zap.String("node_id", req.NodeID),
				zap.Error(err),
			)
			continue
		}
		if rec, ok := engine.FromDecision(a.Name(), dc); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}
