// Package stages holds the pipeline stage implementations in execution
// order: input adaptation, hardware and advisor filtering, risk scoring,
// the safety gate, ranking, the reactive override, and actuation.
package stages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/providers"
)

const inputStageName = "input"

// InputStage populates candidates from the request. Single-instance mode
// yields exactly one candidate: the instance currently in use. Cluster mode
// yields every instance-type/zone combination the region offers; hardware
// fit is the next stage's job.
type InputStage struct {
	logger   *zap.Logger
	prices   providers.PriceProvider
	metadata providers.MetadataProvider
	timeout  time.Duration
}

// NewInputStage builds the stage. timeout bounds each provider call.
func NewInputStage(logger *zap.Logger, prices providers.PriceProvider, metadata providers.MetadataProvider, timeout time.Duration) *InputStage {
	return &InputStage{logger: logger, prices: prices, metadata: metadata, timeout: timeout}
}

func (s *InputStage) Name() string { return inputStageName }

func (s *InputStage) Process(ctx context.Context, dc *domain.DecisionContext) error {
	switch dc.Request.Mode {
	case domain.ModeSingleInstance:
		s.populateSingle(ctx, dc)
	case domain.ModeCluster:
		s.populateCluster(ctx, dc)
	}
	dc.AppendTrace(inputStageName, "populated %d candidates (%s mode)", len(dc.Candidates), dc.Request.Mode)
	return nil
}

func (s *InputStage) populateSingle(ctx context.Context, dc *domain.DecisionContext) {
	pool := dc.Request.CurrentInstance
	if c := s.buildCandidate(ctx, dc, pool); c != nil {
		dc.Candidates = append(dc.Candidates, c)
	}
}

func (s *InputStage) populateCluster(ctx context.Context, dc *domain.DecisionContext) {
	region := dc.Request.Region

	types, err := s.metadata.InstanceTypes(ctx, region)
	if err != nil {
		dc.AppendTrace(inputStageName, "instance type discovery failed: %v", err)
		return
	}
	zones, err := s.metadata.Zones(ctx, region)
	if err != nil {
		dc.AppendTrace(inputStageName, "zone discovery failed: %v", err)
		return
	}

	for _, zone := range zones {
		for _, instanceType := range types {
			pool := domain.Pool{Region: region, Zone: zone, InstanceType: instanceType}
			if c := s.buildCandidate(ctx, dc, pool); c != nil {
				dc.Candidates = append(dc.Candidates, c)
			}
		}
	}
}

// buildCandidate fetches hardware and prices for one pool. A provider
// failure drops the candidate with a recorded reason; it never fails the
// whole request.
func (s *InputStage) buildCandidate(ctx context.Context, dc *domain.DecisionContext, pool domain.Pool) *domain.Candidate {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hardware, err := s.metadata.HardwareSpec(callCtx, pool.InstanceType)
	if err != nil {
		dc.AppendTrace(inputStageName, "dropped %s: hardware spec unavailable: %v", pool.Key(), err)
		return nil
	}
	spot, err := s.prices.SpotPrice(callCtx, pool)
	if err != nil {
		dc.AppendTrace(inputStageName, "dropped %s: spot price unavailable: %v", pool.Key(), err)
		return nil
	}
	onDemand, err := s.prices.OnDemandPrice(callCtx, pool)
	if err != nil {
		dc.AppendTrace(inputStageName, "dropped %s: on-demand price unavailable: %v", pool.Key(), err)
		return nil
	}

	return &domain.Candidate{
		Pool:          pool,
		SpotPrice:     spot,
		OnDemandPrice: onDemand,
		Hardware:      hardware,
	}
}
