// Package pipeline orchestrates the multi-stage decision pipeline. Stages
// run strictly sequentially over one DecisionContext per request; the only
// state shared across concurrent requests lives behind the injected
// collaborators (risk tracker, providers).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

// Stage is one composable transformation of a decision context. Stages read
// and extend the context; they never reach outside it for authoritative
// state except via collaborators injected at construction.
type Stage interface {
	Name() string
	Process(ctx context.Context, dc *domain.DecisionContext) error
}

// Pipeline runs an ordered stage list over one context per decision request.
type Pipeline struct {
	logger *zap.Logger
	stages []Stage

	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
	decisions     metric.Int64Counter
}

// New builds a pipeline over the given stage order.
func New(logger *zap.Logger, stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}

	meter := otel.Meter("spothive.pipeline")

	p := &Pipeline{
		logger: logger,
		stages: stages,
		tracer: otel.Tracer("spothive.pipeline"),
	}

	var err error
	p.stageDuration, err = meter.Float64Histogram(
		"pipeline_stage_duration_ms",
		metric.WithDescription("Per-stage processing time in milliseconds"),
	)
	if err != nil {
		logger.Warn("Failed to create stage duration histogram", zap.Error(err))
	}

	p.decisions, err = meter.Int64Counter(
		"pipeline_decisions_total",
		metric.WithDescription("Completed decisions by outcome"),
	)
	if err != nil {
		logger.Warn("Failed to create decisions counter", zap.Error(err))
	}

	return p, nil
}

// Run validates the request, then drives it through every stage in order.
// The caller may abandon the request at any stage boundary via ctx; a
// stage that has started always runs to completion.
func (p *Pipeline) Run(ctx context.Context, req domain.InputRequest) (*domain.DecisionContext, error) {
	dc, err := domain.NewDecisionContext(req)
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.tenant", req.Tenant),
		attribute.String("request.mode", string(req.Mode)),
	)

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			dc.AppendTrace(stage.Name(), "abandoned before stage: %v", err)
			return dc, err
		}

		start := time.Now()
		err := stage.Process(ctx, dc)
		elapsed := time.Since(start)

		if p.stageDuration != nil {
			p.stageDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, metric.WithAttributes(
				attribute.String("stage", stage.Name()),
			))
		}

		if err != nil {
			p.logger.Error("Pipeline stage failed",
				zap.String("request_id", req.ID),
				zap.String("stage", stage.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			return dc, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		p.logger.Debug("Pipeline stage complete",
			zap.String("request_id", req.ID),
			zap.String("stage", stage.Name()),
			zap.Int("candidates", len(dc.Candidates)),
			zap.Duration("elapsed", elapsed),
		)
	}

	if p.decisions != nil {
		p.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", string(dc.Decision())),
			attribute.String("tenant", req.Tenant),
		))
	}
	span.SetAttributes(attribute.String("decision", string(dc.Decision())))

	return dc, nil
}
