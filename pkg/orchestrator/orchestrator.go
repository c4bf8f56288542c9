// Package orchestrator runs decision requests concurrently. Each request's
// pipeline is strictly sequential; concurrency comes from running many
// requests at once across three pools: interruption handling runs wide
// because it is latency-critical, routine optimization runs moderate, and
// discovery scans are serialized to a single worker so scans never overlap.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/config"
)

// Job is one unit of work: typically one decision request.
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// pool is a fixed-size worker pool over a buffered job queue.
type pool struct {
	name string
	jobs chan Job

	submitted int64
	completed int64
	failed    int64
}

// Orchestrator owns the three pools and their lifecycle.
type Orchestrator struct {
	logger *zap.Logger
	cfg    config.OrchestratorConfig

	interrupt *pool
	optimize  *pool
	scan      *pool

	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	jobsProcessed metric.Int64Counter
	jobDuration   metric.Float64Histogram
}

// New builds an orchestrator from the configured pool sizes.
func New(logger *zap.Logger, cfg config.OrchestratorConfig) *Orchestrator {
	meter := otel.Meter("spothive.orchestrator")

	o := &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		interrupt: &pool{name: "interrupt", jobs: make(chan Job, cfg.QueueSize)},
		optimize:  &pool{name: "optimize", jobs: make(chan Job, cfg.QueueSize)},
		scan:      &pool{name: "scan", jobs: make(chan Job, cfg.QueueSize)},
	}

	var err error
	o.jobsProcessed, err = meter.Int64Counter(
		"orchestrator_jobs_total",
		metric.WithDescription("Jobs processed by pool and result"),
	)
	if err != nil {
		logger.Warn("Failed to create jobs counter", zap.Error(err))
	}
	o.jobDuration, err = meter.Float64Histogram(
		"orchestrator_job_duration_ms",
		metric.WithDescription("Job processing time in milliseconds"),
	)
	if err != nil {
		logger.Warn("Failed to create job duration histogram", zap.Error(err))
	}
	return o
}

// Start launches all workers. It is an error to start twice.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator is already running")
	}

	ctx, o.cancel = context.WithCancel(ctx)

	o.startPool(ctx, o.interrupt, o.cfg.InterruptWorkers)
	o.startPool(ctx, o.optimize, o.cfg.OptimizeWorkers)
	o.startPool(ctx, o.scan, o.cfg.ScanWorkers)

	o.logger.Info("Orchestrator started",
		zap.Int("interrupt_workers", o.cfg.InterruptWorkers),
		zap.Int("optimize_workers", o.cfg.OptimizeWorkers),
		zap.Int("scan_workers", o.cfg.ScanWorkers),
	)
	return nil
}

func (o *Orchestrator) startPool(ctx context.Context, p *pool, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.runWorker(ctx, p)
	}
}

// Stop drains the workers and blocks until they exit.
func (o *Orchestrator) Stop() error {
	if !o.running.CompareAndSwap(true, false) {
		return fmt.Errorf("orchestrator is not running")
	}
	o.cancel()
	o.wg.Wait()

	o.logger.Info("Orchestrator stopped",
		zap.Int64("interrupt_completed", atomic.LoadInt64(&o.interrupt.completed)),
		zap.Int64("optimize_completed", atomic.LoadInt64(&o.optimize.completed)),
		zap.Int64("scan_completed", atomic.LoadInt64(&o.scan.completed)),
	)
	return nil
}

// SubmitInterrupt queues a latency-critical interruption job.
func (o *Orchestrator) SubmitInterrupt(job Job) error { return o.submit(o.interrupt, job) }

// SubmitOptimize queues a routine optimization job.
func (o *Orchestrator) SubmitOptimize(job Job) error { return o.submit(o.optimize, job) }

// SubmitScan queues a discovery scan. The scan pool has one worker, so
// scans for a tenant never run concurrently with each other.
func (o *Orchestrator) SubmitScan(job Job) error { return o.submit(o.scan, job) }

func (o *Orchestrator) submit(p *pool, job Job) error {
	if !o.running.Load() {
		return fmt.Errorf("orchestrator is not running")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.ID)
	}
	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return fmt.Errorf("%s queue is full", p.name)
	}
}

func (o *Orchestrator) runWorker(ctx context.Context, p *pool) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			o.processJob(ctx, p, job)
		}
	}
}

func (o *Orchestrator) processJob(ctx context.Context, p *pool, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		atomic.AddInt64(&p.failed, 1)
		o.logger.Error("Job failed",
			zap.String("pool", p.name),
			zap.String("job_id", job.ID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}

	attrs := metric.WithAttributes(
		attribute.String("pool", p.name),
		attribute.String("result", result),
	)
	if o.jobsProcessed != nil {
		o.jobsProcessed.Add(ctx, 1, attrs)
	}
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
	}
}

// Stats reports per-pool counters for health endpoints.
func (o *Orchestrator) Stats() map[string]PoolStats {
	return map[string]PoolStats{
		"interrupt": o.interrupt.stats(),
		"optimize":  o.optimize.stats(),
		"scan":      o.scan.stats(),
	}
}

// PoolStats is one pool's counters.
type PoolStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

func (p *pool) stats() PoolStats {
	return PoolStats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Queued:    len(p.jobs),
	}
}
