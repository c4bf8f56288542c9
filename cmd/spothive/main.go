package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spothive/spothive/pkg/agentqueue"
	"github.com/spothive/spothive/pkg/api"
	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/cloud"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/engine"
	"github.com/spothive/spothive/pkg/executor"
	"github.com/spothive/spothive/pkg/orchestrator"
	"github.com/spothive/spothive/pkg/pipeline"
	"github.com/spothive/spothive/pkg/pipeline/stages"
	"github.com/spothive/spothive/pkg/providers"
	"github.com/spothive/spothive/pkg/risk"
	"github.com/spothive/spothive/pkg/telemetry"
)

const version = "0.3.0"

var (
	configPath  string
	logLevel    string
	catalogPath string
	requestPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "spothive",
		Short:   "Spot-market compute cost optimizer",
		Long:    "SpotHive continuously evaluates spot capacity pools, scores their interruption risk, and decides when workloads should stay, switch, drain, or evacuate.",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision service",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a provider catalog file")

	decideCmd := &cobra.Command{
		Use:   "decide",
		Short: "Run one request through the pipeline in dry-run mode",
		RunE:  runDecide,
	}
	decideCmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a provider catalog file")
	decideCmd.Flags().StringVar(&requestPath, "request", "", "Path to a request file")
	if err := decideCmd.MarkFlagRequired("catalog"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := decideCmd.MarkFlagRequired("request"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, decideCmd)

	viper.SetEnvPrefix("SPOTHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	return zapCfg.Build()
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		configPath = viper.GetString("config")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildModel selects the risk model by kind. The trained model reads its
// artifact immediately and optionally hot-reloads it on file changes.
func buildModel(ctx context.Context, logger *zap.Logger, cfg config.ModelConfig, advisor risk.AdvisorData, history risk.HistorySource) (risk.Model, error) {
	switch cfg.Kind {
	case "static":
		return &risk.StaticModel{Score: cfg.StaticScore}, nil
	case "random":
		return &risk.RandomModel{Seed: cfg.Seed}, nil
	case "trained":
		model, err := risk.NewTrainedModel(logger, cfg.ArtifactPath, advisor, history)
		if err != nil {
			return nil, fmt.Errorf("loading trained model: %w", err)
		}
		if cfg.WatchArtifact {
			// Watch blocks until ctx ends; it must not hold up startup.
			go func() {
				if err := model.Watch(ctx, cfg.ArtifactPath); err != nil {
					logger.Warn("Model artifact watcher stopped", zap.Error(err))
				}
			}()
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.Kind)
	}
}

// buildProviders layers retry and caching over the raw source: transient
// price and advisor failures are retried before the pipeline drops the
// affected candidate, and priced lookups are memoized behind the retry.
func buildProviders(cfg *config.Config, sp *providers.StaticProvider) (providers.PriceProvider, providers.SpotAdvisor, error) {
	policy := providers.RetryPolicy{
		MaxRetries:      cfg.Pipeline.ProviderMaxRetries,
		InitialInterval: cfg.Pipeline.ProviderRetryInitialInterval,
		MaxInterval:     cfg.Pipeline.ProviderRetryMaxInterval,
	}
	prices, err := providers.NewCachedPriceProvider(
		providers.NewRetryingPriceProvider(sp, policy), 4096, 5*time.Minute)
	if err != nil {
		return nil, nil, fmt.Errorf("building price cache: %w", err)
	}
	return prices, providers.NewRetryingSpotAdvisor(sp, policy), nil
}

// buildPipeline assembles the stage chain. Stage order is fixed; only the
// actuator set varies by configuration.
func buildPipeline(logger *zap.Logger, cfg *config.Config, sp *providers.StaticProvider, tracker *risk.Tracker, model risk.Model, recorder *audit.Recorder, exec *executor.Executor, eng *engine.Engine) (*pipeline.Pipeline, error) {
	prices, advisor, err := buildProviders(cfg, sp)
	if err != nil {
		return nil, err
	}

	var actuators []stages.Actuator
	for _, name := range cfg.Pipeline.Actuators {
		switch name {
		case "dryrun":
			actuators = append(actuators, stages.NewDryRunActuator(logger, recorder, cfg.Executor.Actor))
		case "metrics":
			actuators = append(actuators, stages.NewMetricsActuator(logger))
		case "live":
			state := func(ctx context.Context) (*engine.ClusterState, error) {
				// Empty inventory until a node source is wired in; the
				// engine rejects capacity-reducing plans against it.
				return &engine.ClusterState{}, nil
			}
			actuators = append(actuators, stages.NewLiveActuator(logger, eng, exec, state))
		default:
			return nil, fmt.Errorf("unknown actuator %q", name)
		}
	}

	return pipeline.New(logger,
		stages.NewInputStage(logger, prices, sp, cfg.Pipeline.ProviderTimeout),
		stages.NewHardwareStage(logger),
		stages.NewAdvisorStage(logger, advisor, cfg.Pipeline.AdvisorMaxInterruption, cfg.Pipeline.ProviderTimeout),
		stages.NewScoreStage(logger, model, cfg.Pipeline.ModelTimeout),
		stages.NewSafetyGateStage(logger, cfg.Pipeline.SafetyGateCutoff),
		stages.NewRankStage(logger),
		stages.NewOverrideStage(logger, sp, tracker, stages.OverrideConfig{
			SignalOverrideEnabled: cfg.Pipeline.SignalOverrideEnabled,
			SwitchMarginPts:       cfg.Pipeline.SwitchMarginPct,
			SignalTimeout:         cfg.Pipeline.ProviderTimeout,
		}),
		stages.NewActuateStage(logger, actuators...),
	)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(logger, cfg.Orchestrator)

	// The telemetry server installs the global meter provider; it must exist
	// before any component registers instruments.
	telemetryServer, err := telemetry.New(logger, cfg.Telemetry, poolStats{orch})
	if err != nil {
		return fmt.Errorf("building telemetry: %w", err)
	}

	sp := providers.NewStaticProvider()
	if catalogPath != "" {
		sp, err = providers.LoadStatic(catalogPath)
		if err != nil {
			return err
		}
	}

	tracker := risk.NewTracker(logger, cfg.Tracker)
	go tracker.Start(ctx)

	model, err := buildModel(ctx, logger, cfg.Model, sp, tracker)
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(logger)

	// Cloud calls go through the rate-limited retrying wrapper. The fake
	// backend stands in until a provider-specific API client is injected.
	cloudAPI := cloud.NewResilientAPI(logger, cloud.NewFakeAPI(), cfg.Executor)

	queue, err := agentqueue.New(logger, cfg.NATS)
	if err != nil {
		return fmt.Errorf("connecting agent queue: %w", err)
	}
	defer queue.Close()

	exec := executor.New(logger, cfg.Executor, cloudAPI, queue, recorder)
	eng := engine.New(logger, cfg.Engine, tracker)

	pipe, err := buildPipeline(logger, cfg, sp, tracker, model, recorder, exec, eng)
	if err != nil {
		return err
	}

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := orch.Stop(); err != nil {
			logger.Warn("Orchestrator stop", zap.Error(err))
		}
	}()

	go func() {
		if err := queue.ConsumeResults(ctx, exec.HandleResult); err != nil && ctx.Err() == nil {
			logger.Error("Result consumer stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := telemetryServer.Start(); err != nil {
			logger.Error("Telemetry server failed", zap.Error(err))
			stop()
		}
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(logger, cfg.API, pipe, orch, tracker, recorder)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("API server failed", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("SpotHive running",
		zap.String("version", version),
		zap.Bool("dry_run", cfg.Executor.DryRun),
		zap.Strings("actuators", cfg.Pipeline.Actuators),
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown", zap.Error(err))
		}
	}
	if err := telemetryServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown", zap.Error(err))
	}
	return nil
}

func runDecide(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot evaluation never mutates anything.
	cfg.Executor.DryRun = true
	cfg.Pipeline.Actuators = []string{"dryrun"}

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sp, err := providers.LoadStatic(catalogPath)
	if err != nil {
		return err
	}

	var req domain.InputRequest
	data, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("reading request %s: %w", requestPath, err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing request %s: %w", requestPath, err)
	}

	tracker := risk.NewTracker(logger, cfg.Tracker)
	model, err := buildModel(ctx, logger, cfg.Model, sp, tracker)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(logger)

	pipe, err := buildPipeline(logger, cfg, sp, tracker, model, recorder, nil, nil)
	if err != nil {
		return err
	}

	dc, err := pipe.Run(ctx, req)
	if err != nil {
		return err
	}

	printDecision(dc)
	return nil
}

func printDecision(dc *domain.DecisionContext) {
	fmt.Printf("decision: %s\n", dc.Decision())
	if dc.Selected != nil {
		prob := 0.0
		if p, err := dc.Selected.CrashProbability(); err == nil {
			prob = p
		}
		fmt.Printf("selected: %s yield=%.2f risk=%.3f spot=$%.4f/h\n",
			dc.Selected.Pool.ID(), dc.Selected.YieldScore, prob, dc.Selected.SpotPrice)
	}
	fmt.Println("trace:")
	for _, entry := range dc.Trace() {
		fmt.Printf("  [%s] %s\n", entry.Stage, entry.Message)
	}
}

// poolStats adapts orchestrator stats to the telemetry stats endpoint.
type poolStats struct {
	orch *orchestrator.Orchestrator
}

func (p poolStats) Stats() map[string]any {
	out := make(map[string]any)
	for name, s := range p.orch.Stats() {
		out[name] = s
	}
	return out
}
