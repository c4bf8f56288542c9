package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. Every recognized option is enumerated
// here; nothing in the core hardcodes a threshold.
type Config struct {
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Model        ModelConfig        `yaml:"model"`
	Engine       EngineConfig       `yaml:"engine"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	NATS         NATSConfig         `yaml:"nats"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	API          APIConfig          `yaml:"api"`
}

// PipelineConfig controls the decision pipeline and its stages.
type PipelineConfig struct {
	// AdvisorMaxInterruption drops candidates whose historical interruption
	// frequency exceeds this fraction.
	AdvisorMaxInterruption float64 `yaml:"advisor_max_interruption"`
	// SafetyGateCutoff hard-rejects candidates above this crash probability.
	// It is a final backstop independent of ranking weights.
	SafetyGateCutoff float64 `yaml:"safety_gate_cutoff"`
	// SwitchMarginPct is the minimum yield improvement, in percent, a
	// candidate must show over the current instance to justify a switch.
	SwitchMarginPct float64 `yaml:"switch_margin_pct"`
	// SignalOverrideEnabled lets interruption signals force the decision.
	// Disable only for offline simulation.
	SignalOverrideEnabled bool `yaml:"signal_override_enabled"`
	// ModelTimeout bounds one risk model prediction call. A timeout is a
	// prediction failure, never a hang.
	ModelTimeout time.Duration `yaml:"model_timeout"`
	// ProviderTimeout bounds one price/metadata/advisor/signal call.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	// Provider retry policy: transient price/advisor failures are retried
	// with bounded exponential backoff before a candidate is dropped.
	ProviderMaxRetries           int           `yaml:"provider_max_retries"`
	ProviderRetryInitialInterval time.Duration `yaml:"provider_retry_initial_interval"`
	ProviderRetryMaxInterval     time.Duration `yaml:"provider_retry_max_interval"`
	// Actuators selects which actuators run: dryrun, live, metrics.
	Actuators []string `yaml:"actuators"`
}

// TrackerConfig controls the global risk tracker. The tactical TTL and the
// historical window are two deliberately separate mechanisms.
type TrackerConfig struct {
	// TacticalTTL is the recovery window for a flagged pool.
	TacticalTTL time.Duration `yaml:"tactical_ttl"`
	// HistoryWindow bounds the long-horizon event log used for model
	// features.
	HistoryWindow time.Duration `yaml:"history_window"`
	// SweepInterval is how often expired state is swept in the background.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ModelConfig selects and configures the risk model.
type ModelConfig struct {
	// Kind is one of static, random, trained.
	Kind string `yaml:"kind"`
	// StaticScore is the fixed score of the static model.
	StaticScore float64 `yaml:"static_score"`
	// Seed seeds the random model.
	Seed int64 `yaml:"seed"`
	// ArtifactPath locates the trained model artifact.
	ArtifactPath string `yaml:"artifact_path"`
	// WatchArtifact hot-reloads the artifact when the file changes.
	WatchArtifact bool `yaml:"watch_artifact"`
}

// EngineConfig holds the decision engine's global safety policy.
type EngineConfig struct {
	// MinNodes is the capacity floor: no plan may reduce the node count
	// below it.
	MinNodes int `yaml:"min_nodes"`
	// HeadroomPct is the minimum spare capacity, in percent, required after
	// a plan executes.
	HeadroomPct float64 `yaml:"headroom_pct"`
}

// ExecutorConfig controls action execution.
type ExecutorConfig struct {
	// DryRun logs every action's would-be effect and mutates nothing. It is
	// process-wide configuration injected at construction, not a hidden
	// global.
	DryRun bool `yaml:"dry_run"`
	// Actor names the executing identity in audit entries.
	Actor string `yaml:"actor"`
	// ActionTimeout bounds one cloud API call.
	ActionTimeout time.Duration `yaml:"action_timeout"`
	// Cloud API retry and rate limiting.
	MaxRetries           int           `yaml:"max_retries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
	CloudRateLimit       int           `yaml:"cloud_rate_limit"`
	CloudRateBurst       int           `yaml:"cloud_rate_burst"`
}

// OrchestratorConfig sizes the worker pools. Interruption handling is
// latency-critical and runs wide; discovery scans are serialized to one
// worker so scans never overlap.
type OrchestratorConfig struct {
	InterruptWorkers int `yaml:"interrupt_workers"`
	OptimizeWorkers  int `yaml:"optimize_workers"`
	ScanWorkers      int `yaml:"scan_workers"`
	QueueSize        int `yaml:"queue_size"`
}

// NATSConfig holds the durable agent-queue configuration.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Name              string        `yaml:"name"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectWait     time.Duration `yaml:"reconnect_wait"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	ActionsStreamName string        `yaml:"actions_stream_name"`
	ActionsSubject    string        `yaml:"actions_subject"`
	ResultsSubject    string        `yaml:"results_subject"`
	MaxAge            time.Duration `yaml:"max_age"`
	Replicas          int           `yaml:"replicas"`
	DuplicateWindow   time.Duration `yaml:"duplicate_window"`

	ConsumerName string        `yaml:"consumer_name"`
	AckWait      time.Duration `yaml:"ack_wait"`
	MaxDeliver   int           `yaml:"max_deliver"`
	BatchSize    int           `yaml:"batch_size"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// APIConfig controls the decision HTTP surface.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns production-ready defaults, overridable via SPOTHIVE_*
// environment variables.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			AdvisorMaxInterruption: getEnvFloat("SPOTHIVE_ADVISOR_MAX_INTERRUPTION", 0.20),
			SafetyGateCutoff:       getEnvFloat("SPOTHIVE_SAFETY_GATE_CUTOFF", 0.85),
			SwitchMarginPct:        getEnvFloat("SPOTHIVE_SWITCH_MARGIN_PCT", 5.0),
			SignalOverrideEnabled:  getEnvBool("SPOTHIVE_SIGNAL_OVERRIDE", true),
			ModelTimeout:           getEnvDuration("SPOTHIVE_MODEL_TIMEOUT", "2s"),
			ProviderTimeout:        getEnvDuration("SPOTHIVE_PROVIDER_TIMEOUT", "5s"),

			ProviderMaxRetries:           getEnvInt("SPOTHIVE_PROVIDER_MAX_RETRIES", 3),
			ProviderRetryInitialInterval: getEnvDuration("SPOTHIVE_PROVIDER_RETRY_INITIAL", "100ms"),
			ProviderRetryMaxInterval:     getEnvDuration("SPOTHIVE_PROVIDER_RETRY_MAX", "2s"),
			Actuators:              []string{"dryrun", "metrics"},
		},
		Tracker: TrackerConfig{
			TacticalTTL:   getEnvDuration("SPOTHIVE_TRACKER_TTL", "30m"),
			HistoryWindow: getEnvDuration("SPOTHIVE_TRACKER_HISTORY_WINDOW", "360h"),
			SweepInterval: getEnvDuration("SPOTHIVE_TRACKER_SWEEP_INTERVAL", "1m"),
		},
		Model: ModelConfig{
			Kind:          getEnv("SPOTHIVE_MODEL_KIND", "static"),
			StaticScore:   getEnvFloat("SPOTHIVE_MODEL_STATIC_SCORE", 0.10),
			Seed:          getEnvInt64("SPOTHIVE_MODEL_SEED", 1),
			ArtifactPath:  getEnv("SPOTHIVE_MODEL_ARTIFACT", ""),
			WatchArtifact: getEnvBool("SPOTHIVE_MODEL_WATCH", false),
		},
		Engine: EngineConfig{
			MinNodes:    getEnvInt("SPOTHIVE_ENGINE_MIN_NODES", 1),
			HeadroomPct: getEnvFloat("SPOTHIVE_ENGINE_HEADROOM_PCT", 20.0),
		},
		Executor: ExecutorConfig{
			DryRun:               getEnvBool("SPOTHIVE_DRY_RUN", true),
			Actor:                getEnv("SPOTHIVE_ACTOR", "spothive"),
			ActionTimeout:        getEnvDuration("SPOTHIVE_ACTION_TIMEOUT", "30s"),
			MaxRetries:           getEnvInt("SPOTHIVE_MAX_RETRIES", 5),
			RetryInitialInterval: getEnvDuration("SPOTHIVE_RETRY_INITIAL", "100ms"),
			RetryMaxInterval:     getEnvDuration("SPOTHIVE_RETRY_MAX", "5s"),
			CloudRateLimit:       getEnvInt("SPOTHIVE_CLOUD_RATE_LIMIT", 50),
			CloudRateBurst:       getEnvInt("SPOTHIVE_CLOUD_RATE_BURST", 100),
		},
		Orchestrator: OrchestratorConfig{
			InterruptWorkers: getEnvInt("SPOTHIVE_INTERRUPT_WORKERS", 10),
			OptimizeWorkers:  getEnvInt("SPOTHIVE_OPTIMIZE_WORKERS", 5),
			ScanWorkers:      1,
			QueueSize:        getEnvInt("SPOTHIVE_QUEUE_SIZE", 1000),
		},
		NATS: NATSConfig{
			URL:               getEnv("SPOTHIVE_NATS_URL", "nats://localhost:4222"),
			Name:              getEnv("SPOTHIVE_NATS_CLIENT_NAME", "spothive"),
			MaxReconnects:     getEnvInt("SPOTHIVE_NATS_MAX_RECONNECTS", 10),
			ReconnectWait:     getEnvDuration("SPOTHIVE_NATS_RECONNECT_WAIT", "1s"),
			ConnectionTimeout: getEnvDuration("SPOTHIVE_NATS_CONNECTION_TIMEOUT", "5s"),
			ActionsStreamName: getEnv("SPOTHIVE_NATS_ACTIONS_STREAM", "SPOTHIVE_ACTIONS"),
			ActionsSubject:    getEnv("SPOTHIVE_NATS_ACTIONS_SUBJECT", "spothive.actions.agent"),
			ResultsSubject:    getEnv("SPOTHIVE_NATS_RESULTS_SUBJECT", "spothive.actions.result"),
			MaxAge:            getEnvDuration("SPOTHIVE_NATS_MAX_AGE", "24h"),
			Replicas:          getEnvInt("SPOTHIVE_NATS_REPLICAS", 1),
			DuplicateWindow:   getEnvDuration("SPOTHIVE_NATS_DUPLICATE_WINDOW", "2m"),
			ConsumerName:      getEnv("SPOTHIVE_NATS_CONSUMER", "spothive-results"),
			AckWait:           getEnvDuration("SPOTHIVE_NATS_ACK_WAIT", "30s"),
			MaxDeliver:        getEnvInt("SPOTHIVE_NATS_MAX_DELIVER", 3),
			BatchSize:         getEnvInt("SPOTHIVE_NATS_BATCH_SIZE", 10),
			FetchTimeout:      getEnvDuration("SPOTHIVE_NATS_FETCH_TIMEOUT", "1s"),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvBool("SPOTHIVE_TELEMETRY_ENABLED", true),
			MetricsAddr: getEnv("SPOTHIVE_METRICS_ADDR", ":9464"),
		},
		API: APIConfig{
			Enabled:    getEnvBool("SPOTHIVE_API_ENABLED", true),
			ListenAddr: getEnv("SPOTHIVE_API_ADDR", ":8080"),
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Pipeline.AdvisorMaxInterruption < 0 || c.Pipeline.AdvisorMaxInterruption > 1 {
		return fmt.Errorf("advisor_max_interruption must be in [0,1], got %f", c.Pipeline.AdvisorMaxInterruption)
	}
	if c.Pipeline.SafetyGateCutoff <= 0 || c.Pipeline.SafetyGateCutoff > 1 {
		return fmt.Errorf("safety_gate_cutoff must be in (0,1], got %f", c.Pipeline.SafetyGateCutoff)
	}
	if c.Pipeline.ProviderMaxRetries < 0 {
		return fmt.Errorf("provider_max_retries cannot be negative, got %d", c.Pipeline.ProviderMaxRetries)
	}
	if c.Tracker.TacticalTTL <= 0 {
		return fmt.Errorf("tracker tactical_ttl must be positive")
	}
	if c.Tracker.SweepInterval <= 0 {
		return fmt.Errorf("tracker sweep_interval must be positive")
	}
	if c.Tracker.HistoryWindow <= c.Tracker.TacticalTTL {
		return fmt.Errorf("tracker history_window must exceed the tactical TTL; they are separate mechanisms")
	}
	switch c.Model.Kind {
	case "static", "random":
	case "trained":
		if c.Model.ArtifactPath == "" {
			return fmt.Errorf("trained model requires artifact_path")
		}
	default:
		return fmt.Errorf("unknown model kind %q", c.Model.Kind)
	}
	if c.Engine.MinNodes < 0 {
		return fmt.Errorf("engine min_nodes cannot be negative")
	}
	if c.Engine.HeadroomPct < 0 || c.Engine.HeadroomPct >= 100 {
		return fmt.Errorf("engine headroom_pct must be in [0,100), got %f", c.Engine.HeadroomPct)
	}
	if c.Orchestrator.ScanWorkers != 1 {
		return fmt.Errorf("scan_workers is fixed at 1 to keep discovery scans serialized")
	}
	for _, a := range c.Pipeline.Actuators {
		switch a {
		case "dryrun", "live", "metrics":
		default:
			return fmt.Errorf("unknown actuator %q", a)
		}
	}
	return nil
}
