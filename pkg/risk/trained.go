package risk

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spothive/spothive/pkg/domain"
)

// AdvisorData is the slice of the spot-advisor provider the trained model
// consumes as a feature source.
type AdvisorData interface {
	InterruptionFrequency(ctx context.Context, pool domain.Pool) (float64, error)
}

// HistorySource is the slice of the risk tracker the trained model consumes:
// the long-horizon event log, not the tactical flags.
type HistorySource interface {
	History(pool domain.Pool) []domain.RiskEvent
}

// Artifact is the trained model's on-disk representation: per-pool base
// interruption rates plus linear feature weights.
type Artifact struct {
	DefaultRate float64            `yaml:"default_rate"`
	PoolRates   map[string]float64 `yaml:"pool_rates"`
	Weights     ArtifactWeights    `yaml:"weights"`
}

// ArtifactWeights are the linear feature weights applied on top of the base
// rate.
type ArtifactWeights struct {
	AdvisorFrequency    float64 `yaml:"advisor_frequency"`
	PriceDiscount       float64 `yaml:"price_discount"`
	RecentInterruptions float64 `yaml:"recent_interruptions"`
}

// Validate rejects artifacts whose base rates are outside [0,1].
func (a *Artifact) Validate() error {
	if a.DefaultRate < 0 || a.DefaultRate > 1 {
		return fmt.Errorf("default_rate %f out of range [0,1]", a.DefaultRate)
	}
	for key, rate := range a.PoolRates {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("pool_rate for %s out of range [0,1]: %f", key, rate)
		}
	}
	return nil
}

// TrainedModel scores candidates from a trained artifact combined with live
// advisor data and the tracker's historical log. The artifact can be
// hot-swapped (see Watch) without interrupting in-flight predictions.
type TrainedModel struct {
	logger  *zap.Logger
	advisor AdvisorData
	history HistorySource

	mu       sync.RWMutex
	artifact *Artifact
}

// NewTrainedModel loads the artifact from disk. A load failure here means
// the model cannot be constructed; callers that proceed without a model
// must fail closed.
func NewTrainedModel(logger *zap.Logger, path string, advisor AdvisorData, history HistorySource) (*TrainedModel, error) {
	m := &TrainedModel{
		logger:  logger,
		advisor: advisor,
		history: history,
	}
	if err := m.Reload(path); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TrainedModel) Name() string { return "trained" }

// Reload replaces the artifact from the given path.
func (m *TrainedModel) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model artifact: %w", err)
	}
	artifact := &Artifact{}
	if err := yaml.Unmarshal(data, artifact); err != nil {
		return fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("invalid model artifact: %w", err)
	}

	m.mu.Lock()
	m.artifact = artifact
	m.mu.Unlock()

	m.logger.Info("Loaded risk model artifact",
		zap.String("path", path),
		zap.Int("pool_rates", len(artifact.PoolRates)),
		zap.Float64("default_rate", artifact.DefaultRate),
	)
	return nil
}

// Predict scores every candidate. The advisor call is bounded by ctx; an
// advisor failure degrades that feature to zero rather than failing the
// whole prediction, since the base rate alone is still a usable estimate.
func (m *TrainedModel) Predict(ctx context.Context, candidates []*domain.Candidate) (map[string]float64, error) {
	m.mu.RLock()
	artifact := m.artifact
	m.mu.RUnlock()

	if artifact == nil {
		return nil, fmt.Errorf("no model artifact loaded")
	}

	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base, ok := artifact.PoolRates[c.Key()]
		if !ok {
			base = artifact.DefaultRate
		}
		score := base

		if m.advisor != nil {
			freq, err := m.advisor.InterruptionFrequency(ctx, c.Pool)
			if err != nil {
				m.logger.Debug("Advisor feature unavailable",
					zap.String("pool", c.Pool.ID()),
					zap.Error(err),
				)
			} else {
				score += artifact.Weights.AdvisorFrequency * freq
			}
		}

		if c.OnDemandPrice > 0 && c.SpotPrice > 0 {
			discount := 1 - c.SpotPrice/c.OnDemandPrice
			if discount > 0 {
				score += artifact.Weights.PriceDiscount * discount
			}
		}

		if m.history != nil {
			events := m.history.History(c.Pool)
			recent := float64(len(events))
			if recent > 5 {
				recent = 5
			}
			score += artifact.Weights.RecentInterruptions * recent / 5
		}

		out[c.Key()] = clamp01(score)
	}
	return out, nil
}
