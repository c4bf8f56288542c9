package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/providers"
	"github.com/spothive/spothive/pkg/risk"
)

const testArtifact = `
default_rate: 0.10
pool_rates:
  us-east-1a:c5.large: 0.30
weights:
  advisor_frequency: 0.5
  price_discount: 0.2
  recent_interruptions: 0.4
`

func writeTestArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testArtifact), 0o644))
	return path
}

func TestBuildModelKinds(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	m, err := buildModel(ctx, logger, config.ModelConfig{Kind: "static", StaticScore: 0.2}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &risk.StaticModel{}, m)

	m, err = buildModel(ctx, logger, config.ModelConfig{Kind: "random", Seed: 7}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &risk.RandomModel{}, m)

	_, err = buildModel(ctx, logger, config.ModelConfig{Kind: "psychic"}, nil, nil)
	assert.Error(t, err)
}

func TestBuildModelTrainedWatcherDoesNotBlockStartup(t *testing.T) {
	path := writeTestArtifact(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := buildModel(ctx, zap.NewNop(), config.ModelConfig{
			Kind:          "trained",
			ArtifactPath:  path,
			WatchArtifact: true,
		}, nil, nil)
		done <- err
	}()

	// The watcher runs for the whole process lifetime; buildModel must
	// return without waiting on it.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("buildModel blocked on the artifact watcher")
	}
}

func TestBuildProvidersLayersRetryUnderCache(t *testing.T) {
	cfg := config.Default()
	sp := providers.NewStaticProvider()

	prices, advisor, err := buildProviders(cfg, sp)
	require.NoError(t, err)
	assert.IsType(t, &providers.CachedPriceProvider{}, prices)
	assert.IsType(t, &providers.RetryingSpotAdvisor{}, advisor)
}

func TestBuildPipelineWithDefaultConfig(t *testing.T) {
	cfg := config.Default()
	logger := zap.NewNop()

	sp := providers.NewStaticProvider()
	tracker := risk.NewTracker(logger, cfg.Tracker)
	recorder := audit.NewRecorder(logger)

	pipe, err := buildPipeline(logger, cfg, sp, tracker, &risk.StaticModel{Score: 0.1}, recorder, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, pipe)
}

func TestBuildPipelineRejectsUnknownActuator(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Actuators = []string{"carrier-pigeon"}
	logger := zap.NewNop()

	_, err := buildPipeline(logger, cfg, providers.NewStaticProvider(),
		risk.NewTracker(logger, cfg.Tracker), &risk.StaticModel{Score: 0.1},
		audit.NewRecorder(logger), nil, nil)
	assert.Error(t, err)
}
