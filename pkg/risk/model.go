package risk

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/spothive/spothive/pkg/domain"
)

// Model estimates interruption probability for candidates. Implementations
// must be stateless per call, independent of candidate order, and must
// return a score for every input candidate; silent drops are a contract
// violation the scoring stage checks for.
//
// Callers treat any error, malformed output, or timeout as a prediction
// failure and fail closed (all candidates at maximum risk).
type Model interface {
	// Name identifies the model variant in logs and traces.
	Name() string
	// Predict maps candidate key to an interruption probability in [0,1].
	Predict(ctx context.Context, candidates []*domain.Candidate) (map[string]float64, error)
}

// StaticModel scores every candidate with one fixed probability. Useful as
// a deployment default when no trained artifact is available.
type StaticModel struct {
	Score float64
}

func (m *StaticModel) Name() string { return "static" }

func (m *StaticModel) Predict(_ context.Context, candidates []*domain.Candidate) (map[string]float64, error) {
	if m.Score < 0 || m.Score > 1 {
		return nil, fmt.Errorf("static score %f out of range [0,1]", m.Score)
	}
	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		out[c.Key()] = m.Score
	}
	return out, nil
}

// RandomModel derives a deterministic pseudo-random score per candidate from
// the seed and the candidate key. Hashing instead of drawing from a shared
// PRNG keeps predictions independent of candidate order.
type RandomModel struct {
	Seed int64
}

func (m *RandomModel) Name() string { return "random" }

func (m *RandomModel) Predict(_ context.Context, candidates []*domain.Candidate) (map[string]float64, error) {
	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		h := fnv.New64a()
		fmt.Fprintf(h, "%d:%s", m.Seed, c.Key())
		out[c.Key()] = float64(h.Sum64()%10000) / 10000.0
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
