package stages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/risk"
)

const scoreStageName = "risk_scoring"

// ScoreStage invokes the risk model and writes a crash probability onto
// every surviving candidate. It fails closed: any model error, missing
// score, or timeout scores the affected candidates at maximum risk. Scoring
// is never skipped.
type ScoreStage struct {
	logger  *zap.Logger
	model   risk.Model
	timeout time.Duration
}

// NewScoreStage builds the stage. timeout bounds one prediction call; a
// timeout is a prediction failure, never a hang.
func NewScoreStage(logger *zap.Logger, model risk.Model, timeout time.Duration) *ScoreStage {
	return &ScoreStage{logger: logger, model: model, timeout: timeout}
}

func (s *ScoreStage) Name() string { return scoreStageName }

func (s *ScoreStage) Process(ctx context.Context, dc *domain.DecisionContext) error {
	if len(dc.Candidates) == 0 {
		dc.AppendTrace(scoreStageName, "no candidates to score")
		return nil
	}

	predictCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	scores, err := s.model.Predict(predictCtx, dc.Candidates)
	if err != nil {
		s.logger.Warn("Risk model prediction failed, failing closed",
			zap.String("model", s.model.Name()),
			zap.String("request_id", dc.Request.ID),
			zap.Error(err),
		)
		dc.AppendTrace(scoreStageName, "model %s failed (%v): all candidates scored 1.0", s.model.Name(), err)
		return s.failClosed(dc)
	}

	for _, c := range dc.Candidates {
		score, ok := scores[c.Key()]
		if !ok {
			// The model contract forbids silent drops; treat a missing
			// score the same as a failed prediction for that candidate.
			dc.AppendTrace(scoreStageName, "model omitted %s: scored 1.0", c.Key())
			score = 1.0
		}
		if err := c.SetCrashProbability(score); err != nil {
			dc.AppendTrace(scoreStageName, "model returned invalid score for %s (%v): scored 1.0", c.Key(), err)
			if err := c.SetCrashProbability(1.0); err != nil {
				return err
			}
		}
	}

	dc.AppendTrace(scoreStageName, "scored %d candidates with model %s", len(dc.Candidates), s.model.Name())
	return nil
}

func (s *ScoreStage) failClosed(dc *domain.DecisionContext) error {
	for _, c := range dc.Candidates {
		if err := c.SetCrashProbability(1.0); err != nil {
			return err
		}
	}
	return nil
}
