package stages

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

const actuateStageName = "actuation"

// Actuator executes or simulates a final decision. Actuators are mutually
// composable: a pipeline may run several simultaneously. An actuator is
// atomic with respect to cancellation: once started it runs to completion.
type Actuator interface {
	Name() string
	Actuate(ctx context.Context, dc *domain.DecisionContext) error
}

// ActuateStage runs every configured actuator in order. One actuator
// failing does not stop the others; errors are joined.
type ActuateStage struct {
	logger    *zap.Logger
	actuators []Actuator
}

// NewActuateStage builds the stage.
func NewActuateStage(logger *zap.Logger, actuators ...Actuator) *ActuateStage {
	return &ActuateStage{logger: logger, actuators: actuators}
}

func (s *ActuateStage) Name() string { return actuateStageName }

func (s *ActuateStage) Process(ctx context.Context, dc *domain.DecisionContext) error {
	if dc.Decision() == domain.DecisionUndetermined {
		dc.AppendTrace(actuateStageName, "no decision to actuate")
		return nil
	}

	var errs []error
	for _, a := range s.actuators {
		if err := a.Actuate(ctx, dc); err != nil {
			s.logger.Error("Actuator failed",
				zap.String("actuator", a.Name()),
				zap.String("request_id", dc.Request.ID),
				zap.String("decision", string(dc.Decision())),
				zap.Error(err),
			)
			dc.AppendTrace(actuateStageName, "actuator %s failed: %v", a.Name(), err)
			errs = append(errs, err)
			continue
		}
		dc.AppendTrace(actuateStageName, "actuator %s applied %s", a.Name(), dc.Decision())
	}
	return errors.Join(errs...)
}
