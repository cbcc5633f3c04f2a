// Package saga runs a fixed sequence of remote writes as one logical unit:
// when a step fails, the compensations of the steps that already completed
// are executed in reverse order.
package saga

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type CompensationFailure struct {
	Step string
	Err  error
}

// Error reports the step that failed. Its message and Unwrap target are the
// step's own error so callers surface the original cause.
type Error struct {
	Step          string
	Err           error
	Compensations []CompensationFailure
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Compensated reports whether every compensation ran without error.
func (e *Error) Compensated() bool {
	return len(e.Compensations) == 0
}

type Saga struct {
	steps  []Step
	logger logrus.FieldLogger
}

func New(logger logrus.FieldLogger, steps ...Step) *Saga {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Saga{steps: steps, logger: logger}
}

func (s *Saga) Run(ctx context.Context) error {
	completed := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := step.Action(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{
				"step":      step.Name,
				"completed": len(completed),
			}).WithError(err).Warn("saga step failed, compensating")

			// compensations still run when the caller's context is done
			failures := Compensate(context.WithoutCancel(ctx), completed)
			for _, failure := range failures {
				s.logger.WithField("step", failure.Step).WithError(failure.Err).Error("compensation failed")
			}
			return &Error{Step: step.Name, Err: err, Compensations: failures}
		}
		completed = append(completed, step)
	}
	return nil
}

// Compensate undoes completed steps last-first. Every compensation is
// attempted even when an earlier one fails.
func Compensate(ctx context.Context, completed []Step) []CompensationFailure {
	var failures []CompensationFailure
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := runCompensation(ctx, step); err != nil {
			failures = append(failures, CompensationFailure{Step: step.Name, Err: err})
		}
	}
	return failures
}

func runCompensation(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation %s panicked: %v", step.Name, r)
		}
	}()
	return step.Compensate(ctx)
}
