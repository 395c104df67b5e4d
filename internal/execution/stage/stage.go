// Package stage runs a sequence of table strategies with per-step fault
// isolation.
package stage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Strategy is one configured transformation of a table. Apply must not mutate
// its input.
type Strategy interface {
	Name() string
	Apply(t *dataset.Table) (*dataset.Table, error)
}

// Policy controls what happens when a step fails. By default the failure is
// logged and the stage continues with the table from before the step.
type Policy struct {
	FailFast bool
}

// FailureRecorder is notified of every recoverable step failure.
type FailureRecorder interface {
	SubstepFailed(stage, step string)
}

type nopRecorder struct{}

func (nopRecorder) SubstepFailed(string, string) {}

// Runner applies strategies in order for one named stage.
type Runner struct {
	stage    string
	log      zerolog.Logger
	policy   Policy
	recorder FailureRecorder
}

func NewRunner(stageName string, log zerolog.Logger, policy Policy, recorder FailureRecorder) *Runner {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Runner{
		stage:    stageName,
		log:      log.With().Str("stage", stageName).Logger(),
		policy:   policy,
		recorder: recorder,
	}
}

// Log returns the stage scoped logger.
func (r *Runner) Log() zerolog.Logger { return r.log }

// Run applies steps to t. A failing step leaves the table as it was before the
// step unless the policy is fail fast, in which case the error is returned.
func (r *Runner) Run(t *dataset.Table, steps ...Strategy) (*dataset.Table, error) {
	if t == nil {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "%s: nil table", r.stage)
	}
	current := t
	for _, step := range steps {
		next, err := step.Apply(current)
		if err != nil {
			r.recorder.SubstepFailed(r.stage, step.Name())
			r.log.Error().
				Str("step", step.Name()).
				Err(err).
				Msg("Step failed, continuing with previous table")
			if r.policy.FailFast {
				return nil, fmt.Errorf("%s/%s: %w", r.stage, step.Name(), err)
			}
			continue
		}
		r.log.Debug().
			Str("step", step.Name()).
			Int("rows", next.NumRows()).
			Int("columns", next.NumCols()).
			Msg("Step applied")
		current = next
	}
	return current, nil
}

// Func adapts a function to a Strategy.
type Func struct {
	StepName string
	Fn       func(t *dataset.Table) (*dataset.Table, error)
}

func (f Func) Name() string { return f.StepName }

func (f Func) Apply(t *dataset.Table) (*dataset.Table, error) { return f.Fn(t) }
