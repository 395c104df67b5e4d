// Package selection scales features, reduces them with PCA and rebalances the
// class distribution.
package selection

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const StageName = "selection"

const (
	DefaultComponents = 9
	DefaultNeighbors  = 5
	DefaultSeed       = 42
)

// Scaling selects the feature scaling strategy.
type Scaling string

const (
	ScalingLog    Scaling = "log"
	ScalingRobust Scaling = "robust"
)

func ParseScaling(s string) (Scaling, error) {
	switch sc := Scaling(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScalingLog, ScalingRobust:
		return sc, nil
	default:
		return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported scaling method %q", s)
	}
}

// ClassTarget is the desired row count for one class label.
type ClassTarget struct {
	Label string
	Count int
}

type Options struct {
	Scaling       Scaling
	PCAComponents int
	KNeighbors    int
	Seed          int64
	Undersampling []ClassTarget
	Oversampling  []ClassTarget
}

type Selector struct {
	runner *stage.Runner
}

func New(log zerolog.Logger, policy stage.Policy, recorder stage.FailureRecorder) *Selector {
	return &Selector{runner: stage.NewRunner(StageName, log, policy, recorder)}
}

// Select runs scaling, PCA, under-sampling and over-sampling in that order.
// Both resampling steps always run; an empty target list leaves the table as
// is.
func (s *Selector) Select(t *dataset.Table, opts Options) (*dataset.Table, error) {
	var scale stage.Strategy
	switch opts.Scaling {
	case ScalingLog:
		scale = LogTransform{}
	case ScalingRobust:
		scale = RobustScale{}
	default:
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported scaling method %q", opts.Scaling)
	}
	components := opts.PCAComponents
	if components == 0 {
		components = DefaultComponents
	}
	k := opts.KNeighbors
	if k == 0 {
		k = DefaultNeighbors
	}

	return s.runner.Run(t,
		scale,
		PCAReduce{Components: components},
		UnderSample{Targets: opts.Undersampling, Seed: opts.Seed},
		OverSample{Targets: opts.Oversampling, KNeighbors: k, Seed: opts.Seed},
	)
}

func numericFeatures(t *dataset.Table) ([]*dataset.Column, error) {
	if t.NumCols() < 2 {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "table has no feature columns")
	}
	feats := t.Features()
	for _, c := range feats {
		if c.Kind != dataset.Numeric {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "feature column %q is %s", c.Name, c.Kind)
		}
	}
	return feats, nil
}
