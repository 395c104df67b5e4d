// Package preprocessing clips or removes outlier values per column.
package preprocessing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
	"github.com/theblitlabs/misuse-detection/internal/utils/mathutil"
)

const StageName = "preprocessing"

// Quantile used by the statistical cap and the outlier filter.
const Quantile = 0.75

// Cap is a fixed upper threshold for one column.
type Cap struct {
	Column string
	Max    float64
}

// Options lists the columns each strategy works on. Empty lists skip the
// strategy.
type Options struct {
	CapColumns           []string
	CapValues            []Cap
	RemoveOutlierColumns []string
}

type Preprocessor struct {
	runner *stage.Runner
}

func New(log zerolog.Logger, policy stage.Policy, recorder stage.FailureRecorder) *Preprocessor {
	return &Preprocessor{runner: stage.NewRunner(StageName, log, policy, recorder)}
}

// Process applies the statistical cap, then the fixed caps, then the row
// filters.
func (p *Preprocessor) Process(t *dataset.Table, opts Options) (*dataset.Table, error) {
	var steps []stage.Strategy
	if len(opts.CapColumns) > 0 {
		steps = append(steps, CapOutliers{Columns: opts.CapColumns})
	}
	if len(opts.CapValues) > 0 {
		steps = append(steps, CapWithFixedValues{Caps: opts.CapValues})
	}
	for _, col := range opts.RemoveOutlierColumns {
		steps = append(steps, RemoveOutliers{Column: col})
	}
	return p.runner.Run(t, steps...)
}

// CapOutliers clips every listed column at its own 75th percentile. The
// percentile is an observed value, so applying the cap twice changes nothing.
type CapOutliers struct {
	Columns []string
}

func (CapOutliers) Name() string { return "cap_outliers" }

func (s CapOutliers) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	for _, name := range s.Columns {
		c, err := numericColumn(out, name)
		if err != nil {
			return nil, err
		}
		clip(c, mathutil.EmpiricalQuantile(c.Floats, Quantile))
	}
	return out, nil
}

// CapWithFixedValues clips each column at a configured threshold.
type CapWithFixedValues struct {
	Caps []Cap
}

func (CapWithFixedValues) Name() string { return "cap_with_fixed_values" }

func (s CapWithFixedValues) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	for _, cp := range s.Caps {
		c, err := numericColumn(out, cp.Column)
		if err != nil {
			return nil, err
		}
		clip(c, cp.Max)
	}
	return out, nil
}

// RemoveOutliers drops the rows whose value in Column lies above the column's
// 75th percentile. Rows with a missing value are kept.
type RemoveOutliers struct {
	Column string
}

func (s RemoveOutliers) Name() string { return fmt.Sprintf("remove_outliers[%s]", s.Column) }

func (s RemoveOutliers) Apply(t *dataset.Table) (*dataset.Table, error) {
	c, err := numericColumn(t, s.Column)
	if err != nil {
		return nil, err
	}
	q := mathutil.EmpiricalQuantile(c.Floats, Quantile)
	keep := make([]int, 0, t.NumRows())
	for i, v := range c.Floats {
		if !(v > q) {
			keep = append(keep, i)
		}
	}
	return t.Take(keep), nil
}

func numericColumn(t *dataset.Table, name string) (*dataset.Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q does not exist", name)
	}
	if c.Kind != dataset.Numeric {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q is %s", name, c.Kind)
	}
	return c, nil
}

func clip(c *dataset.Column, upper float64) {
	if math.IsNaN(upper) {
		return
	}
	for i, v := range c.Floats {
		if v > upper {
			c.Floats[i] = upper
		}
	}
}
