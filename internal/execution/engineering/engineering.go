// Package engineering derives model-ready numeric columns from raw flow fields.
package engineering

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const StageName = "engineering"

// DefaultTimestampFormat parses ISO 8601 timestamps.
const DefaultTimestampFormat = "ISO8601"

// Options configures the optional transforms. Empty column lists skip them;
// CastIntToFloat always runs.
type Options struct {
	FrequencyColumns []string
	TargetColumns    []string
	// Target defaults to the label column.
	Target           string
	Smoothing        float64
	TimestampColumns []string
	TimestampFormat  string
}

type Engineer struct {
	runner *stage.Runner
}

func New(log zerolog.Logger, policy stage.Policy, recorder stage.FailureRecorder) *Engineer {
	return &Engineer{runner: stage.NewRunner(StageName, log, policy, recorder)}
}

// Engineer runs frequency encoding, target encoding, timestamp expansion and
// the integer cast, in that order.
func (e *Engineer) Engineer(t *dataset.Table, opts Options) (*dataset.Table, error) {
	var steps []stage.Strategy
	if len(opts.FrequencyColumns) > 0 {
		steps = append(steps, FrequencyEncode{Columns: opts.FrequencyColumns})
	}
	if len(opts.TargetColumns) > 0 {
		smoothing := opts.Smoothing
		if smoothing <= 0 {
			smoothing = 1
		}
		steps = append(steps, TargetEncode{Columns: opts.TargetColumns, Target: opts.Target, Smoothing: smoothing})
	}
	if len(opts.TimestampColumns) > 0 {
		format := opts.TimestampFormat
		if format == "" {
			format = DefaultTimestampFormat
		}
		steps = append(steps, TimeSeriesExpand{Columns: opts.TimestampColumns, Target: opts.Target, Format: format})
	}
	steps = append(steps, CastIntToFloat{})
	return e.runner.Run(t, steps...)
}

// FrequencyEncode replaces each value with its share of the non-missing cells
// of the column. Missing cells stay missing.
type FrequencyEncode struct {
	Columns []string
}

func (FrequencyEncode) Name() string { return "frequency_encode" }

func (s FrequencyEncode) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	for _, name := range s.Columns {
		c, ok := out.Column(name)
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q does not exist", name)
		}
		counts := make(map[string]int)
		total := 0
		for i := 0; i < c.Len(); i++ {
			if !c.IsMissing(i) {
				counts[c.StringAt(i)]++
				total++
			}
		}
		enc := make([]float64, c.Len())
		for i := range enc {
			if c.IsMissing(i) {
				enc[i] = math.NaN()
				continue
			}
			enc[i] = float64(counts[c.StringAt(i)]) / float64(total)
		}
		if err := out.Set(dataset.NewNumeric(name, enc)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CastIntToFloat clears the integer flag of every column.
type CastIntToFloat struct{}

func (CastIntToFloat) Name() string { return "cast_int_to_float" }

func (CastIntToFloat) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	for _, c := range out.Columns() {
		c.Integer = false
	}
	return out, nil
}

func targetColumn(t *dataset.Table, name string) (*dataset.Column, error) {
	if name == "" {
		return t.Label()
	}
	c, ok := t.Column(name)
	if !ok {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "target column %q does not exist", name)
	}
	return c, nil
}
