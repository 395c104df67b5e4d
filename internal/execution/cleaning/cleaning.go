// Package cleaning removes zero-information columns and resolves missing values.
package cleaning

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
	"github.com/theblitlabs/misuse-detection/internal/utils/mathutil"
)

const StageName = "cleaning"

// Method selects how missing values are resolved.
type Method string

const (
	MethodDrop     Method = "drop"
	MethodMean     Method = "mean"
	MethodMedian   Method = "median"
	MethodMode     Method = "mode"
	MethodConstant Method = "constant"
)

// Null substitutes used by a constant fill without a value.
const (
	NullNumeric     = 0.0
	NullCategorical = "null"
)

// ParseMethod resolves a configured method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodDrop, MethodMean, MethodMedian, MethodMode, MethodConstant:
		return m, nil
	default:
		return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported missing value method %q", s)
	}
}

// Cleaner runs the column drop followed by exactly one missing value strategy.
type Cleaner struct {
	runner *stage.Runner
}

func New(log zerolog.Logger, policy stage.Policy, recorder stage.FailureRecorder) *Cleaner {
	return &Cleaner{runner: stage.NewRunner(StageName, log, policy, recorder)}
}

// Clean validates method before touching t; an unknown method returns t
// unchanged together with ErrInvalidConfig. An empty fillValue means none was
// supplied.
func (c *Cleaner) Clean(t *dataset.Table, method, fillValue string) (*dataset.Table, error) {
	m, err := ParseMethod(method)
	if err != nil {
		return t, err
	}
	resolve, err := Resolver(m, fillValue, c.runner.Log())
	if err != nil {
		return t, err
	}
	return c.runner.Run(t, DropEmptyColumns{}, resolve)
}

// Resolver builds the missing value strategy for m.
func Resolver(m Method, fillValue string, log zerolog.Logger) (stage.Strategy, error) {
	switch m {
	case MethodDrop:
		return DropMissingRows{}, nil
	case MethodMean, MethodMedian, MethodMode, MethodConstant:
		return FillMissing{Method: m, Value: fillValue, log: log}, nil
	default:
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported missing value method %q", m)
	}
}

// DropEmptyColumns removes every feature column holding exactly one distinct
// non-missing value. The label column is kept.
type DropEmptyColumns struct{}

func (DropEmptyColumns) Name() string { return "drop_empty_columns" }

func (DropEmptyColumns) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	var drop []string
	for _, c := range out.Features() {
		if c.Distinct() == 1 {
			drop = append(drop, c.Name)
		}
	}
	out.Drop(drop...)
	return out, nil
}

// DropMissingRows removes every row containing a missing cell.
type DropMissingRows struct{}

func (DropMissingRows) Name() string { return "drop_missing_rows" }

func (DropMissingRows) Apply(t *dataset.Table) (*dataset.Table, error) {
	keep := make([]int, 0, t.NumRows())
rows:
	for i := 0; i < t.NumRows(); i++ {
		for _, c := range t.Columns() {
			if c.IsMissing(i) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	return t.Take(keep), nil
}

// FillMissing imputes missing cells. Mean and median touch numeric columns
// only; mode and constant touch every column.
type FillMissing struct {
	Method Method
	Value  string
	log    zerolog.Logger
}

func (f FillMissing) Name() string { return "fill_missing_" + string(f.Method) }

func (f FillMissing) Apply(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	if f.Method == MethodConstant && f.Value == "" {
		f.log.Warn().Msg("No fill value provided, using null substitute")
	}
	for _, c := range out.Columns() {
		switch f.Method {
		case MethodMean:
			if c.Kind == dataset.Numeric {
				fillFloats(c, mathutil.Mean(c.Floats))
			}
		case MethodMedian:
			if c.Kind == dataset.Numeric {
				fillFloats(c, mathutil.Median(c.Floats))
			}
		case MethodMode:
			fillMode(c)
		case MethodConstant:
			if err := out.Set(f.fillConstant(c)); err != nil {
				return nil, err
			}
		default:
			return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported fill method %q", f.Method)
		}
	}
	return out, nil
}

func (f FillMissing) fillConstant(c *dataset.Column) *dataset.Column {
	if f.Value == "" {
		if c.Kind == dataset.Numeric {
			fillFloats(c, NullNumeric)
		} else {
			fillStrings(c, NullCategorical)
		}
		return c
	}
	if c.Kind == dataset.Categorical {
		fillStrings(c, f.Value)
		return c
	}
	if v, err := strconv.ParseFloat(f.Value, 64); err == nil {
		fillFloats(c, v)
		return c
	}
	// A textual fill turns a numeric column with gaps into a categorical one.
	hasMissing := false
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			hasMissing = true
			break
		}
	}
	if !hasMissing {
		return c
	}
	strs := c.Strs()
	for i, s := range strs {
		if s == "" {
			strs[i] = f.Value
		}
	}
	return dataset.NewCategorical(c.Name, strs)
}

func fillMode(c *dataset.Column) {
	if c.Kind == dataset.Numeric {
		if v, ok := mathutil.ModeFloat(c.Floats); ok {
			fillFloats(c, v)
		}
		return
	}
	if v, ok := mathutil.ModeString(c.Strings); ok {
		fillStrings(c, v)
	}
}

func fillFloats(c *dataset.Column, v float64) {
	for i := range c.Floats {
		if c.IsMissing(i) {
			c.Floats[i] = v
		}
	}
}

func fillStrings(c *dataset.Column, v string) {
	for i := range c.Strings {
		if c.Strings[i] == "" {
			c.Strings[i] = v
		}
	}
}
