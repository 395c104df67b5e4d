package selection

import (
	"math"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/mathutil"
)

// LogTransform applies log1p to every feature cell. Negative and missing cells
// become 0. The label is left untouched.
type LogTransform struct{}

func (LogTransform) Name() string { return "log_transform" }

func (LogTransform) Apply(t *dataset.Table) (*dataset.Table, error) {
	if _, err := numericFeatures(t); err != nil {
		return nil, err
	}
	out := t.Clone()
	for _, c := range out.Features() {
		c.Integer = false
		for i, v := range c.Floats {
			if v >= 0 {
				c.Floats[i] = math.Log1p(v)
			} else {
				c.Floats[i] = 0
			}
		}
	}
	return out, nil
}

// RobustScale centres every feature on its median and divides by its
// interquartile range. A zero range leaves the centred values unscaled.
type RobustScale struct{}

func (RobustScale) Name() string { return "robust_scale" }

func (RobustScale) Apply(t *dataset.Table) (*dataset.Table, error) {
	if _, err := numericFeatures(t); err != nil {
		return nil, err
	}
	out := t.Clone()
	for _, c := range out.Features() {
		c.Integer = false
		median := mathutil.Median(c.Floats)
		iqr := mathutil.Percentile(c.Floats, 75) - mathutil.Percentile(c.Floats, 25)
		if iqr == 0 || math.IsNaN(iqr) {
			iqr = 1
		}
		if math.IsNaN(median) {
			continue
		}
		for i, v := range c.Floats {
			c.Floats[i] = (v - median) / iqr
		}
	}
	return out, nil
}
