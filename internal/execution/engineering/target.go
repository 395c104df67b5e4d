package engineering

import (
	"math"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// minSamplesLeaf is the category size at which the category mean and the
// prior are weighted equally.
const minSamplesLeaf = 1

// TargetEncode replaces each category with its target mean shrunk toward the
// global target mean:
//
//	s   = 1 / (1 + exp(-(n - minSamplesLeaf) / smoothing))
//	enc = prior*(1-s) + mean*s
//
// Categories seen once and missing cells receive the prior.
type TargetEncode struct {
	Columns   []string
	Target    string
	Smoothing float64
}

func (TargetEncode) Name() string { return "target_encode" }

func (s TargetEncode) Apply(t *dataset.Table) (*dataset.Table, error) {
	target, err := targetColumn(t, s.Target)
	if err != nil {
		return nil, err
	}
	if target.Kind != dataset.Numeric {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "target column %q must be numeric", target.Name)
	}
	smoothing := s.Smoothing
	if smoothing <= 0 {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "smoothing must be positive, got %v", smoothing)
	}

	prior, n := 0.0, 0
	for _, y := range target.Floats {
		if !math.IsNaN(y) {
			prior += y
			n++
		}
	}
	if n == 0 {
		return nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "target column %q has no values", target.Name)
	}
	prior /= float64(n)

	out := t.Clone()
	for _, name := range s.Columns {
		if name == target.Name {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "cannot target encode the target column %q", name)
		}
		c, ok := out.Column(name)
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q does not exist", name)
		}

		type agg struct {
			sum   float64
			count int
		}
		stats := make(map[string]*agg)
		for i := 0; i < c.Len(); i++ {
			y := target.Floats[i]
			if c.IsMissing(i) || math.IsNaN(y) {
				continue
			}
			key := c.StringAt(i)
			a, ok := stats[key]
			if !ok {
				a = &agg{}
				stats[key] = a
			}
			a.sum += y
			a.count++
		}

		enc := make([]float64, c.Len())
		for i := range enc {
			a, ok := stats[c.StringAt(i)]
			if c.IsMissing(i) || !ok || a.count <= 1 {
				enc[i] = prior
				continue
			}
			weight := 1 / (1 + math.Exp(-float64(a.count-minSamplesLeaf)/smoothing))
			enc[i] = prior*(1-weight) + (a.sum/float64(a.count))*weight
		}
		if err := out.Set(dataset.NewNumeric(name, enc)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
