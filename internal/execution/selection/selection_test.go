package selection

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// synthetic builds rows x features numeric columns plus an integer label
// cycling through classes with the given sizes.
func synthetic(features int, sizes ...int) *dataset.Table {
	r := rand.New(rand.NewSource(1))
	var labels []float64
	for class, n := range sizes {
		for i := 0; i < n; i++ {
			labels = append(labels, float64(class))
		}
	}
	cols := make([]*dataset.Column, 0, features+1)
	for j := 0; j < features; j++ {
		values := make([]float64, len(labels))
		for i := range values {
			values[i] = labels[i]*10 + r.NormFloat64()*float64(j+1)
		}
		cols = append(cols, dataset.NewNumeric(fmt.Sprintf("f%d", j), values))
	}
	cols = append(cols, dataset.NewInteger("Label", labels))
	return dataset.MustNew(cols...)
}

func classCounts(t *testing.T, tbl *dataset.Table) map[string]int {
	t.Helper()
	label, err := tbl.Label()
	require.NoError(t, err)
	counts := map[string]int{}
	for _, s := range label.Strs() {
		counts[s]++
	}
	return counts
}

func TestLogTransform(t *testing.T) {
	in := dataset.MustNew(
		dataset.NewNumeric("a", []float64{0, math.E - 1, -5, math.NaN()}),
		dataset.NewNumeric("Label", []float64{3, 3, 4, 4}),
	)
	out, err := LogTransform{}.Apply(in)
	require.NoError(t, err)

	a, _ := out.Column("a")
	assert.InDeltaSlice(t, []float64{0, 1, 0, 0}, a.Floats, 1e-12)
	l, _ := out.Column("Label")
	assert.Equal(t, []float64{3, 3, 4, 4}, l.Floats)
	assert.Equal(t, "Label", out.LabelName())
}

func TestLogTransformRejectsCategoricalFeatures(t *testing.T) {
	in := dataset.MustNew(
		dataset.NewCategorical("proto", []string{"tcp"}),
		dataset.NewNumeric("Label", []float64{1}),
	)
	_, err := LogTransform{}.Apply(in)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestRobustScale(t *testing.T) {
	in := dataset.MustNew(
		dataset.NewNumeric("a", []float64{1, 2, 3, 4, 5}),
		dataset.NewNumeric("flat", []float64{7, 7, 7, 7, 7}),
		dataset.NewNumeric("Label", []float64{0, 1, 0, 1, 0}),
	)
	out, err := RobustScale{}.Apply(in)
	require.NoError(t, err)

	a, _ := out.Column("a")
	assert.InDeltaSlice(t, []float64{-1, -0.5, 0, 0.5, 1}, a.Floats, 1e-12)
	flat, _ := out.Column("flat")
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, flat.Floats)
}

func TestPCAReduceShape(t *testing.T) {
	in := synthetic(12, 40, 30, 30)
	out, err := PCAReduce{Components: 9}.Apply(in)
	require.NoError(t, err)

	assert.Equal(t, 10, out.NumCols())
	assert.Equal(t, []string{"PC1", "PC2", "PC3", "PC4", "PC5", "PC6", "PC7", "PC8", "PC9", "Label"}, out.Names())
	assert.Equal(t, in.NumRows(), out.NumRows())

	inLabel, _ := in.Label()
	outLabel, _ := out.Label()
	assert.Equal(t, inLabel.Floats, outLabel.Floats)
	assert.True(t, outLabel.Integer)

	// components are centred and ordered by decreasing variance
	pc1, _ := out.Column("PC1")
	pc9, _ := out.Column("PC9")
	mean := 0.0
	for _, v := range pc1.Floats {
		mean += v
	}
	assert.InDelta(t, 0, mean/float64(len(pc1.Floats)), 1e-9)
	assert.Greater(t, variance(pc1.Floats), variance(pc9.Floats))
}

func TestPCAReduceIsDeterministic(t *testing.T) {
	in := synthetic(10, 20, 20)
	a, err := PCAReduce{Components: 3}.Apply(in)
	require.NoError(t, err)
	b, err := PCAReduce{Components: 3}.Apply(in)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestPCAReduceNeedsEnoughFeatures(t *testing.T) {
	_, err := PCAReduce{Components: 9}.Apply(synthetic(4, 10, 10))
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func variance(x []float64) float64 {
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	s := 0.0
	for _, v := range x {
		s += (v - mean) * (v - mean)
	}
	return s / float64(len(x))
}

func TestUnderSample(t *testing.T) {
	in := synthetic(3, 50, 30, 20)
	out, err := UnderSample{Targets: []ClassTarget{{Label: "0", Count: 10}, {Label: "1", Count: 30}}, Seed: 42}.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"0": 10, "1": 30, "2": 20}, classCounts(t, out))

	again, err := UnderSample{Targets: []ClassTarget{{Label: "0", Count: 10}, {Label: "1", Count: 30}}, Seed: 42}.Apply(in)
	require.NoError(t, err)
	assert.True(t, out.Equal(again), "same seed selects the same rows")
}

func TestUnderSampleFailures(t *testing.T) {
	in := synthetic(3, 10, 10)
	_, err := UnderSample{Targets: []ClassTarget{{Label: "0", Count: 11}}}.Apply(in)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
	_, err = UnderSample{Targets: []ClassTarget{{Label: "7", Count: 1}}}.Apply(in)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestOverSample(t *testing.T) {
	in := synthetic(3, 40, 10)
	out, err := OverSample{Targets: []ClassTarget{{Label: "1", Count: 40}}, KNeighbors: 5, Seed: 42}.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"0": 40, "1": 40}, classCounts(t, out))

	// original rows come first and are untouched
	assert.True(t, in.Equal(out.Take(seq(in.NumRows()))))

	// synthetic rows lie inside the bounding box of their class
	f0, _ := out.Column("f0")
	orig, _ := in.Column("f0")
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range orig.Floats[40:] {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	for _, v := range f0.Floats[in.NumRows():] {
		assert.GreaterOrEqual(t, v, lo)
		assert.LessOrEqual(t, v, hi)
	}
}

func TestOverSampleFailures(t *testing.T) {
	in := synthetic(3, 40, 5)
	tests := []struct {
		name    string
		targets []ClassTarget
	}{
		{"below current count", []ClassTarget{{Label: "0", Count: 20}}},
		{"absent class", []ClassTarget{{Label: "9", Count: 50}}},
		{"too few neighbours", []ClassTarget{{Label: "1", Count: 40}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OverSample{Targets: tt.targets, KNeighbors: 5, Seed: 42}.Apply(in)
			assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
		})
	}
}

func TestSelectRunsEveryStep(t *testing.T) {
	s := New(zerolog.Nop(), stage.Policy{}, nil)
	out, err := s.Select(synthetic(12, 60, 30, 20), Options{
		Scaling:       ScalingLog,
		PCAComponents: 9,
		KNeighbors:    5,
		Seed:          42,
		Undersampling: []ClassTarget{{Label: "0", Count: 40}},
		Oversampling:  []ClassTarget{{Label: "2", Count: 40}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumCols())
	assert.Equal(t, map[string]int{"0": 40, "1": 30, "2": 40}, classCounts(t, out))
}

func TestSelectOverSampleBelowUnderSampledCountIsSkipped(t *testing.T) {
	s := New(zerolog.Nop(), stage.Policy{}, nil)
	out, err := s.Select(synthetic(12, 60, 30), Options{
		Scaling:       ScalingRobust,
		PCAComponents: 9,
		Seed:          42,
		Undersampling: []ClassTarget{{Label: "0", Count: 40}},
		Oversampling:  []ClassTarget{{Label: "0", Count: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"0": 40, "1": 30}, classCounts(t, out), "over-sampling never shrinks a class")
}

func TestSelectUnknownScaling(t *testing.T) {
	_, err := New(zerolog.Nop(), stage.Policy{}, nil).Select(synthetic(3, 5), Options{Scaling: "minmax"})
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
