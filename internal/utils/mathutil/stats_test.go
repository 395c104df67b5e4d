package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, Percentile(x, 25), 1e-12)
	assert.InDelta(t, 2.5, Percentile(x, 50), 1e-12)
	assert.InDelta(t, 3.25, Percentile(x, 75), 1e-12)
	assert.Equal(t, 1.0, Percentile(x, 0))
	assert.Equal(t, 4.0, Percentile(x, 100))
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestEmpiricalQuantileReturnsSample(t *testing.T) {
	x := []float64{4, 1, math.NaN(), 3, 2}
	assert.Equal(t, 3.0, EmpiricalQuantile(x, 0.75))
	assert.Equal(t, 1.0, EmpiricalQuantile(x, 0.25))
}

func TestMeanMedianIgnoreNaN(t *testing.T) {
	x := []float64{1, math.NaN(), 3, 10}
	assert.InDelta(t, 14.0/3, Mean(x), 1e-12)
	assert.Equal(t, 3.0, Median(x))
	assert.Equal(t, 2.0, Median([]float64{1, 3}))
	assert.True(t, math.IsNaN(Mean([]float64{math.NaN()})))
}

func TestModeTiesPreferSmallest(t *testing.T) {
	v, ok := ModeFloat([]float64{3, 1, 3, 1, math.NaN()})
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	s, ok := ModeString([]string{"tcp", "udp", "udp", "tcp", ""})
	assert.True(t, ok)
	assert.Equal(t, "tcp", s)

	_, ok = ModeString([]string{"", ""})
	assert.False(t, ok)
}
