package cleaning

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var nan = math.NaN()

func flows() *dataset.Table {
	return dataset.MustNew(
		dataset.NewNumeric("Flow Duration", []float64{10, nan, 30, 40}),
		dataset.NewNumeric("Bwd PSH Flags", []float64{0, 0, 0, 0}),
		dataset.NewCategorical("Protocol", []string{"tcp", "udp", "", "tcp"}),
		dataset.NewInteger("Label", []float64{1, 1, 1, 1}),
	)
}

func newCleaner() *Cleaner {
	return New(zerolog.Nop(), stage.Policy{}, nil)
}

func TestCleanRejectsUnknownMethod(t *testing.T) {
	in := flows()
	snapshot := in.Clone()

	out, err := newCleaner().Clean(in, "bogus", "")
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)
	assert.Same(t, in, out)
	assert.True(t, snapshot.Equal(in), "table must be left untouched")
}

func TestDropEmptyColumnsKeepsRowsAndLabel(t *testing.T) {
	in := flows()
	out, err := DropEmptyColumns{}.Apply(in)
	require.NoError(t, err)

	assert.Equal(t, []string{"Flow Duration", "Protocol", "Label"}, out.Names())
	assert.Equal(t, in.NumRows(), out.NumRows())
	assert.Equal(t, 4, in.NumCols(), "input is not modified")
}

func TestCleanDrop(t *testing.T) {
	out, err := newCleaner().Clean(flows(), "drop", "")
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
	c, _ := out.Column("Flow Duration")
	assert.Equal(t, []float64{10, 40}, c.Floats)
}

func TestCleanFillMethods(t *testing.T) {
	tests := []struct {
		method   string
		value    string
		duration float64
		protocol string
	}{
		{"mean", "", (10.0 + 30 + 40) / 3, ""},
		{"median", "", 30, ""},
		{"mode", "", 10, "tcp"},
		{"constant", "-1", -1, "-1"},
		{"constant", "", NullNumeric, NullCategorical},
	}
	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.value, func(t *testing.T) {
			out, err := newCleaner().Clean(flows(), tt.method, tt.value)
			require.NoError(t, err)
			assert.Equal(t, 4, out.NumRows())

			d, _ := out.Column("Flow Duration")
			assert.InDelta(t, tt.duration, d.Floats[1], 1e-9)
			p, _ := out.Column("Protocol")
			assert.Equal(t, tt.protocol, p.Strings[2])
		})
	}
}

func TestConstantTextFillTurnsNumericCategorical(t *testing.T) {
	out, err := FillMissing{Method: MethodConstant, Value: "unknown"}.Apply(flows())
	require.NoError(t, err)
	d, _ := out.Column("Flow Duration")
	assert.Equal(t, dataset.Categorical, d.Kind)
	assert.Equal(t, []string{"10", "unknown", "30", "40"}, d.Strings)
	assert.Equal(t, "Label", out.LabelName())
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" Median ")
	require.NoError(t, err)
	assert.Equal(t, MethodMedian, m)
}
