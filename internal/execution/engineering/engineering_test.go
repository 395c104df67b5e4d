package engineering

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

func flows() *dataset.Table {
	return dataset.MustNew(
		dataset.NewCategorical("Flow ID", []string{"f1", "f2", "f1", "f3", "f1", ""}),
		dataset.NewCategorical("Src IP", []string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.3", "10.0.0.1", "10.0.0.2"}),
		dataset.NewCategorical("Timestamp", []string{
			"2024-03-01T10:15:30Z", "2024-03-01 11:00:00", "2024-03-02T00:00:01",
			"2024-12-31T23:59:59Z", "2024-01-01", "2024-06-15T12:30",
		}),
		dataset.NewInteger("Packets", []float64{10, 20, 30, 40, 50, 60}),
		dataset.NewInteger("Label", []float64{1, 0, 1, 0, 0, 1}),
	)
}

func TestFrequencyEncodeWeightedSumIsOne(t *testing.T) {
	out, err := FrequencyEncode{Columns: []string{"Flow ID"}}.Apply(flows())
	require.NoError(t, err)

	c, _ := out.Column("Flow ID")
	assert.Equal(t, dataset.Numeric, c.Kind)
	assert.InDelta(t, 3.0/5, c.Floats[0], 1e-12)
	assert.InDelta(t, 1.0/5, c.Floats[1], 1e-12)
	assert.True(t, math.IsNaN(c.Floats[5]))

	// one share per distinct category, summing to one
	orig, _ := flows().Column("Flow ID")
	shares := map[string]float64{}
	for i, v := range c.Floats {
		if !math.IsNaN(v) {
			shares[orig.Strings[i]] = v
		}
	}
	sum := 0.0
	for _, v := range shares {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 6, out.NumRows())
}

func TestTargetEncode(t *testing.T) {
	out, err := TargetEncode{Columns: []string{"Src IP"}, Smoothing: 1}.Apply(flows())
	require.NoError(t, err)

	c, _ := out.Column("Src IP")
	prior := 0.5
	// 10.0.0.1: n=3, mean=2/3
	w := 1 / (1 + math.Exp(-2.0))
	assert.InDelta(t, prior*(1-w)+(2.0/3)*w, c.Floats[0], 1e-12)
	// 10.0.0.2: n=2, mean=0.5
	assert.InDelta(t, 0.5, c.Floats[1], 1e-12)
	// singleton category falls back to the prior
	assert.InDelta(t, prior, c.Floats[3], 1e-12)
}

func TestTargetEncodeMoreSmoothingShrinksTowardPrior(t *testing.T) {
	low, err := TargetEncode{Columns: []string{"Src IP"}, Smoothing: 0.5}.Apply(flows())
	require.NoError(t, err)
	high, err := TargetEncode{Columns: []string{"Src IP"}, Smoothing: 20}.Apply(flows())
	require.NoError(t, err)

	l, _ := low.Column("Src IP")
	h, _ := high.Column("Src IP")
	assert.Less(t, math.Abs(h.Floats[0]-0.5), math.Abs(l.Floats[0]-0.5))
}

func TestTargetEncodeRequiresNumericTarget(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewCategorical("Src IP", []string{"a", "b"}),
		dataset.NewCategorical("Label", []string{"x", "y"}),
	)
	_, err := TargetEncode{Columns: []string{"Src IP"}, Smoothing: 1}.Apply(tbl)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestTimeSeriesExpand(t *testing.T) {
	out, err := TimeSeriesExpand{Columns: []string{"Timestamp"}, Format: DefaultTimestampFormat}.Apply(flows())
	require.NoError(t, err)

	assert.Equal(t, []string{"Flow ID", "Src IP", "Packets", "year", "month", "day", "hour", "minute", "second", "Label"}, out.Names())
	assert.Equal(t, 6, out.NumRows())

	year, _ := out.Column("year")
	hour, _ := out.Column("hour")
	second, _ := out.Column("second")
	assert.Equal(t, []float64{2024, 2024, 2024, 2024, 2024, 2024}, year.Floats)
	assert.Equal(t, []float64{10, 11, 0, 23, 0, 12}, hour.Floats)
	assert.Equal(t, []float64{30, 0, 1, 59, 0, 0}, second.Floats)
}

func TestTimeSeriesExpandStrftime(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewCategorical("Timestamp", []string{"01/03/2024 10:15:30 PM"}),
		dataset.NewNumeric("Label", []float64{1}),
	)
	out, err := TimeSeriesExpand{Columns: []string{"Timestamp"}, Format: "%d/%m/%Y %I:%M:%S %p"}.Apply(tbl)
	require.NoError(t, err)
	month, _ := out.Column("month")
	hour, _ := out.Column("hour")
	assert.Equal(t, 3.0, month.Floats[0])
	assert.Equal(t, 22.0, hour.Floats[0])
}

func TestTimeSeriesExpandPrefixesMultipleColumns(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewCategorical("start", []string{"2024-01-01T00:00:00Z"}),
		dataset.NewCategorical("end", []string{"2024-01-02T00:00:00Z"}),
		dataset.NewNumeric("Label", []float64{1}),
	)
	out, err := TimeSeriesExpand{Columns: []string{"start", "end"}, Format: DefaultTimestampFormat}.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 13, out.NumCols())
	assert.True(t, out.Has("start_day"))
	assert.True(t, out.Has("end_day"))
	assert.Equal(t, "Label", out.LabelName())
}

func TestTimeSeriesExpandBadValueFails(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewCategorical("Timestamp", []string{"yesterday"}),
		dataset.NewNumeric("Label", []float64{1}),
	)
	_, err := TimeSeriesExpand{Columns: []string{"Timestamp"}, Format: DefaultTimestampFormat}.Apply(tbl)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestEngineerKeepsRowCountAndCasts(t *testing.T) {
	e := New(zerolog.Nop(), stage.Policy{}, nil)
	out, err := e.Engineer(flows(), Options{
		FrequencyColumns: []string{"Flow ID"},
		TargetColumns:    []string{"Src IP", "Dst IP"},
		TimestampColumns: []string{"Timestamp"},
		TimestampFormat:  DefaultTimestampFormat,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, out.NumRows())
	assert.Equal(t, "Label", out.LabelName())
	for _, c := range out.Columns() {
		assert.False(t, c.Integer, c.Name)
	}
	// target encoding failed on the unknown "Dst IP" column and was skipped
	ip, _ := out.Column("Src IP")
	assert.Equal(t, dataset.Categorical, ip.Kind)
}
