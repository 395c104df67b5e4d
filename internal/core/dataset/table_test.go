package dataset

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

func TestNewRejectsUnequalColumns(t *testing.T) {
	_, err := New(
		NewNumeric("a", []float64{1, 2, 3}),
		NewNumeric("b", []float64{1, 2}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New(NewNumeric("a", []float64{1}), NewNumeric("a", []float64{2}))
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := MustNew(
		NewNumeric("x", []float64{1, 2}),
		NewCategorical("Label", []string{"a", "b"}),
	)
	cp := tbl.Clone()
	cp.Columns()[0].Floats[0] = 99
	cp.Columns()[1].Strings[0] = "z"

	assert.Equal(t, 1.0, tbl.Columns()[0].Floats[0])
	assert.Equal(t, "a", tbl.Columns()[1].Strings[0])
}

func TestMoveToEndAndDrop(t *testing.T) {
	tbl := MustNew(
		NewNumeric("a", []float64{1}),
		NewNumeric("Label", []float64{0}),
		NewNumeric("b", []float64{2}),
	)
	require.NoError(t, tbl.MoveToEnd("Label"))
	assert.Equal(t, []string{"a", "b", "Label"}, tbl.Names())
	assert.Equal(t, "Label", tbl.LabelName())

	tbl.Drop("a", "missing")
	assert.Equal(t, []string{"b", "Label"}, tbl.Names())
	col, ok := tbl.Column("Label")
	require.True(t, ok)
	assert.Equal(t, 0.0, col.Floats[0])
}

func TestTakeSelectsRows(t *testing.T) {
	tbl := MustNew(
		NewNumeric("a", []float64{10, 20, 30}),
		NewCategorical("Label", []string{"x", "y", "z"}),
	)
	sub := tbl.Take([]int{2, 0})
	assert.Equal(t, 2, sub.NumRows())
	assert.Equal(t, []float64{30, 10}, sub.Columns()[0].Floats)
	assert.Equal(t, []string{"z", "x"}, sub.Columns()[1].Strings)
}

func TestFeatureMatrixRequiresNumericFeatures(t *testing.T) {
	tbl := MustNew(
		NewCategorical("ip", []string{"1.1.1.1"}),
		NewNumeric("Label", []float64{1}),
	)
	_, err := tbl.FeatureMatrix()
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)

	tbl = MustNew(
		NewNumeric("a", []float64{1, 2}),
		NewNumeric("b", []float64{3, 4}),
		NewCategorical("Label", []string{"x", "y"}),
	)
	m, err := tbl.FeatureMatrix()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 3}, {2, 4}}, m)
}

func TestStringAtFormatsNumbers(t *testing.T) {
	c := NewNumeric("Label", []float64{3, 0.5, math.NaN()})
	assert.Equal(t, []string{"3", "0.5", ""}, c.Strs())
}

func TestReadCSVInfersKinds(t *testing.T) {
	in := "Flow ID,Packets,Rate,Timestamp,Label\n" +
		"f1,10,0.5,2024-01-01T10:00:00Z,0\n" +
		"f2,,1.5,2024-01-01T11:00:00Z,1\n" +
		"f1,7,NaN,2024-01-02T10:00:00Z,1\n"

	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())

	flow, _ := tbl.Column("Flow ID")
	assert.Equal(t, Categorical, flow.Kind)

	packets, _ := tbl.Column("Packets")
	assert.Equal(t, Numeric, packets.Kind)
	assert.False(t, packets.Integer, "a missing cell prevents the integer flag")
	assert.True(t, packets.IsMissing(1))

	rate, _ := tbl.Column("Rate")
	assert.True(t, math.IsNaN(rate.Floats[2]))

	label, _ := tbl.Column("Label")
	assert.True(t, label.Integer)

	ts, _ := tbl.Column("Timestamp")
	assert.Equal(t, Categorical, ts.Kind)
}

func TestReadCSVRaggedRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2\n3\n"))
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl := MustNew(
		NewCategorical("src", []string{"a", ""}),
		NewInteger("Label", []float64{1, 2}),
	)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t, "src,Label\na,1\n,2\n", buf.String())

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.True(t, tbl.Equal(back))
}

func TestDistinctIgnoresMissing(t *testing.T) {
	assert.Equal(t, 1, NewNumeric("a", []float64{1, math.NaN(), 1}).Distinct())
	assert.Equal(t, 2, NewCategorical("b", []string{"x", "", "y"}).Distinct())
}
