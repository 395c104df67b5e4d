package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var (
	truth = []string{"0", "0", "1", "1", "2", "2"}
	preds = []string{"0", "1", "1", "1", "2", "0"}
)

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{
		"accuracy":               MetricAccuracy,
		"Confusion Matrix":       MetricConfusionMatrix,
		"classification report":  MetricClassificationReport,
		" classification_report": MetricClassificationReport,
	} {
		got, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMetric("roc_auc")
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)
}

func TestAccuracy(t *testing.T) {
	s, err := Evaluate(truth, preds, MetricAccuracy)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/6.0, s.Accuracy, 1e-12)
	assert.Nil(t, s.Confusion)
	assert.Nil(t, s.Report)
	assert.Equal(t, "0.6667", s.String())
}

func TestConfusionMatrix(t *testing.T) {
	s, err := Evaluate(truth, preds, MetricConfusionMatrix)
	require.NoError(t, err)
	require.NotNil(t, s.Confusion)
	assert.Equal(t, []string{"0", "1", "2"}, s.Confusion.Classes)
	assert.Equal(t, [][]int{
		{1, 1, 0},
		{0, 2, 0},
		{1, 0, 1},
	}, s.Confusion.Counts)
}

func TestClassificationReport(t *testing.T) {
	s, err := Evaluate(truth, preds, MetricClassificationReport)
	require.NoError(t, err)
	r := s.Report
	require.NotNil(t, r)
	require.Len(t, r.Classes, 3)

	// class 1: tp 2, fp 1, fn 0
	c1 := r.Classes[1]
	assert.Equal(t, "1", c1.Class)
	assert.InDelta(t, 2.0/3.0, c1.Precision, 1e-12)
	assert.InDelta(t, 1.0, c1.Recall, 1e-12)
	assert.InDelta(t, 0.8, c1.F1, 1e-12)
	assert.Equal(t, 2, c1.Support)

	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-12)
	assert.Equal(t, 6, r.MacroAvg.Support)
	assert.InDelta(t, (0.5+2.0/3.0+1.0)/3, r.MacroAvg.Precision, 1e-12)
	// equal supports make the weighted average the macro average
	assert.InDelta(t, r.MacroAvg.F1, r.WeightedAvg.F1, 1e-12)
	assert.Contains(t, s.String(), "weighted avg")
}

func TestReportZeroDivisionIsZero(t *testing.T) {
	s, err := Evaluate([]string{"a", "a"}, []string{"b", "b"}, MetricClassificationReport)
	require.NoError(t, err)
	for _, c := range s.Report.Classes {
		assert.Zero(t, c.Precision, c.Class)
		assert.Zero(t, c.Recall, c.Class)
		assert.Zero(t, c.F1, c.Class)
	}
	assert.Equal(t, 0, s.Report.Classes[1].Support, "predicted-only class has no support")
}

func TestEvaluateErrors(t *testing.T) {
	s, err := Evaluate([]string{"0", "1", "0", "1", "0"}, []string{"0", "1", "0", "1"}, MetricAccuracy)
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
	assert.Nil(t, s)

	_, err = Evaluate(nil, nil, MetricAccuracy)
	assert.ErrorIs(t, err, errorutil.ErrEmptyInput)

	_, err = Evaluate(truth, preds, Metric("f2"))
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)
}
