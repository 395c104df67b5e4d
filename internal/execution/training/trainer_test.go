package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// blobs draws perClass rows around each center on every feature.
func blobs(seed int64, perClass, features int, centers ...float64) (*dataset.Table, []string) {
	r := rand.New(rand.NewSource(seed))
	values := make([][]float64, features)
	var labels []string
	for c, center := range centers {
		for i := 0; i < perClass; i++ {
			for f := range values {
				values[f] = append(values[f], center+r.NormFloat64()*0.3)
			}
			labels = append(labels, fmt.Sprint(c))
		}
	}
	cols := make([]*dataset.Column, features)
	for f := range cols {
		cols[f] = dataset.NewNumeric(fmt.Sprintf("PC%d", f+1), values[f])
	}
	return dataset.MustNew(cols...), labels
}

func accuracy(want, got []string) float64 {
	hits := 0
	for i := range want {
		if want[i] == got[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObserveTraining(model string, d time.Duration) {
	m.Called(model, d)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"knn", KindKNN},
		{"  Random_Forest ", KindRandomForest},
		{"K Nearest Neighbors Classifier", KindKNN},
		{"Gradient Boosting Classifier", KindGradientBoosting},
		{"LightGBM Classifier", KindLightGBM},
		{"Support Vector Classifier", KindSVM},
		{"XGBoost Classifier", KindXGBoost},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseKind("logistic")
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)
}

func TestTrainEveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			centers := []float64{0, 2, 4}
			if kind == KindSVM {
				// homogeneous cubic kernel: keep the classes symmetric
				centers = []float64{-1, 1}
			}
			xTrain, yTrain := blobs(1, 40, 4, centers...)
			xTest, yTest := blobs(2, 10, 4, centers...)

			preds, model, err := New(zerolog.Nop(), nil).Train(context.Background(), kind, xTrain, yTrain, xTest)
			require.NoError(t, err)
			require.Len(t, preds, len(yTest))
			assert.Equal(t, kind, model.Kind())
			assert.Equal(t, 4, model.NumFeatures())
			assert.GreaterOrEqual(t, accuracy(yTest, preds), 0.9)

			rows, err := xTest.Matrix()
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				one, err := model.PredictOne(rows[i])
				require.NoError(t, err)
				assert.Equal(t, preds[i], one, "row %d", i)
			}
		})
	}
}

func TestTrainRecordsTrainingTime(t *testing.T) {
	obs := new(MockObserver)
	obs.On("ObserveTraining", "knn", mock.AnythingOfType("time.Duration")).Once()

	x, y := blobs(1, 5, 2, 0, 3)
	_, _, err := New(zerolog.Nop(), obs).Train(context.Background(), KindKNN, x, y, x)
	require.NoError(t, err)
	obs.AssertExpectations(t)
}

func TestTrainErrors(t *testing.T) {
	trainer := New(zerolog.Nop(), nil)
	ctx := context.Background()
	x, y := blobs(1, 5, 2, 0, 3)

	_, _, err := trainer.Train(ctx, KindKNN, x, y[:7], x)
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)

	narrow := x.Clone()
	narrow.Drop("PC2")
	_, _, err = trainer.Train(ctx, KindKNN, x, y, narrow)
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)

	withText := x.Clone()
	require.NoError(t, withText.Set(dataset.NewCategorical("proto", make([]string, x.NumRows()))))
	_, _, err = trainer.Train(ctx, KindKNN, withText, y, withText)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)

	_, _, err = trainer.Train(ctx, Kind("perceptron"), x, y, x)
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)

	_, _, err = trainer.Train(ctx, KindKNN, nil, y, x)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}

func TestPredictOneRejectsWrongFeatureCount(t *testing.T) {
	x, y := blobs(1, 5, 3, 0, 3)
	_, model, err := New(zerolog.Nop(), nil).Train(context.Background(), KindKNN, x, y, x)
	require.NoError(t, err)

	_, err = model.PredictOne([]float64{1, 2})
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
	_, err = model.Predict([][]float64{{1, 2, 3}, {1}})
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
}

func TestKNNTieGoesToSmallestClass(t *testing.T) {
	m := &KNN{K: 2, P: 1}
	require.NoError(t, m.fit(context.Background(), [][]float64{{0}, {2}}, []string{"b", "a"}))

	got, err := m.PredictOne([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.Equal(t, []string{"a", "b"}, m.Classes())
}

func TestRandomForestIsReproducibleAcrossWorkers(t *testing.T) {
	x, y := blobs(3, 20, 3, 0, 1, 2)
	rows, err := x.Matrix()
	require.NoError(t, err)

	fit := func(jobs int) *RandomForest {
		rf := NewRandomForest()
		rf.Config.NumTrees = 25
		rf.Config.ParallelJobs = jobs
		require.NoError(t, rf.fit(context.Background(), rows, y))
		return rf
	}
	a, b := fit(1), fit(4)
	assert.Equal(t, a.Trees, b.Trees)
}

func TestRandomForestFeatureImportance(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	var rows [][]float64
	var y []string
	for i := 0; i < 200; i++ {
		signal := r.Float64()
		label := "low"
		if signal > 0.5 {
			label = "high"
		}
		rows = append(rows, []float64{r.Float64(), signal, r.Float64()})
		y = append(y, label)
	}
	rf := NewRandomForest()
	rf.Config.NumTrees = 30
	require.NoError(t, rf.fit(context.Background(), rows, y))

	importance := rf.FeatureImportance()
	assert.InDelta(t, 1, importance[0]+importance[1]+importance[2], 1e-9)
	assert.Greater(t, importance[1], importance[0])
	assert.Greater(t, importance[1], importance[2])
}

func TestFitRejectsMissingValues(t *testing.T) {
	for _, kind := range Kinds() {
		m, err := newEstimator(kind)
		require.NoError(t, err)
		err = m.fit(context.Background(), [][]float64{{1, 2}, {math.NaN(), 1}}, []string{"a", "b"})
		assert.ErrorIs(t, err, errorutil.ErrInvalidInput, string(kind))
	}
}

func TestBinCuts(t *testing.T) {
	assert.Nil(t, binCuts([]float64{3, 3, 3}, 255))
	assert.Equal(t, []float64{1.5, 2.5}, binCuts([]float64{3, 1, 2, 2}, 255))

	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i)
	}
	cuts := binCuts(values, 10)
	assert.Len(t, cuts, 9)
	assert.IsIncreasing(t, cuts)
}
