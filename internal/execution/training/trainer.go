package training

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Kind names a supported classifier family.
type Kind string

const (
	KindGradientBoosting Kind = "gradient_boosting"
	KindKNN              Kind = "knn"
	KindLightGBM         Kind = "lightgbm"
	KindRandomForest     Kind = "random_forest"
	KindSVM              Kind = "svm"
	KindXGBoost          Kind = "xgboost"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindGradientBoosting, KindKNN, KindLightGBM, KindRandomForest, KindSVM, KindXGBoost}
}

var kindAliases = map[string]Kind{
	"gradient boosting classifier":   KindGradientBoosting,
	"k nearest neighbors classifier": KindKNN,
	"lightgbm classifier":            KindLightGBM,
	"random forest classifier":       KindRandomForest,
	"support vector classifier":      KindSVM,
	"xgboost classifier":             KindXGBoost,
}

// ParseKind accepts a kind identifier or one of the display names such as
// "K Nearest Neighbors Classifier".
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if name == string(k) {
			return k, nil
		}
	}
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "unknown model %q", s)
}

// Classifier is a fitted model. Fitted classifiers are never mutated, so
// Predict may be called from many goroutines.
type Classifier interface {
	Kind() Kind
	// Classes returns the distinct training labels in sorted order.
	Classes() []string
	NumFeatures() int
	Predict(x [][]float64) ([]string, error)
	PredictOne(features []float64) (string, error)
}

// estimator is a classifier that has not been fitted yet.
type estimator interface {
	Classifier
	fit(ctx context.Context, x [][]float64, y []string) error
}

// newEstimator returns an unfitted classifier of the given kind with its
// fixed default hyper-parameters.
func newEstimator(kind Kind) (estimator, error) {
	switch kind {
	case KindGradientBoosting:
		return NewGradientBoosting(), nil
	case KindKNN:
		return NewKNN(), nil
	case KindLightGBM:
		return NewLightGBM(), nil
	case KindRandomForest:
		return NewRandomForest(), nil
	case KindSVM:
		return NewSVM(), nil
	case KindXGBoost:
		return NewXGBoost(), nil
	default:
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported model type: %s", kind)
	}
}

// Observer receives the wall-clock fit time of every trained model.
type Observer interface {
	ObserveTraining(model string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTraining(string, time.Duration) {}

// Trainer fits classifiers and predicts the test partition.
type Trainer struct {
	log      zerolog.Logger
	observer Observer
}

func New(log zerolog.Logger, observer Observer) *Trainer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Trainer{
		log:      log.With().Str("stage", "train").Logger(),
		observer: observer,
	}
}

// Train fits a kind classifier on xTrain/yTrain and returns its predictions
// for xTest together with the fitted model.
func (t *Trainer) Train(ctx context.Context, kind Kind, xTrain *dataset.Table, yTrain []string, xTest *dataset.Table) ([]string, Classifier, error) {
	if xTrain == nil || xTest == nil {
		return nil, nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "nil feature table")
	}
	if xTrain.NumRows() != len(yTrain) {
		return nil, nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"x_train has %d rows but y_train has %d labels", xTrain.NumRows(), len(yTrain))
	}
	if xTrain.NumRows() == 0 {
		return nil, nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "no training rows")
	}
	if xTest.NumCols() != xTrain.NumCols() {
		return nil, nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"x_train has %d features but x_test has %d", xTrain.NumCols(), xTest.NumCols())
	}
	train, err := xTrain.Matrix()
	if err != nil {
		return nil, nil, err
	}
	test, err := xTest.Matrix()
	if err != nil {
		return nil, nil, err
	}

	model, err := newEstimator(kind)
	if err != nil {
		return nil, nil, err
	}

	t.log.Info().Str("model", string(kind)).Int("rows", len(train)).Int("features", xTrain.NumCols()).Msg("Model building initiated")
	start := time.Now()
	if err := model.fit(ctx, train, yTrain); err != nil {
		return nil, nil, fmt.Errorf("failed to build model %s: %w", kind, err)
	}
	elapsed := time.Since(start)
	t.observer.ObserveTraining(string(kind), elapsed)
	t.log.Info().Str("model", string(kind)).Dur("training_time", elapsed).Msg("Model built successfully")

	predictions, err := model.Predict(test)
	if err != nil {
		return nil, nil, err
	}
	return predictions, model, nil
}

// encodeLabels maps labels to indices into the sorted distinct label list.
func encodeLabels(y []string) ([]string, []int) {
	seen := make(map[string]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded := make([]int, len(y))
	for i, v := range y {
		encoded[i] = index[v]
	}
	return classes, encoded
}

func checkFit(x [][]float64, y []string) (int, error) {
	if len(x) == 0 {
		return 0, errorutil.Wrapf(errorutil.ErrEmptyInput, "no training rows")
	}
	if len(x) != len(y) {
		return 0, errorutil.Wrapf(errorutil.ErrShapeMismatch, "%d rows but %d labels", len(x), len(y))
	}
	for i, row := range x {
		if len(row) != len(x[0]) {
			return 0, errorutil.Wrapf(errorutil.ErrShapeMismatch, "row %d has %d features, want %d", i, len(row), len(x[0]))
		}
		for _, v := range row {
			if math.IsNaN(v) {
				return 0, errorutil.Wrapf(errorutil.ErrInvalidInput, "row %d has missing values", i)
			}
		}
	}
	return len(x[0]), nil
}

func checkFeatures(want int, features []float64) error {
	if len(features) != want {
		return errorutil.Wrapf(errorutil.ErrShapeMismatch, "expected %d features, got %d", want, len(features))
	}
	return nil
}

// predictRows applies one to every row.
func predictRows(want int, x [][]float64, one func([]float64) string) ([]string, error) {
	out := make([]string, len(x))
	for i, row := range x {
		if err := checkFeatures(want, row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = one(row)
	}
	return out, nil
}

// argmax returns the first index holding the largest value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
