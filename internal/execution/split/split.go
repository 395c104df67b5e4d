// Package split partitions a table into train and test sets.
package split

import (
	"math"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const (
	DefaultTestFraction = 0.2
	DefaultSeed         = 42
)

// Split holds the feature tables and label vectors of both partitions. It is
// never modified after creation.
type Split struct {
	XTrain *dataset.Table
	XTest  *dataset.Table
	YTrain []string
	YTest  []string
}

// Splitter shuffles rows with a fixed seed and takes ceil(rows*fraction) of
// them as the test partition. The last column is the label.
type Splitter struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Splitter {
	return &Splitter{log: log.With().Str("stage", "split").Logger()}
}

func (s *Splitter) Split(t *dataset.Table, testFraction float64, seed int64) (*Split, error) {
	if t == nil {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "nil table")
	}
	rows := t.NumRows()
	if rows == 0 || t.NumCols() == 0 {
		return nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "cannot split an empty table")
	}
	if !(testFraction > 0 && testFraction < 1) {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidFraction, "test fraction %v not in (0,1)", testFraction)
	}
	nTest := int(math.Ceil(float64(rows) * testFraction))
	if nTest >= rows {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidFraction,
			"test fraction %v leaves no training rows out of %d", testFraction, rows)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(rows)
	testIdx, trainIdx := perm[:nTest], perm[nTest:]

	label, err := t.Label()
	if err != nil {
		return nil, err
	}
	features := t.Clone()
	features.Drop(label.Name)

	out := &Split{
		XTrain: features.Take(trainIdx),
		XTest:  features.Take(testIdx),
		YTrain: label.Take(trainIdx).Strs(),
		YTest:  label.Take(testIdx).Strs(),
	}
	s.log.Info().
		Ints("x_train", []int{out.XTrain.NumRows(), out.XTrain.NumCols()}).
		Ints("x_test", []int{out.XTest.NumRows(), out.XTest.NumCols()}).
		Int("y_train", len(out.YTrain)).
		Int("y_test", len(out.YTest)).
		Msg("Data split")
	return out, nil
}
