package stage

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) SubstepFailed(stage, step string) {
	m.Called(stage, step)
}

func double(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	c, _ := out.Column("x")
	for i := range c.Floats {
		c.Floats[i] *= 2
	}
	return out, nil
}

func failing(*dataset.Table) (*dataset.Table, error) {
	return nil, errors.New("boom")
}

func TestRunnerContinuesAfterFailure(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("SubstepFailed", "engineering", "broken").Once()

	in := dataset.MustNew(dataset.NewNumeric("x", []float64{1, 2}), dataset.NewNumeric("Label", []float64{0, 1}))
	r := NewRunner("engineering", zerolog.Nop(), Policy{}, rec)

	out, err := r.Run(in,
		Func{StepName: "double", Fn: double},
		Func{StepName: "broken", Fn: failing},
		Func{StepName: "double", Fn: double},
	)
	require.NoError(t, err)
	c, _ := out.Column("x")
	assert.Equal(t, []float64{4, 8}, c.Floats)

	orig, _ := in.Column("x")
	assert.Equal(t, []float64{1, 2}, orig.Floats, "input is never mutated")
	rec.AssertExpectations(t)
}

func TestRunnerFailFast(t *testing.T) {
	in := dataset.MustNew(dataset.NewNumeric("x", []float64{1}))
	r := NewRunner("selection", zerolog.Nop(), Policy{FailFast: true}, nil)

	_, err := r.Run(in, Func{StepName: "broken", Fn: failing}, Func{StepName: "double", Fn: double})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selection/broken")
}

func TestRunnerRejectsNilTable(t *testing.T) {
	_, err := NewRunner("cleaning", zerolog.Nop(), Policy{}, nil).Run(nil)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)
}
