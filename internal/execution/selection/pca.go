package selection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// PCAReduce projects the centred features onto their first Components
// principal axes, named PC1..PCn. Each axis is oriented so that its largest
// absolute loading is positive, which makes the projection deterministic.
type PCAReduce struct {
	Components int
}

func (PCAReduce) Name() string { return "pca_reduce" }

func (s PCAReduce) Apply(t *dataset.Table) (*dataset.Table, error) {
	feats, err := numericFeatures(t)
	if err != nil {
		return nil, err
	}
	rows, cols := t.NumRows(), len(feats)
	if s.Components < 1 || s.Components > cols || s.Components > rows {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidInput,
			"cannot extract %d components from %d rows x %d features", s.Components, rows, cols)
	}

	x := mat.NewDense(rows, cols, nil)
	for j, c := range feats {
		for i, v := range c.Floats {
			if math.IsNaN(v) {
				return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "feature %q has missing values", c.Name)
			}
			x.Set(i, j, v)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	orient(&vecs, s.Components)

	for j := 0; j < cols; j++ {
		mean := stat.Mean(mat.Col(nil, j, x), nil)
		for i := 0; i < rows; i++ {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}
	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, cols, 0, s.Components))

	out := make([]*dataset.Column, 0, s.Components+1)
	for k := 0; k < s.Components; k++ {
		out = append(out, dataset.NewNumeric(fmt.Sprintf("PC%d", k+1), mat.Col(nil, k, &proj)))
	}
	label, err := t.Label()
	if err != nil {
		return nil, err
	}
	out = append(out, label.Clone())
	return dataset.New(out...)
}

func orient(vecs *mat.Dense, n int) {
	r, _ := vecs.Dims()
	for k := 0; k < n; k++ {
		best := 0.0
		for i := 0; i < r; i++ {
			if v := vecs.At(i, k); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			for i := 0; i < r; i++ {
				vecs.Set(i, k, -vecs.At(i, k))
			}
		}
	}
}
