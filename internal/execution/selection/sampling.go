package selection

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// classRows groups row indices by label, keeping row order inside a class.
func classRows(t *dataset.Table) (map[string][]int, *dataset.Column, error) {
	label, err := t.Label()
	if err != nil {
		return nil, nil, err
	}
	groups := make(map[string][]int)
	for i := 0; i < label.Len(); i++ {
		key := label.StringAt(i)
		groups[key] = append(groups[key], i)
	}
	return groups, label, nil
}

// UnderSample randomly keeps Count rows of every targeted class, without
// replacement. Untargeted classes are kept whole and the surviving rows keep
// their original order.
type UnderSample struct {
	Targets []ClassTarget
	Seed    int64
}

func (UnderSample) Name() string { return "under_sample" }

func (s UnderSample) Apply(t *dataset.Table) (*dataset.Table, error) {
	if len(s.Targets) == 0 {
		return t, nil
	}
	groups, _, err := classRows(t)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(s.Seed))
	drop := make(map[int]bool)
	for _, target := range s.Targets {
		rows, ok := groups[target.Label]
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "class %q is not present", target.Label)
		}
		if target.Count > len(rows) {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput,
				"cannot under-sample class %q from %d to %d rows", target.Label, len(rows), target.Count)
		}
		perm := rng.Perm(len(rows))
		for _, p := range perm[target.Count:] {
			drop[rows[p]] = true
		}
	}
	keep := make([]int, 0, t.NumRows()-len(drop))
	for i := 0; i < t.NumRows(); i++ {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	return t.Take(keep), nil
}

// OverSample grows every targeted class to Count rows with SMOTE: each new row
// interpolates between a random class member and one of its KNeighbors
// nearest same-class neighbours. New rows are appended after the original
// ones.
type OverSample struct {
	Targets    []ClassTarget
	KNeighbors int
	Seed       int64
}

func (OverSample) Name() string { return "over_sample" }

func (s OverSample) Apply(t *dataset.Table) (*dataset.Table, error) {
	if len(s.Targets) == 0 {
		return t, nil
	}
	if s.KNeighbors < 1 {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "k_neighbors must be positive, got %d", s.KNeighbors)
	}
	feats, err := numericFeatures(t)
	if err != nil {
		return nil, err
	}
	groups, label, err := classRows(t)
	if err != nil {
		return nil, err
	}
	x, err := t.FeatureMatrix()
	if err != nil {
		return nil, err
	}
	for _, row := range x {
		for _, v := range row {
			if math.IsNaN(v) {
				return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "features contain missing values")
			}
		}
	}

	for _, target := range s.Targets {
		rows, ok := groups[target.Label]
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "class %q is not present", target.Label)
		}
		if target.Count < len(rows) {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput,
				"cannot over-sample class %q from %d down to %d rows", target.Label, len(rows), target.Count)
		}
		if target.Count > len(rows) && len(rows) <= s.KNeighbors {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput,
				"class %q has %d rows, SMOTE needs more than %d", target.Label, len(rows), s.KNeighbors)
		}
	}

	rng := rand.New(rand.NewSource(s.Seed))
	var synthetic [][]float64
	var origin []int
	for _, target := range s.Targets {
		rows := groups[target.Label]
		need := target.Count - len(rows)
		if need == 0 {
			continue
		}
		neighbours := make(map[int][]int)
		for n := 0; n < need; n++ {
			base := rows[rng.Intn(len(rows))]
			nn, ok := neighbours[base]
			if !ok {
				nn = nearest(x, rows, base, s.KNeighbors)
				neighbours[base] = nn
			}
			other := nn[rng.Intn(len(nn))]
			gap := rng.Float64()
			row := make([]float64, len(feats))
			for j := range row {
				row[j] = x[base][j] + gap*(x[other][j]-x[base][j])
			}
			synthetic = append(synthetic, row)
			origin = append(origin, base)
		}
	}
	if len(synthetic) == 0 {
		return t, nil
	}

	cols := make([]*dataset.Column, 0, t.NumCols())
	for j, c := range feats {
		values := append(make([]float64, 0, c.Len()+len(synthetic)), c.Floats...)
		for _, row := range synthetic {
			values = append(values, row[j])
		}
		cols = append(cols, dataset.NewNumeric(c.Name, values))
	}
	all := make([]int, 0, label.Len()+len(origin))
	for i := 0; i < label.Len(); i++ {
		all = append(all, i)
	}
	cols = append(cols, label.Take(append(all, origin...)))
	return dataset.New(cols...)
}

// nearest returns the k rows of candidates closest to row base, excluding base.
func nearest(x [][]float64, candidates []int, base, k int) []int {
	type scored struct {
		row  int
		dist float64
	}
	scores := make([]scored, 0, len(candidates)-1)
	for _, c := range candidates {
		if c == base {
			continue
		}
		scores = append(scores, scored{row: c, dist: floats.Distance(x[base], x[c], 2)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	if k > len(scores) {
		k = len(scores)
	}
	out := make([]int, k)
	for i := range out {
		out[i] = scores[i].row
	}
	return out
}
