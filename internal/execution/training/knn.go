package training

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// KNN is a uniform-weight k nearest neighbours classifier under the
// Minkowski distance of order P. Equal vote counts go to the smallest class.
type KNN struct {
	K           int         `json:"k"`
	P           float64     `json:"p"`
	ClassLabels []string    `json:"classes"`
	Features    int         `json:"features"`
	X           [][]float64 `json:"x"`
	Y           []int       `json:"y"`
}

func NewKNN() *KNN {
	return &KNN{K: 5, P: 1}
}

func (m *KNN) Kind() Kind        { return KindKNN }
func (m *KNN) Classes() []string { return m.ClassLabels }
func (m *KNN) NumFeatures() int  { return m.Features }

func (m *KNN) fit(_ context.Context, x [][]float64, y []string) error {
	n, err := checkFit(x, y)
	if err != nil {
		return err
	}
	m.ClassLabels, m.Y = encodeLabels(y)
	m.Features = n
	m.X = make([][]float64, len(x))
	for i, row := range x {
		m.X[i] = append([]float64(nil), row...)
	}
	return nil
}

func (m *KNN) PredictOne(features []float64) (string, error) {
	if err := checkFeatures(m.Features, features); err != nil {
		return "", err
	}
	return m.ClassLabels[m.vote(features)], nil
}

// Predict splits the rows into contiguous chunks scored concurrently.
func (m *KNN) Predict(x [][]float64) ([]string, error) {
	for _, row := range x {
		if err := checkFeatures(m.Features, row); err != nil {
			return nil, err
		}
	}
	out := make([]string, len(x))
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(x) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(x); start += chunk {
		start, end := start, start+chunk
		if end > len(x) {
			end = len(x)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				out[i] = m.ClassLabels[m.vote(x[i])]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *KNN) vote(q []float64) int {
	type neighbour struct {
		idx  int
		dist float64
	}
	all := make([]neighbour, len(m.X))
	for i, row := range m.X {
		all[i] = neighbour{idx: i, dist: floats.Distance(q, row, m.P)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	k := m.K
	if k > len(all) {
		k = len(all)
	}
	votes := make([]float64, len(m.ClassLabels))
	for _, nb := range all[:k] {
		votes[m.Y[nb.idx]]++
	}
	return argmax(votes)
}
