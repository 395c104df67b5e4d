package training

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

type SVMConfig struct {
	C         float64 `json:"c"`
	Degree    float64 `json:"degree"`
	Coef0     float64 `json:"coef0"`
	Gamma     float64 `json:"gamma"` // 0 means 1/n_features
	Tolerance float64 `json:"tolerance"`
	MaxIter   int     `json:"max_iter"`
}

// BinarySVM separates ClassLabels[Positive] (decision > 0) from
// ClassLabels[Negative].
type BinarySVM struct {
	Positive int         `json:"positive"`
	Negative int         `json:"negative"`
	Vectors  [][]float64 `json:"vectors"`
	Coef     []float64   `json:"coef"` // alpha_i * y_i
	Bias     float64     `json:"bias"`
}

// SVM is a one-vs-one polynomial kernel support vector classifier. Each pair
// of classes gets one binary machine and the class with most votes wins.
type SVM struct {
	Config      SVMConfig    `json:"config"`
	ClassLabels []string     `json:"classes"`
	Features    int          `json:"features"`
	Machines    []*BinarySVM `json:"machines"`
}

func NewSVM() *SVM {
	return &SVM{Config: SVMConfig{
		C:         1,
		Degree:    3,
		Tolerance: 1e-3,
		MaxIter:   1_000_000,
	}}
}

func (s *SVM) Kind() Kind        { return KindSVM }
func (s *SVM) Classes() []string { return s.ClassLabels }
func (s *SVM) NumFeatures() int  { return s.Features }

func (s *SVM) kernel(a, b []float64) float64 {
	return math.Pow(s.Config.Gamma*floats.Dot(a, b)+s.Config.Coef0, s.Config.Degree)
}

func (s *SVM) fit(ctx context.Context, x [][]float64, y []string) error {
	n, err := checkFit(x, y)
	if err != nil {
		return err
	}
	classes, labels := encodeLabels(y)
	s.ClassLabels = classes
	s.Features = n
	if s.Config.Gamma == 0 {
		s.Config.Gamma = 1 / float64(n)
	}

	byClass := make([][]int, len(classes))
	for i, c := range labels {
		byClass[c] = append(byClass[c], i)
	}
	s.Machines = nil
	for p := 0; p < len(classes); p++ {
		for q := p + 1; q < len(classes); q++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows := append(append([]int(nil), byClass[p]...), byClass[q]...)
			sub := make([][]float64, len(rows))
			target := make([]float64, len(rows))
			for i, r := range rows {
				sub[i] = x[r]
				if labels[r] == p {
					target[i] = 1
				} else {
					target[i] = -1
				}
			}
			m := s.solve(sub, target)
			m.Positive, m.Negative = p, q
			s.Machines = append(s.Machines, m)
		}
	}
	return nil
}

// solve runs SMO with maximal violating pair selection on the dual problem.
func (s *SVM) solve(x [][]float64, y []float64) *BinarySVM {
	n := len(x)
	cost := s.Config.C
	alpha := make([]float64, n)
	grad := make([]float64, n)
	diag := make([]float64, n)
	for i := range grad {
		grad[i] = -1
		diag[i] = s.kernel(x[i], x[i])
	}
	cache := newKernelCache(s, x)

	up := func(t int) bool { return (y[t] > 0 && alpha[t] < cost) || (y[t] < 0 && alpha[t] > 0) }
	low := func(t int) bool { return (y[t] < 0 && alpha[t] < cost) || (y[t] > 0 && alpha[t] > 0) }

	var gmax, gmin float64
	for iter := 0; iter < s.Config.MaxIter; iter++ {
		i, j := -1, -1
		gmax, gmin = math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			v := -y[t] * grad[t]
			if up(t) && v > gmax {
				gmax, i = v, t
			}
			if low(t) && v < gmin {
				gmin, j = v, t
			}
		}
		if i < 0 || j < 0 || gmax-gmin < s.Config.Tolerance {
			break
		}

		ki, kj := cache.row(i), cache.row(j)
		a := diag[i] + diag[j] - 2*ki[j]
		if a <= 0 {
			a = 1e-12
		}
		step := (gmax - gmin) / a
		if y[i] > 0 {
			step = math.Min(step, cost-alpha[i])
		} else {
			step = math.Min(step, alpha[i])
		}
		if y[j] > 0 {
			step = math.Min(step, alpha[j])
		} else {
			step = math.Min(step, cost-alpha[j])
		}
		alpha[i] += y[i] * step
		alpha[j] -= y[j] * step
		for t := 0; t < n; t++ {
			// Q_ti * dAlpha_i + Q_tj * dAlpha_j with Q_ts = y_t y_s K_ts
			grad[t] += y[t] * step * (ki[t] - kj[t])
		}
	}

	bias, free := 0.0, 0
	for t := 0; t < n; t++ {
		if alpha[t] > 0 && alpha[t] < cost {
			bias += -y[t] * grad[t]
			free++
		}
	}
	if free > 0 {
		bias /= float64(free)
	} else {
		bias = (gmax + gmin) / 2
	}

	m := &BinarySVM{Bias: bias}
	for t := 0; t < n; t++ {
		if alpha[t] > 0 {
			m.Vectors = append(m.Vectors, append([]float64(nil), x[t]...))
			m.Coef = append(m.Coef, alpha[t]*y[t])
		}
	}
	return m
}

func (s *SVM) decide(sample []float64) int {
	votes := make([]float64, len(s.ClassLabels))
	for _, m := range s.Machines {
		f := m.Bias
		for i, v := range m.Vectors {
			f += m.Coef[i] * s.kernel(v, sample)
		}
		if f > 0 {
			votes[m.Positive]++
		} else {
			votes[m.Negative]++
		}
	}
	return argmax(votes)
}

func (s *SVM) PredictOne(features []float64) (string, error) {
	if err := checkFeatures(s.Features, features); err != nil {
		return "", err
	}
	return s.ClassLabels[s.decide(features)], nil
}

func (s *SVM) Predict(x [][]float64) ([]string, error) {
	return predictRows(s.Features, x, func(row []float64) string {
		return s.ClassLabels[s.decide(row)]
	})
}

// kernelCache keeps computed kernel rows up to a fixed memory budget and
// starts over once it is full.
type kernelCache struct {
	svm   *SVM
	x     [][]float64
	rows  map[int][]float64
	limit int
}

const kernelCacheBytes = 256 << 20

func newKernelCache(s *SVM, x [][]float64) *kernelCache {
	limit := kernelCacheBytes / (8 * len(x))
	if limit < 2 {
		limit = 2
	}
	return &kernelCache{svm: s, x: x, rows: make(map[int][]float64), limit: limit}
}

func (c *kernelCache) row(i int) []float64 {
	if r, ok := c.rows[i]; ok {
		return r
	}
	if len(c.rows) >= c.limit {
		c.rows = make(map[int][]float64)
	}
	r := make([]float64, len(c.x))
	for t, v := range c.x {
		r[t] = c.svm.kernel(c.x[i], v)
	}
	c.rows[i] = r
	return r
}
