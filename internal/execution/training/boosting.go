package training

import (
	"context"
	"math"
	"sort"
)

// BoostingConfig holds the hyper-parameters shared by the gradient boosted
// tree families. Every round fits one regression tree per class on the
// softmax gradients over histogram-binned features.
type BoostingConfig struct {
	Rounds         int     `json:"rounds"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	Lambda         float64 `json:"lambda"`
	MaxBins        int     `json:"max_bins"`
	MinChildWeight float64 `json:"min_child_weight"`
	MinChildRows   int     `json:"min_child_rows"`
	// ClassicLeaves scales leaf values by (K-1)/K as in Friedman's
	// multi-class update.
	ClassicLeaves bool `json:"classic_leaves"`
}

type RegressionNode struct {
	Feature   int             `json:"feature,omitempty"`
	Threshold float64         `json:"threshold,omitempty"`
	Left      *RegressionNode `json:"left,omitempty"`
	Right     *RegressionNode `json:"right,omitempty"`
	Leaf      bool            `json:"leaf,omitempty"`
	Value     float64         `json:"value,omitempty"`
}

func (n *RegressionNode) predict(x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// Booster is a multi-class gradient boosted tree ensemble.
type Booster struct {
	Variant     Kind                `json:"variant"`
	Config      BoostingConfig      `json:"config"`
	ClassLabels []string            `json:"classes"`
	Features    int                 `json:"features"`
	Base        []float64           `json:"base"`
	Trees       [][]*RegressionNode `json:"trees"` // [round][class]
}

func NewGradientBoosting() *Booster {
	return &Booster{Variant: KindGradientBoosting, Config: BoostingConfig{
		Rounds:         100,
		LearningRate:   0.1,
		MaxDepth:       3,
		MaxBins:        255,
		MinChildWeight: 1e-8,
		MinChildRows:   1,
		ClassicLeaves:  true,
	}}
}

func NewLightGBM() *Booster {
	return &Booster{Variant: KindLightGBM, Config: BoostingConfig{
		Rounds:         300,
		LearningRate:   0.1,
		MaxDepth:       1,
		MaxBins:        255,
		MinChildWeight: 1e-3,
		MinChildRows:   20,
	}}
}

func NewXGBoost() *Booster {
	return &Booster{Variant: KindXGBoost, Config: BoostingConfig{
		Rounds:         800,
		LearningRate:   0.1,
		MaxDepth:       3,
		Lambda:         1,
		MaxBins:        256,
		MinChildWeight: 1,
		MinChildRows:   1,
	}}
}

func (b *Booster) Kind() Kind        { return b.Variant }
func (b *Booster) Classes() []string { return b.ClassLabels }
func (b *Booster) NumFeatures() int  { return b.Features }

func (b *Booster) fit(ctx context.Context, x [][]float64, y []string) error {
	numFeatures, err := checkFit(x, y)
	if err != nil {
		return err
	}
	classes, labels := encodeLabels(y)
	b.ClassLabels = classes
	b.Features = numFeatures
	k, n := len(classes), len(x)

	// log prior per class
	b.Base = make([]float64, k)
	for _, c := range labels {
		b.Base[c]++
	}
	for c := range b.Base {
		b.Base[c] = math.Log(b.Base[c] / float64(n))
	}

	hist := newHistogram(x, b.Config.MaxBins)
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = append([]float64(nil), b.Base...)
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	scale := 1.0
	if b.Config.ClassicLeaves && k > 1 {
		scale = float64(k-1) / float64(k)
	}

	b.Trees = make([][]*RegressionNode, 0, b.Config.Rounds)
	for round := 0; round < b.Config.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		probs := make([][]float64, n)
		for i := range scores {
			probs[i] = softmax(scores[i], make([]float64, k))
		}
		trees := make([]*RegressionNode, k)
		for c := 0; c < k; c++ {
			for i := range grad {
				p := probs[i][c]
				target := 0.0
				if labels[i] == c {
					target = 1
				}
				grad[i] = p - target
				hess[i] = math.Max(p*(1-p), 1e-16)
			}
			g := &growth{cfg: b.Config, hist: hist, grad: grad, hess: hess, scale: scale}
			trees[c] = g.grow(rows, 0)
			for i := range scores {
				scores[i][c] += b.Config.LearningRate * trees[c].predict(x[i])
			}
		}
		b.Trees = append(b.Trees, trees)
	}
	return nil
}

func (b *Booster) decision(x []float64) []float64 {
	out := append([]float64(nil), b.Base...)
	for _, round := range b.Trees {
		for c, tree := range round {
			out[c] += b.Config.LearningRate * tree.predict(x)
		}
	}
	return out
}

func (b *Booster) PredictOne(features []float64) (string, error) {
	if err := checkFeatures(b.Features, features); err != nil {
		return "", err
	}
	return b.ClassLabels[argmax(b.decision(features))], nil
}

func (b *Booster) Predict(x [][]float64) ([]string, error) {
	return predictRows(b.Features, x, func(row []float64) string {
		return b.ClassLabels[argmax(b.decision(row))]
	})
}

func softmax(scores, out []float64) []float64 {
	top := scores[argmax(scores)]
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - top)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// histogram holds every feature quantised into at most maxBins bins. A value
// v falls in bin b when cuts[b-1] < v <= cuts[b].
type histogram struct {
	cuts [][]float64
	bins [][]uint16 // [feature][row]
}

func newHistogram(x [][]float64, maxBins int) *histogram {
	features := len(x[0])
	h := &histogram{cuts: make([][]float64, features), bins: make([][]uint16, features)}
	values := make([]float64, len(x))
	for f := 0; f < features; f++ {
		for i, row := range x {
			values[i] = row[f]
		}
		h.cuts[f] = binCuts(values, maxBins)
		h.bins[f] = make([]uint16, len(x))
		for i, row := range x {
			h.bins[f][i] = uint16(sort.SearchFloat64s(h.cuts[f], row[f]))
		}
	}
	return h
}

// binCuts returns cut points between distinct values, evenly spaced in rank
// when there are more distinct values than bins.
func binCuts(values []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	distinct := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	m := len(distinct)
	if m <= 1 {
		return nil
	}
	if m <= maxBins {
		cuts := make([]float64, m-1)
		for i := range cuts {
			cuts[i] = (distinct[i] + distinct[i+1]) / 2
		}
		return cuts
	}
	cuts := make([]float64, 0, maxBins-1)
	for q := 1; q < maxBins; q++ {
		idx := q * m / maxBins
		cuts = append(cuts, (distinct[idx-1]+distinct[idx])/2)
	}
	return cuts
}

type growth struct {
	cfg   BoostingConfig
	hist  *histogram
	grad  []float64
	hess  []float64
	scale float64
}

func (g *growth) leaf(G, H float64) *RegressionNode {
	if H+g.cfg.Lambda < 1e-12 {
		return &RegressionNode{Leaf: true}
	}
	return &RegressionNode{Leaf: true, Value: -G / (H + g.cfg.Lambda) * g.scale}
}

func (g *growth) grow(rows []int, depth int) *RegressionNode {
	G, H := 0.0, 0.0
	for _, r := range rows {
		G += g.grad[r]
		H += g.hess[r]
	}
	if depth >= g.cfg.MaxDepth || len(rows) < 2*g.cfg.MinChildRows {
		return g.leaf(G, H)
	}

	parent := G * G / (H + g.cfg.Lambda)
	bestGain, bestFeature, bestBin := 1e-12, -1, 0
	for f, cuts := range g.hist.cuts {
		if len(cuts) == 0 {
			continue
		}
		bins := len(cuts) + 1
		gs := make([]float64, bins)
		hs := make([]float64, bins)
		cnt := make([]int, bins)
		for _, r := range rows {
			bin := g.hist.bins[f][r]
			gs[bin] += g.grad[r]
			hs[bin] += g.hess[r]
			cnt[bin]++
		}
		gl, hl, nl := 0.0, 0.0, 0
		for bin := 0; bin < bins-1; bin++ {
			gl += gs[bin]
			hl += hs[bin]
			nl += cnt[bin]
			gr, hr, nr := G-gl, H-hl, len(rows)-nl
			if nl < g.cfg.MinChildRows || nr < g.cfg.MinChildRows {
				continue
			}
			if hl < g.cfg.MinChildWeight || hr < g.cfg.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+g.cfg.Lambda) + gr*gr/(hr+g.cfg.Lambda) - parent
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, f, bin
			}
		}
	}
	if bestFeature < 0 {
		return g.leaf(G, H)
	}

	var left, right []int
	for _, r := range rows {
		if int(g.hist.bins[bestFeature][r]) <= bestBin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &RegressionNode{
		Feature:   bestFeature,
		Threshold: g.hist.cuts[bestFeature][bestBin],
		Left:      g.grow(left, depth+1),
		Right:     g.grow(right, depth+1),
	}
}
