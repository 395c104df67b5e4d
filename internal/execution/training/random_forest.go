package training

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

type RandomForestConfig struct {
	NumTrees        int   `json:"num_trees"`
	MaxDepth        int   `json:"max_depth"` // 0 grows until leaves are pure
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features"` // 0 means sqrt(n_features)
	Bootstrap       bool  `json:"bootstrap"`
	RandomState     int64 `json:"random_state"`
	ParallelJobs    int   `json:"parallel_jobs"`
}

// RandomForest is a bagged ensemble of gini decision trees. Trees vote with
// their leaf class distributions.
type RandomForest struct {
	Config      RandomForestConfig `json:"config"`
	ClassLabels []string           `json:"classes"`
	Features    int                `json:"features"`
	Trees       []*DecisionTree    `json:"trees"`
}

type DecisionTree struct {
	Root     *TreeNode `json:"root"`
	MaxFeats int       `json:"max_feats"`
}

type TreeNode struct {
	FeatureIndex int       `json:"feature_index,omitempty"`
	Threshold    float64   `json:"threshold,omitempty"`
	Left         *TreeNode `json:"left,omitempty"`
	Right        *TreeNode `json:"right,omitempty"`
	Value        []float64 `json:"value,omitempty"` // class distribution at a leaf
	IsLeaf       bool      `json:"is_leaf"`
	Samples      int       `json:"samples"`
	Impurity     float64   `json:"impurity"`
}

type SplitResult struct {
	FeatureIndex int
	Threshold    float64
	Impurity     float64
	LeftIndices  []int
	RightIndices []int
}

func NewRandomForest() *RandomForest {
	return &RandomForest{Config: RandomForestConfig{
		NumTrees:        300,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		RandomState:     42,
	}}
}

func (rf *RandomForest) Kind() Kind        { return KindRandomForest }
func (rf *RandomForest) Classes() []string { return rf.ClassLabels }
func (rf *RandomForest) NumFeatures() int  { return rf.Features }

func (rf *RandomForest) fit(ctx context.Context, features [][]float64, y []string) error {
	numFeatures, err := checkFit(features, y)
	if err != nil {
		return err
	}
	classes, labels := encodeLabels(y)
	rf.ClassLabels = classes
	rf.Features = numFeatures
	rf.Trees = make([]*DecisionTree, rf.Config.NumTrees)

	jobs := rf.Config.ParallelJobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range rf.Trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rf.Trees[i] = rf.trainSingleTree(i, features, labels)
			return nil
		})
	}
	return g.Wait()
}

// trainSingleTree fits tree i with its own seeded source, so the forest is
// reproducible regardless of scheduling.
func (rf *RandomForest) trainSingleTree(treeIndex int, features [][]float64, labels []int) *DecisionTree {
	b := &treeBuilder{
		forest:   rf,
		rng:      rand.New(rand.NewSource(rf.Config.RandomState + int64(treeIndex))),
		features: features,
		labels:   labels,
		maxFeats: rf.calculateMaxFeatures(rf.Features),
	}
	indices := b.bootstrap(len(features))
	return &DecisionTree{Root: b.buildTree(indices, 0), MaxFeats: b.maxFeats}
}

func (rf *RandomForest) calculateMaxFeatures(numFeatures int) int {
	if rf.Config.MaxFeatures > 0 && rf.Config.MaxFeatures <= numFeatures {
		return rf.Config.MaxFeatures
	}
	n := int(math.Sqrt(float64(numFeatures)))
	if n < 1 {
		n = 1
	}
	return n
}

type treeBuilder struct {
	forest   *RandomForest
	rng      *rand.Rand
	features [][]float64
	labels   []int
	maxFeats int
}

func (b *treeBuilder) bootstrap(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		if b.forest.Config.Bootstrap {
			indices[i] = b.rng.Intn(n)
		} else {
			indices[i] = i
		}
	}
	return indices
}

func (b *treeBuilder) buildTree(indices []int, depth int) *TreeNode {
	counts := b.classCounts(indices)
	impurity := gini(counts, len(indices))
	cfg := b.forest.Config

	if impurity == 0 ||
		len(indices) < cfg.MinSamplesSplit ||
		len(indices) < 2*cfg.MinSamplesLeaf ||
		(cfg.MaxDepth > 0 && depth >= cfg.MaxDepth) {
		return b.createLeafNode(counts, len(indices), impurity)
	}

	split := b.findBestSplit(indices)
	if split == nil {
		return b.createLeafNode(counts, len(indices), impurity)
	}
	return &TreeNode{
		FeatureIndex: split.FeatureIndex,
		Threshold:    split.Threshold,
		Left:         b.buildTree(split.LeftIndices, depth+1),
		Right:        b.buildTree(split.RightIndices, depth+1),
		Samples:      len(indices),
		Impurity:     impurity,
	}
}

// findBestSplit draws candidate features in random order and scans at least
// maxFeats of them, continuing past constant features until a usable split
// is found. Thresholds sit midway between consecutive distinct values.
func (b *treeBuilder) findBestSplit(indices []int) *SplitResult {
	numClasses := len(b.forest.ClassLabels)
	minLeaf := b.forest.Config.MinSamplesLeaf
	total := b.classCounts(indices)
	n := len(indices)

	var best *SplitResult
	bestFeature, bestPos := -1, 0
	bestImpurity := math.Inf(1)
	sorted := make([]int, n)
	left := make([]int, numClasses)
	right := make([]int, numClasses)

	for visited, featureIdx := range b.rng.Perm(b.forest.Features) {
		if visited >= b.maxFeats && bestFeature >= 0 {
			break
		}
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
		})
		for c := range left {
			left[c] = 0
			right[c] = total[c]
		}
		for i := 0; i < n-1; i++ {
			label := b.labels[sorted[i]]
			left[label]++
			right[label]--
			lo := b.features[sorted[i]][featureIdx]
			hi := b.features[sorted[i+1]][featureIdx]
			if lo == hi || i+1 < minLeaf || n-i-1 < minLeaf {
				continue
			}
			nl, nr := i+1, n-i-1
			impurity := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature, bestPos = featureIdx, i
				best = &SplitResult{FeatureIndex: featureIdx, Threshold: (lo + hi) / 2, Impurity: impurity}
			}
		}
	}
	if best == nil {
		return nil
	}

	copy(sorted, indices)
	sort.Slice(sorted, func(i, j int) bool {
		return b.features[sorted[i]][bestFeature] < b.features[sorted[j]][bestFeature]
	})
	best.LeftIndices = append([]int(nil), sorted[:bestPos+1]...)
	best.RightIndices = append([]int(nil), sorted[bestPos+1:]...)
	return best
}

func (b *treeBuilder) classCounts(indices []int) []int {
	counts := make([]int, len(b.forest.ClassLabels))
	for _, idx := range indices {
		counts[b.labels[idx]]++
	}
	return counts
}

func (b *treeBuilder) createLeafNode(counts []int, samples int, impurity float64) *TreeNode {
	value := make([]float64, len(counts))
	for c, n := range counts {
		value[c] = float64(n) / float64(samples)
	}
	return &TreeNode{IsLeaf: true, Value: value, Samples: samples, Impurity: impurity}
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		impurity -= p * p
	}
	return impurity
}

func (rf *RandomForest) predictProba(sample []float64) []float64 {
	proba := make([]float64, len(rf.ClassLabels))
	for _, tree := range rf.Trees {
		node := tree.Root
		for !node.IsLeaf {
			if sample[node.FeatureIndex] <= node.Threshold {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		for c, p := range node.Value {
			proba[c] += p
		}
	}
	return proba
}

func (rf *RandomForest) PredictOne(sample []float64) (string, error) {
	if err := checkFeatures(rf.Features, sample); err != nil {
		return "", err
	}
	return rf.ClassLabels[argmax(rf.predictProba(sample))], nil
}

func (rf *RandomForest) Predict(x [][]float64) ([]string, error) {
	return predictRows(rf.Features, x, func(row []float64) string {
		return rf.ClassLabels[argmax(rf.predictProba(row))]
	})
}

// FeatureImportance returns the mean decrease in impurity per feature,
// normalised to sum to one.
func (rf *RandomForest) FeatureImportance() []float64 {
	importance := make([]float64, rf.Features)
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if n == nil || n.IsLeaf {
			return
		}
		decrease := float64(n.Samples)*n.Impurity -
			float64(n.Left.Samples)*n.Left.Impurity -
			float64(n.Right.Samples)*n.Right.Impurity
		importance[n.FeatureIndex] += decrease
		walk(n.Left)
		walk(n.Right)
	}
	for _, tree := range rf.Trees {
		walk(tree.Root)
	}
	total := 0.0
	for _, v := range importance {
		total += v
	}
	if total > 0 {
		for i := range importance {
			importance[i] /= total
		}
	}
	return importance
}
