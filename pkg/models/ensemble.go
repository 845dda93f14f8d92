package models

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// ensembleSeed fixes the sampling RNG so refits over identical inputs
// reproduce identical forecasts
const ensembleSeed = 42

// forestBackend bags CART regression trees over bootstrap samples with
// per-split feature subsampling
type forestBackend struct {
	trees    int
	maxDepth int
	minLeaf  int
	logger   *logx.Logger
}

// NewRandomForest creates the bagged-tree backend
func NewRandomForest(logger *logx.Logger) Backend {
	return &forestBackend{trees: 100, maxDepth: 8, minLeaf: 2, logger: logger}
}

func (b *forestBackend) Kind() Kind      { return RandomForestEnsemble }
func (b *forestBackend) MinHistory() int { return 12 }

func (b *forestBackend) Fit(_ series.Monthly, rows []features.Row, targets []float64) (Fitted, error) {
	x, err := designMatrix(b.Kind(), rows, targets)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(ensembleSeed))
	importance := make([]float64, len(features.Names))
	trees := make([]*regressionTree, b.trees)
	params := treeParams{maxDepth: b.maxDepth, minLeaf: b.minLeaf, featureFrac: 1.0 / 3}

	for t := range trees {
		idx := make([]int, len(rows))
		for i := range idx {
			idx[i] = rng.Intn(len(rows))
		}
		trees[t] = growTree(x, targets, idx, params, rng, importance)
	}

	b.logger.Debug("random forest fitted", "rows", len(rows), "trees", b.trees)
	return &forestFitted{trees: trees, importance: normalizeImportance(importance)}, nil
}

type forestFitted struct {
	trees      []*regressionTree
	importance map[string]float64
}

func (f *forestFitted) Predict(row features.Row) (float64, error) {
	vec := row.Vector()
	preds := make([]float64, len(f.trees))
	for i, t := range f.trees {
		preds[i] = t.predict(vec)
	}
	return stat.Mean(preds, nil), nil
}

func (f *forestFitted) Importance() map[string]float64 { return f.importance }

// boostBackend fits shallow trees sequentially on the residuals of the
// running prediction, shrunk by the learning rate
type boostBackend struct {
	trees        int
	maxDepth     int
	minLeaf      int
	learningRate float64
	logger       *logx.Logger
}

// NewGradientBoost creates the boosted-tree backend
func NewGradientBoost(logger *logx.Logger) Backend {
	return &boostBackend{trees: 100, maxDepth: 3, minLeaf: 2, learningRate: 0.1, logger: logger}
}

func (b *boostBackend) Kind() Kind      { return GradientBoostEnsemble }
func (b *boostBackend) MinHistory() int { return 12 }

func (b *boostBackend) Fit(_ series.Monthly, rows []features.Row, targets []float64) (Fitted, error) {
	x, err := designMatrix(b.Kind(), rows, targets)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(ensembleSeed))
	importance := make([]float64, len(features.Names))
	params := treeParams{maxDepth: b.maxDepth, minLeaf: b.minLeaf, featureFrac: 1}

	base := stat.Mean(targets, nil)
	current := make([]float64, len(targets))
	for i := range current {
		current[i] = base
	}
	residuals := make([]float64, len(targets))
	idx := make([]int, len(targets))
	for i := range idx {
		idx[i] = i
	}

	trees := make([]*regressionTree, 0, b.trees)
	for t := 0; t < b.trees; t++ {
		for i := range residuals {
			residuals[i] = targets[i] - current[i]
		}
		tree := growTree(x, residuals, idx, params, rng, importance)
		trees = append(trees, tree)
		for i := range current {
			current[i] += b.learningRate * tree.predict(x[i])
		}
	}

	b.logger.Debug("gradient boosting fitted", "rows", len(rows), "trees", len(trees))
	return &boostFitted{
		base:         base,
		learningRate: b.learningRate,
		trees:        trees,
		importance:   normalizeImportance(importance),
	}, nil
}

type boostFitted struct {
	base         float64
	learningRate float64
	trees        []*regressionTree
	importance   map[string]float64
}

func (f *boostFitted) Predict(row features.Row) (float64, error) {
	vec := row.Vector()
	y := f.base
	for _, t := range f.trees {
		y += f.learningRate * t.predict(vec)
	}
	return y, nil
}

func (f *boostFitted) Importance() map[string]float64 { return f.importance }

// designMatrix validates the training set and expands rows to vectors
func designMatrix(kind Kind, rows []features.Row, targets []float64) ([][]float64, error) {
	if len(rows) < 4 {
		return nil, &FitError{Backend: kind, Err: fmt.Errorf("need at least 4 training rows, got %d", len(rows))}
	}
	if len(rows) != len(targets) {
		return nil, &FitError{Backend: kind, Err: fmt.Errorf("rows/targets mismatch: %d vs %d", len(rows), len(targets))}
	}
	x := make([][]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Vector()
	}
	return x, nil
}

// normalizeImportance scales accumulated split gains to sum to one
func normalizeImportance(gains []float64) map[string]float64 {
	total := 0.0
	for _, g := range gains {
		total += g
	}
	if total == 0 {
		return nil
	}
	out := make(map[string]float64, len(gains))
	for i, g := range gains {
		if g > 0 {
			out[features.Names[i]] = g / total
		}
	}
	return out
}
