package models

import (
	"math/rand"
	"sort"
)

// regressionTree is a CART-style tree grown by variance reduction
type regressionTree struct {
	root *treeNode
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

// treeParams bounds tree growth
type treeParams struct {
	maxDepth    int
	minLeaf     int
	featureFrac float64 // fraction of features tried per split; 1 = all
}

// growTree builds a tree over the sample indices idx. Split gains are
// accumulated into importance, indexed by feature.
func growTree(x [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand, importance []float64) *regressionTree {
	return &regressionTree{root: grow(x, y, idx, 0, params, rng, importance)}
}

func grow(x [][]float64, y []float64, idx []int, depth int, params treeParams, rng *rand.Rand, importance []float64) *treeNode {
	mean, variance := meanVar(y, idx)
	if depth >= params.maxDepth || len(idx) < 2*params.minLeaf || variance == 0 {
		return &treeNode{leaf: true, value: mean}
	}

	feature, threshold, gain, ok := bestSplit(x, y, idx, params, rng)
	if !ok {
		return &treeNode{leaf: true, value: mean}
	}
	importance[feature] += gain

	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      grow(x, y, left, depth+1, params, rng, importance),
		right:     grow(x, y, right, depth+1, params, rng, importance),
	}
}

// bestSplit scans candidate features for the threshold with the largest
// weighted variance reduction
func bestSplit(x [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) (feature int, threshold, gain float64, ok bool) {
	nFeatures := len(x[idx[0]])
	candidates := featureSubset(nFeatures, params.featureFrac, rng)

	_, parentVar := meanVar(y, idx)
	parentSSE := parentVar * float64(len(idx))
	best := -1.0

	order := make([]int, len(idx))
	for _, f := range candidates {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return x[order[a]][f] < x[order[b]][f] })

		// prefix sums over the sorted order let each threshold be scored
		// in constant time
		var leftSum, leftSq float64
		totalSum, totalSq := 0.0, 0.0
		for _, i := range order {
			totalSum += y[i]
			totalSq += y[i] * y[i]
		}

		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftSum += y[i]
			leftSq += y[i] * y[i]

			nl := float64(pos + 1)
			nr := float64(len(order) - pos - 1)
			if int(nl) < params.minLeaf || int(nr) < params.minLeaf {
				continue
			}
			// identical feature values cannot be separated
			if x[order[pos]][f] == x[order[pos+1]][f] {
				continue
			}

			leftSSE := leftSq - leftSum*leftSum/nl
			rightSum := totalSum - leftSum
			rightSSE := (totalSq - leftSq) - rightSum*rightSum/nr
			reduction := parentSSE - leftSSE - rightSSE
			if reduction > best {
				best = reduction
				feature = f
				threshold = (x[order[pos]][f] + x[order[pos+1]][f]) / 2
			}
		}
	}

	if best <= 0 {
		return 0, 0, 0, false
	}
	return feature, threshold, best, true
}

// featureSubset samples the features tried at a split
func featureSubset(n int, frac float64, rng *rand.Rand) []int {
	k := int(frac*float64(n) + 0.5)
	if k < 1 {
		k = 1
	}
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := rng.Perm(n)
	return perm[:k]
}

func (t *regressionTree) predict(row []float64) float64 {
	node := t.root
	for !node.leaf {
		if row[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value
}

// meanVar returns mean and population variance of y over idx
func meanVar(y []float64, idx []int) (mean, variance float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	for _, i := range idx {
		mean += y[i]
	}
	mean /= float64(len(idx))
	for _, i := range idx {
		d := y[i] - mean
		variance += d * d
	}
	variance /= float64(len(idx))
	return mean, variance
}
