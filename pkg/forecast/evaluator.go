package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/series"
)

// Evaluation is the advisory accuracy estimate attached to a forecast
type Evaluation struct {
	MAE      float64 `json:"mae"`
	R2       float64 `json:"r2"`
	TestSize int     `json:"test_size"`
}

// minTestSize is the smallest trailing slice worth scoring
const minTestSize = 3

// holdoutSize returns the trailing test-slice length for n rows: at least
// three rows, around a quarter of the data, and never so large that fewer
// than four training rows remain
func holdoutSize(n int) int {
	size := n / 4
	if size < minTestSize {
		size = minTestSize
	}
	if n-size < 4 {
		size = n - 4
	}
	return size
}

// Evaluate refits the backend on a chronological training prefix and
// scores its predictions over the trailing holdout rows. Rows are never
// shuffled. The result is advisory: callers deliver forecasts whether or
// not evaluation succeeds.
func Evaluate(backend models.Backend, s series.Monthly, rows []features.Row, targets []float64) (*Evaluation, error) {
	testSize := holdoutSize(len(rows))
	if testSize < minTestSize {
		return nil, fmt.Errorf("too few rows (%d) for a holdout", len(rows))
	}
	split := len(rows) - testSize

	// the series prefix ends where the holdout rows begin
	trainSeries := s[:len(s)-testSize]
	fitted, err := backend.Fit(trainSeries, rows[:split], targets[:split])
	if err != nil {
		return nil, fmt.Errorf("holdout fit: %w", err)
	}

	predicted := make([]float64, testSize)
	for i, row := range rows[split:] {
		p, err := fitted.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("holdout predict: %w", err)
		}
		if p < 0 {
			p = 0
		}
		predicted[i] = p
	}
	actual := targets[split:]

	sumAbs := 0.0
	for i := range predicted {
		sumAbs += math.Abs(predicted[i] - actual[i])
	}

	return &Evaluation{
		MAE:      sumAbs / float64(testSize),
		R2:       rSquared(predicted, actual),
		TestSize: testSize,
	}, nil
}

// rSquared is the coefficient of determination of predictions against
// observations
func rSquared(predicted, actual []float64) float64 {
	mean := stat.Mean(actual, nil)
	ssRes, ssTot := 0.0, 0.0
	for i := range actual {
		r := actual[i] - predicted[i]
		d := actual[i] - mean
		ssRes += r * r
		ssTot += d * d
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
