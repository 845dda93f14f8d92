package models

import (
	"fmt"

	"github.com/sajari/regression"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// decompositionBackend is the degraded seasonal mode: a least-squares
// trend line over the period index plus a per-calendar-month seasonal
// offset computed from the detrended series. It satisfies the same
// predict contract as the ARIMA family and always fits given minimum
// history.
type decompositionBackend struct {
	logger *logx.Logger
}

// NewSeasonalDecompositionBackend creates the manual trend+seasonal
// backend
func NewSeasonalDecompositionBackend(logger *logx.Logger) Backend {
	return &decompositionBackend{logger: logger}
}

func (b *decompositionBackend) Kind() Kind      { return SeasonalDecomposition }
func (b *decompositionBackend) MinHistory() int { return 12 }

func (b *decompositionBackend) Fit(s series.Monthly, _ []features.Row, _ []float64) (Fitted, error) {
	if len(s) < 3 {
		return nil, &FitError{Backend: SeasonalDecomposition, Err: fmt.Errorf("need at least 3 months, got %d", len(s))}
	}

	var r regression.Regression
	r.SetObserved("count")
	r.SetVar(0, "trend_index")
	for i, pt := range s {
		r.Train(regression.DataPoint(pt.Value, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return nil, &FitError{Backend: SeasonalDecomposition, Err: err}
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) != 2 {
		return nil, &FitError{Backend: SeasonalDecomposition, Err: fmt.Errorf("unexpected coefficient count %d", len(coeffs))}
	}
	intercept, slope := coeffs[0], coeffs[1]

	// per-calendar-month mean of the detrended residuals
	sums := make([]float64, 13)
	counts := make([]int, 13)
	for i, pt := range s {
		m := int(pt.Period.Month)
		sums[m] += pt.Value - (intercept + slope*float64(i))
		counts[m]++
	}
	offsets := make([]float64, 13)
	for m := 1; m <= 12; m++ {
		if counts[m] > 0 {
			offsets[m] = sums[m] / float64(counts[m])
		}
	}

	b.logger.Debug("seasonal decomposition fitted",
		"months", len(s),
		"slope", slope,
	)

	return &decompositionFitted{intercept: intercept, slope: slope, offsets: offsets}, nil
}

type decompositionFitted struct {
	intercept float64
	slope     float64
	offsets   []float64
}

func (f *decompositionFitted) Predict(row features.Row) (float64, error) {
	m := int(row.Month)
	if m < 1 || m > 12 {
		return 0, fmt.Errorf("invalid calendar month %v", row.Month)
	}
	return f.intercept + f.slope*row.Trend + f.offsets[m], nil
}

func (f *decompositionFitted) Importance() map[string]float64 { return nil }
