package models

import (
	"fmt"

	"github.com/sajari/regression"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// trendBackend fits ordinary least squares on the trend index plus the
// cyclical month encodings; degree 2 adds the squared trend term for
// curvature. Deterministic, never fails with three or more rows.
type trendBackend struct {
	kind   Kind
	degree int
	logger *logx.Logger
}

// NewLinearTrend creates the linear trend backend
func NewLinearTrend(logger *logx.Logger) Backend {
	return &trendBackend{kind: LinearTrend, degree: 1, logger: logger}
}

// NewPolynomialTrend creates the degree-2 trend backend
func NewPolynomialTrend(logger *logx.Logger) Backend {
	return &trendBackend{kind: PolynomialTrend, degree: 2, logger: logger}
}

func (b *trendBackend) Kind() Kind      { return b.kind }
func (b *trendBackend) MinHistory() int { return 12 }

// vars selects the regressors for one row
func (b *trendBackend) vars(row features.Row) []float64 {
	v := []float64{row.Trend, row.MonthSin, row.MonthCos}
	if b.degree >= 2 {
		v = append(v, row.Trend*row.Trend)
	}
	return v
}

func (b *trendBackend) Fit(_ series.Monthly, rows []features.Row, targets []float64) (Fitted, error) {
	if len(rows) < 3 {
		return nil, &FitError{Backend: b.kind, Err: fmt.Errorf("need at least 3 training rows, got %d", len(rows))}
	}

	var r regression.Regression
	r.SetObserved("count")
	names := []string{"trend_index", "month_sin", "month_cos"}
	if b.degree >= 2 {
		names = append(names, "trend_index_sq")
	}
	for i, name := range names {
		r.SetVar(i, name)
	}
	for i, row := range rows {
		r.Train(regression.DataPoint(targets[i], b.vars(row)))
	}
	if err := r.Run(); err != nil {
		return nil, &FitError{Backend: b.kind, Err: err}
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(names)+1 {
		return nil, &FitError{Backend: b.kind, Err: fmt.Errorf("unexpected coefficient count %d", len(coeffs))}
	}

	b.logger.Debug("trend model fitted",
		"backend", string(b.kind),
		"rows", len(rows),
		"r2", r.R2,
	)

	return &trendFitted{backend: b, bias: coeffs[0], weights: coeffs[1:]}, nil
}

type trendFitted struct {
	backend *trendBackend
	bias    float64
	weights []float64
}

func (f *trendFitted) Predict(row features.Row) (float64, error) {
	vars := f.backend.vars(row)
	y := f.bias
	for i, v := range vars {
		y += f.weights[i] * v
	}
	return y, nil
}

// Importance returns nothing; OLS coefficients are not comparable
// importances across differently scaled regressors
func (f *trendFitted) Importance() map[string]float64 { return nil }
