package forecast

import (
	"math"
	"testing"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/models"
)

func TestHoldoutSize(t *testing.T) {
	cases := []struct {
		rows     int
		expected int
	}{
		{40, 10},
		{20, 5},
		{12, 3},
		{8, 3},  // floor of three test rows
		{30, 7}, // about a quarter
	}
	for _, c := range cases {
		if got := holdoutSize(c.rows); got != c.expected {
			t.Fatalf("holdoutSize(%d) = %d; want %d", c.rows, got, c.expected)
		}
	}
}

func TestEvaluateLinearOnLinearData(t *testing.T) {
	s := trendSeasonalSeries(36)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)

	backend := models.NewLinearTrend(logx.New("error"))
	eval, err := Evaluate(backend, s, rows, targets)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// the generating process is exactly trend + cyclical seasonality, the
	// linear backend's own regressors
	if eval.MAE > 2 {
		t.Fatalf("MAE = %v; want near zero on an exactly linear process", eval.MAE)
	}
	if eval.R2 < 0.9 {
		t.Fatalf("R2 = %v; want near 1", eval.R2)
	}
	if eval.TestSize < 3 {
		t.Fatalf("test size = %d; want at least 3", eval.TestSize)
	}
}

func TestEvaluateTooFewRows(t *testing.T) {
	s := trendSeasonalSeries(9)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)

	backend := models.NewLinearTrend(logx.New("error"))
	if _, err := Evaluate(backend, s, rows, targets); err == nil {
		t.Fatal("expected error when no holdout fits")
	}
}

func TestRSquared(t *testing.T) {
	actual := []float64{1, 2, 3, 4}
	if r := rSquared(actual, actual); math.Abs(r-1) > 1e-12 {
		t.Fatalf("perfect predictions R2 = %v; want 1", r)
	}
	constant := []float64{2.5, 2.5, 2.5, 2.5}
	if r := rSquared(constant, actual); r > 1e-12 {
		t.Fatalf("mean predictor R2 = %v; want 0", r)
	}
}
