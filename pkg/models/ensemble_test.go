package models

import (
	"math"
	"testing"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

func trendSeasonalSeries(months int) series.Monthly {
	return syntheticSeries(months, func(i int, p series.Period) float64 {
		return 100 + 20*math.Sin(2*math.Pi*float64(p.Month)/12) + 2*float64(i)
	})
}

func TestRandomForestDeterministicRefit(t *testing.T) {
	s := trendSeasonalSeries(36)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)
	logger := logx.New("error")

	row := fb.FutureRow(s.Last().Add(1), len(s), s.Values())

	first, err := NewRandomForest(logger).Fit(s, rows, targets)
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}
	second, err := NewRandomForest(logger).Fit(s, rows, targets)
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}

	a, _ := first.Predict(row)
	b, _ := second.Predict(row)
	if a != b {
		t.Fatalf("seeded refit diverged: %v vs %v", a, b)
	}
}

func TestRandomForestPredictsInRange(t *testing.T) {
	s := trendSeasonalSeries(48)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)

	fitted, err := NewRandomForest(logx.New("error")).Fit(s, rows, targets)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	row := fb.FutureRow(s.Last().Add(1), len(s), s.Values())
	got, err := fitted.Predict(row)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	// trees cannot extrapolate past the target range, but the prediction
	// must land inside it
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range targets {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if got < lo || got > hi {
		t.Fatalf("prediction %v outside target range [%v, %v]", got, lo, hi)
	}
}

func TestGradientBoostFitsTrainingData(t *testing.T) {
	s := trendSeasonalSeries(48)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)

	fitted, err := NewGradientBoost(logx.New("error")).Fit(s, rows, targets)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	// in-sample error of 100 boosted trees should be small relative to
	// the series scale
	sumAbs := 0.0
	for i, row := range rows {
		got, err := fitted.Predict(row)
		if err != nil {
			t.Fatalf("predict row %d: %v", i, err)
		}
		sumAbs += math.Abs(got - targets[i])
	}
	mae := sumAbs / float64(len(rows))
	if mae > 10 {
		t.Fatalf("in-sample MAE = %v; want under 10", mae)
	}
}

func TestGradientBoostDeterministicRefit(t *testing.T) {
	s := trendSeasonalSeries(36)
	fb := features.NewBuilder()
	rows, targets := fb.Build(s)
	logger := logx.New("error")
	row := fb.FutureRow(s.Last().Add(1), len(s), s.Values())

	first, _ := NewGradientBoost(logger).Fit(s, rows, targets)
	second, _ := NewGradientBoost(logger).Fit(s, rows, targets)
	a, _ := first.Predict(row)
	b, _ := second.Predict(row)
	if a != b {
		t.Fatalf("seeded refit diverged: %v vs %v", a, b)
	}
}

func TestEnsembleImportanceNormalized(t *testing.T) {
	s := trendSeasonalSeries(48)
	rows, targets := features.NewBuilder().Build(s)

	fitted, err := NewRandomForest(logx.New("error")).Fit(s, rows, targets)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	imp := fitted.Importance()
	if len(imp) == 0 {
		t.Fatal("expected non-empty importances for a forest")
	}
	total := 0.0
	for name, w := range imp {
		if w <= 0 {
			t.Fatalf("importance %q = %v; want positive", name, w)
		}
		total += w
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("importances sum to %v; want 1", total)
	}
}
