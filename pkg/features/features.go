// Package features derives the fixed per-period feature vectors used by
// the regression backends.
package features

import (
	"math"

	"github.com/epitrend/epitrend/pkg/series"
)

// MaxLag is the deepest lag feature; the leading MaxLag periods of a
// series have undefined lags and are dropped from the training set.
const MaxLag = 3

// Names lists the feature columns in vector order
var Names = []string{
	"period_index",
	"calendar_month",
	"trend_index",
	"lag_1",
	"lag_2",
	"lag_3",
	"moving_avg_3",
	"moving_avg_6",
	"month_sin",
	"month_cos",
}

// Row is the fixed-shape feature vector for one period
type Row struct {
	PeriodIndex float64 `json:"period_index"`
	Month       float64 `json:"calendar_month"`
	Trend       float64 `json:"trend_index"`
	Lag1        float64 `json:"lag_1"`
	Lag2        float64 `json:"lag_2"`
	Lag3        float64 `json:"lag_3"`
	MA3         float64 `json:"moving_avg_3"`
	MA6         float64 `json:"moving_avg_6"`
	MonthSin    float64 `json:"month_sin"`
	MonthCos    float64 `json:"month_cos"`
}

// Vector returns the row as a slice aligned with Names
func (r Row) Vector() []float64 {
	return []float64{
		r.PeriodIndex, r.Month, r.Trend,
		r.Lag1, r.Lag2, r.Lag3,
		r.MA3, r.MA6,
		r.MonthSin, r.MonthCos,
	}
}

// Builder constructs feature rows from a monthly series. The same row
// function serves both training rows and synthetic future rows during
// recursive forecasting, so lag and moving-average features only ever
// look at values strictly before the row's period.
type Builder struct{}

// NewBuilder creates a feature builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns one row per series period starting at index MaxLag,
// paired with the target values for those periods
func (b *Builder) Build(s series.Monthly) ([]Row, []float64) {
	if len(s) <= MaxLag {
		return nil, nil
	}
	values := s.Values()
	rows := make([]Row, 0, len(s)-MaxLag)
	targets := make([]float64, 0, len(s)-MaxLag)
	for i := MaxLag; i < len(s); i++ {
		rows = append(rows, b.row(s[i].Period, i, values[:i]))
		targets = append(targets, values[i])
	}
	return rows, targets
}

// FutureRow builds the feature row for a period beyond the known series.
// index is the period's zero-based position in the full series and prior
// holds every value before it, real history followed by any values already
// forecast for earlier horizon steps.
func (b *Builder) FutureRow(p series.Period, index int, prior []float64) Row {
	return b.row(p, index, prior)
}

func (b *Builder) row(p series.Period, index int, prior []float64) Row {
	month := float64(p.Month)
	angle := 2 * math.Pi * month / 12
	return Row{
		PeriodIndex: float64(index),
		Month:       month,
		Trend:       float64(index),
		Lag1:        lag(prior, 1),
		Lag2:        lag(prior, 2),
		Lag3:        lag(prior, 3),
		MA3:         tailMean(prior, 3),
		MA6:         tailMean(prior, 6),
		MonthSin:    math.Sin(angle),
		MonthCos:    math.Cos(angle),
	}
}

// lag returns the value k periods back, falling back to the oldest
// available value for very short histories
func lag(prior []float64, k int) float64 {
	if len(prior) == 0 {
		return 0
	}
	if k > len(prior) {
		k = len(prior)
	}
	return prior[len(prior)-k]
}

// tailMean averages the trailing window values, using fewer points when
// the history is shorter than the window
func tailMean(prior []float64, window int) float64 {
	if len(prior) == 0 {
		return 0
	}
	if window > len(prior) {
		window = len(prior)
	}
	sum := 0.0
	for _, v := range prior[len(prior)-window:] {
		sum += v
	}
	return sum / float64(window)
}
