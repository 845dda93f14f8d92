// Package forecast drives the incidence forecasting pipeline: recursive
// multi-step prediction, holdout evaluation and backend fallback.
package forecast

import (
	"fmt"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/series"
)

// Recursive produces a horizon-length forecast one period at a time. Each
// step's feature row is built from the real history plus every value
// already forecast, so step i feeds steps i+1.. through the lag and
// moving-average features. Forecast error therefore compounds forward
// across the horizon; the model is never re-fit mid-horizon.
//
// Every forecast value is clamped to be non-negative, and the returned
// periods are strictly consecutive calendar months starting the month
// after the last historical period.
func Recursive(fitted models.Fitted, fb *features.Builder, hist series.Monthly, horizon int) ([]series.Point, error) {
	if len(hist) == 0 {
		return nil, fmt.Errorf("empty history")
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon %d is not positive", horizon)
	}

	values := make([]float64, len(hist), len(hist)+horizon)
	copy(values, hist.Values())
	last := hist.Last()

	out := make([]series.Point, 0, horizon)
	for i := 1; i <= horizon; i++ {
		period := last.Add(i)
		row := fb.FutureRow(period, len(hist)-1+i, values)
		v, err := fitted.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("predict step %d: %w", i, err)
		}
		if v < 0 {
			v = 0
		}
		out = append(out, series.Point{Period: period, Value: v})
		values = append(values, v)
	}
	return out, nil
}
