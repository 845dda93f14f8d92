package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/series"
)

// eventsFromSeries expands a monthly series into one event row per month
func eventsFromSeries(s series.Monthly, region, disease string) []series.EventRecord {
	events := make([]series.EventRecord, 0, len(s))
	for _, pt := range s {
		events = append(events, series.EventRecord{
			Date:    fmt.Sprintf("%04d-%02d-15", pt.Period.Year, int(pt.Period.Month)),
			Region:  region,
			Disease: disease,
			Count:   pt.Value,
		})
	}
	return events
}

func newTestEngine(disabled ...models.Kind) *Engine {
	return NewEngine(Config{Disabled: disabled}, logx.New("error"), nil)
}

func TestForecastHorizonAndNonNegativity(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	for _, h := range []int{1, 6, 12, 24} {
		res, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, h)
		if err != nil {
			t.Fatalf("horizon %d: %v", h, err)
		}
		if len(res.Dates) != h || len(res.Values) != h {
			t.Fatalf("horizon %d: got %d dates / %d values", h, len(res.Dates), len(res.Values))
		}
		for i, v := range res.Values {
			if v < 0 {
				t.Fatalf("horizon %d value %d = %v; want >= 0", h, i, v)
			}
		}
	}
}

func TestForecastPeriodsFollowHistory(t *testing.T) {
	s := trendSeasonalSeries(35) // ends 2023-11
	events := eventsFromSeries(s, "north", "flu")
	engine := newTestEngine()

	res, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 4)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}

	expected := s.Last().Next()
	for i, p := range res.Dates {
		if p != expected {
			t.Fatalf("date %d = %v; want %v", i, p, expected)
		}
		expected = expected.Next()
	}
}

func TestForecastIdempotentForDeterministicBackends(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	for _, kind := range []models.Kind{models.LinearTrend, models.PolynomialTrend, models.RandomForestEnsemble} {
		first, err := engine.Forecast(context.Background(), events, series.Filter{}, kind, 6)
		if err != nil {
			t.Fatalf("%s first: %v", kind, err)
		}
		second, err := engine.Forecast(context.Background(), events, series.Filter{}, kind, 6)
		if err != nil {
			t.Fatalf("%s second: %v", kind, err)
		}
		for i := range first.Values {
			if first.Values[i] != second.Values[i] {
				t.Fatalf("%s value %d differs between identical calls: %v vs %v",
					kind, i, first.Values[i], second.Values[i])
			}
		}
	}
}

func TestForecastInsufficientHistory(t *testing.T) {
	// exactly one month short of the linear minimum
	events := eventsFromSeries(trendSeasonalSeries(11), "north", "flu")
	engine := newTestEngine()

	_, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 6)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("error = %v; want ErrInsufficientHistory", err)
	}

	// one month short of the ARIMA order-search minimum
	events = eventsFromSeries(trendSeasonalSeries(23), "north", "flu")
	_, err = engine.Forecast(context.Background(), events, series.Filter{}, models.SeasonalARIMA, 6)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("error = %v; want ErrInsufficientHistory", err)
	}
}

func TestForecastEmptyAfterFilter(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	_, err := engine.Forecast(context.Background(), events, series.Filter{Region: "nowhere"}, models.LinearTrend, 6)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("error = %v; want ErrInsufficientHistory", err)
	}
}

func TestForecastRejectsBadHorizon(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	var ce *ConfigError
	if _, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 0); !errors.As(err, &ce) {
		t.Fatalf("horizon 0 error = %v; want ConfigError", err)
	}
	if _, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 25); !errors.As(err, &ce) {
		t.Fatalf("horizon 25 error = %v; want ConfigError", err)
	}
	if _, err := engine.Forecast(context.Background(), events, series.Filter{}, models.Kind("bogus"), 6); !errors.As(err, &ce) {
		t.Fatalf("bogus backend error = %v; want ConfigError", err)
	}
}

func TestForecastFallsBackWhenARIMADisabled(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine(models.SeasonalARIMA)

	res, err := engine.Forecast(context.Background(), events, series.Filter{}, models.SeasonalARIMA, 6)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if res.Model == models.SeasonalARIMA {
		t.Fatal("disabled backend still delivered the forecast")
	}
	if len(res.Values) != 6 {
		t.Fatalf("fallback produced %d values; want 6", len(res.Values))
	}

	found := false
	for _, a := range res.Diagnostics.Attempts {
		if a.Backend == models.SeasonalARIMA {
			found = true
		}
	}
	if !found {
		t.Fatalf("diagnostics %v missing the failed SARIMA attempt", res.Diagnostics.Attempts)
	}
}

func TestForecastEndToEndLinear(t *testing.T) {
	// 36 months of 100 + 20*sin(2π·month/12) + 2*i
	s := trendSeasonalSeries(36)
	events := eventsFromSeries(s, "north", "flu")
	engine := newTestEngine()

	res, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 18)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if res.Metrics == nil {
		t.Fatal("expected holdout metrics")
	}
	if res.Metrics.MAE >= 15 {
		t.Fatalf("holdout MAE = %v; want under 15", res.Metrics.MAE)
	}

	// the injected trend is +2/month; the seasonal component repeats
	// every 12 months, so values 12 apart isolate the trend
	diff := res.Values[12] - res.Values[0]
	if diff < 10 {
		t.Fatalf("forecast not trending upward: month 0 = %v, month 12 = %v", res.Values[0], res.Values[12])
	}
}

func TestForecastARIMADelivers(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(48), "north", "flu")
	engine := newTestEngine()

	res, err := engine.Forecast(context.Background(), events, series.Filter{}, models.SeasonalARIMA, 6)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(res.Values) != 6 {
		t.Fatalf("got %d values; want 6", len(res.Values))
	}
	if res.Model == models.SeasonalARIMA && res.Diagnostics.ARIMAOrder == nil {
		t.Fatal("ARIMA result missing the selected order diagnostic")
	}
	for i, v := range res.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Fatalf("value %d = %v; want finite and non-negative", i, v)
		}
	}
}

func TestForecastCanceledContext(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Forecast(ctx, events, series.Filter{}, models.LinearTrend, 6); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v; want context.Canceled", err)
	}
}

func TestForecastConcurrentRequests(t *testing.T) {
	events := eventsFromSeries(trendSeasonalSeries(36), "north", "flu")
	engine := newTestEngine()

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := engine.Forecast(context.Background(), events, series.Filter{}, models.LinearTrend, 6)
			errs <- err
		}()
	}
	deadline := time.After(30 * time.Second)
	for i := 0; i < 4; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("concurrent request: %v", err)
			}
		case <-deadline:
			t.Fatal("concurrent requests timed out")
		}
	}
}
