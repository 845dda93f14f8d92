package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/series"
)

// Terminal errors. Everything else degrades inside the fallback chain.
var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrExhaustedBackends   = errors.New("all backends exhausted")
)

// ConfigError reports an invalid request rejected before any computation
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid request: " + e.Reason }

// DefaultMaxHorizon bounds the forecast horizon in months
const DefaultMaxHorizon = 24

// Config holds engine configuration
type Config struct {
	// MaxHorizon caps horizon_months; zero means DefaultMaxHorizon
	MaxHorizon int `json:"max_horizon"`
	// Disabled is the injected capability set: backends listed here are
	// treated as unavailable and fall through to the next in priority
	Disabled []models.Kind `json:"disabled_backends,omitempty"`
}

// Recorder receives pipeline observability events. Implemented by the
// metrics server; a nil Recorder disables recording.
type Recorder interface {
	ObserveForecast(model string, outcome string, elapsed time.Duration)
	RecordBackendFailure(backend string)
	SetHistoryMonths(months int)
}

// Attempt records one backend try for the result diagnostics
type Attempt struct {
	Backend models.Kind `json:"backend"`
	Error   string      `json:"error"`
}

// Diagnostics carries non-fatal observations gathered along the pipeline
type Diagnostics struct {
	Attempts      []Attempt          `json:"failed_attempts,omitempty"`
	ARIMAOrder    *models.Order      `json:"arima_order,omitempty"`
	Importance    map[string]float64 `json:"feature_importance,omitempty"`
	DroppedRows   int                `json:"dropped_rows,omitempty"`
	HistoryMonths int                `json:"history_months"`
}

// Result is the outcome of one forecast invocation. It is read-only data
// for the presentation layer; the next call produces a new Result rather
// than mutating this one.
type Result struct {
	Model       models.Kind     `json:"model_name"`
	Dates       []series.Period `json:"forecast_dates"`
	Values      []float64       `json:"forecast_values"`
	Metrics     *Evaluation     `json:"accuracy,omitempty"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// Engine runs the full pipeline: aggregation, feature construction,
// evaluation, model fitting with fallback, and recursive forecasting.
// One Engine may serve concurrent requests; every call works on
// request-scoped state only.
type Engine struct {
	cfg      Config
	logger   *logx.Logger
	recorder Recorder
	agg      *series.Aggregator
	fb       *features.Builder
}

// NewEngine creates a forecasting engine. recorder may be nil.
func NewEngine(cfg Config, logger *logx.Logger, recorder Recorder) *Engine {
	if cfg.MaxHorizon <= 0 {
		cfg.MaxHorizon = DefaultMaxHorizon
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		agg:      series.NewAggregator(logger),
		fb:       features.NewBuilder(),
	}
}

// MaxHorizon returns the configured horizon cap
func (e *Engine) MaxHorizon() int { return e.cfg.MaxHorizon }

// Available returns the selectable backends minus the disabled set
func (e *Engine) Available() []models.Kind {
	out := make([]models.Kind, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		if !e.disabled(k) {
			out = append(out, k)
		}
	}
	return out
}

func (e *Engine) disabled(k models.Kind) bool {
	for _, d := range e.cfg.Disabled {
		if d == k {
			return true
		}
	}
	return false
}

// Forecast runs one forecast request over an immutable event snapshot.
// Terminal failures are ConfigError, ErrInsufficientHistory and
// ErrExhaustedBackends; backend failures inside the fallback chain are
// recorded as diagnostics instead.
func (e *Engine) Forecast(ctx context.Context, events []series.EventRecord, filter series.Filter, backend models.Kind, horizon int) (*Result, error) {
	started := time.Now()

	if horizon <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("horizon %d must be positive", horizon)}
	}
	if horizon > e.cfg.MaxHorizon {
		return nil, &ConfigError{Reason: fmt.Sprintf("horizon %d exceeds maximum %d", horizon, e.cfg.MaxHorizon)}
	}
	requested, err := models.New(backend, e.logger)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	hist, dropped := e.agg.Aggregate(events, filter)
	if e.recorder != nil {
		e.recorder.SetHistoryMonths(len(hist))
	}
	if len(hist) == 0 {
		e.observe(backend, "insufficient_history", started)
		return nil, fmt.Errorf("%w: no rows remain after filtering", ErrInsufficientHistory)
	}
	if len(hist) < requested.MinHistory() {
		e.observe(backend, "insufficient_history", started)
		return nil, fmt.Errorf("%w: %d months, %s needs %d",
			ErrInsufficientHistory, len(hist), backend, requested.MinHistory())
	}

	rows, targets := e.fb.Build(hist)

	diag := Diagnostics{DroppedRows: dropped, HistoryMonths: len(hist)}
	for _, kind := range models.FallbackChain(backend) {
		if err := ctx.Err(); err != nil {
			e.observe(backend, "canceled", started)
			return nil, err
		}
		if e.disabled(kind) {
			diag.Attempts = append(diag.Attempts, Attempt{Backend: kind, Error: "backend disabled"})
			continue
		}

		result, err := e.tryBackend(kind, hist, rows, targets, horizon)
		if err != nil {
			// BackendFailure: non-fatal, advance down the chain
			e.logger.Warn("backend failed, falling back",
				"backend", string(kind),
				"error", err.Error(),
			)
			if e.recorder != nil {
				e.recorder.RecordBackendFailure(string(kind))
			}
			diag.Attempts = append(diag.Attempts, Attempt{Backend: kind, Error: err.Error()})
			continue
		}

		result.Diagnostics.Attempts = diag.Attempts
		result.Diagnostics.DroppedRows = diag.DroppedRows
		result.Diagnostics.HistoryMonths = diag.HistoryMonths
		e.observe(kind, "delivered", started)
		e.logger.Info("forecast delivered",
			"model", string(result.Model),
			"horizon", horizon,
			"history_months", len(hist),
			"fallbacks", len(diag.Attempts),
		)
		return result, nil
	}

	e.observe(backend, "exhausted", started)
	return nil, fmt.Errorf("%w: %d backends failed", ErrExhaustedBackends, len(diag.Attempts))
}

// tryBackend fits, evaluates and forecasts with a single model family
func (e *Engine) tryBackend(kind models.Kind, hist series.Monthly, rows []features.Row, targets []float64, horizon int) (*Result, error) {
	backend, err := models.New(kind, e.logger)
	if err != nil {
		return nil, err
	}
	if len(hist) < backend.MinHistory() {
		return nil, fmt.Errorf("history %d below backend minimum %d", len(hist), backend.MinHistory())
	}

	fitted, err := backend.Fit(hist, rows, targets)
	if err != nil {
		return nil, err
	}

	// advisory: evaluation failures never block delivery
	eval, evalErr := Evaluate(backend, hist, rows, targets)
	if evalErr != nil {
		e.logger.Debug("holdout evaluation skipped", "backend", string(kind), "error", evalErr.Error())
	}

	points, err := Recursive(fitted, e.fb, hist, horizon)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Model:   kind,
		Dates:   make([]series.Period, len(points)),
		Values:  make([]float64, len(points)),
		Metrics: eval,
	}
	for i, pt := range points {
		result.Dates[i] = pt.Period
		result.Values[i] = pt.Value
	}
	if searched, ok := fitted.(models.OrderSearched); ok {
		order := searched.SelectedOrder()
		result.Diagnostics.ARIMAOrder = &order
	}
	if imp := fitted.Importance(); len(imp) > 0 {
		result.Diagnostics.Importance = imp
	}
	return result, nil
}

func (e *Engine) observe(model models.Kind, outcome string, started time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveForecast(string(model), outcome, time.Since(started))
	}
}
