// Package models implements the interchangeable forecasting model
// families behind a uniform fit/predict contract.
package models

import (
	"errors"
	"fmt"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// Kind identifies a model family
type Kind string

const (
	SeasonalARIMA         Kind = "sarima"
	LinearTrend           Kind = "linear"
	PolynomialTrend       Kind = "polynomial"
	RandomForestEnsemble  Kind = "random_forest"
	GradientBoostEnsemble Kind = "gradient_boost"

	// SeasonalDecomposition is the degraded substitute used when no ARIMA
	// order converges: a least-squares trend line plus per-calendar-month
	// seasonal offsets.
	SeasonalDecomposition Kind = "seasonal_decomposition"
)

// Kinds lists the externally selectable model families
var Kinds = []Kind{
	SeasonalARIMA,
	LinearTrend,
	PolynomialTrend,
	RandomForestEnsemble,
	GradientBoostEnsemble,
}

// priority is the fixed fallback order; LinearTrend is last because it is
// guaranteed to fit given minimum history.
var priority = []Kind{
	SeasonalARIMA,
	GradientBoostEnsemble,
	RandomForestEnsemble,
	PolynomialTrend,
	LinearTrend,
}

// FallbackChain returns the requested backend followed by every simpler
// backend after it in priority order. SeasonalDecomposition is inserted
// directly after SeasonalARIMA so an exhausted order search degrades to
// the manual decomposition before leaving the seasonal family.
func FallbackChain(requested Kind) []Kind {
	chain := []Kind{requested}
	if requested == SeasonalARIMA {
		chain = append(chain, SeasonalDecomposition)
	}
	seen := false
	for _, k := range priority {
		if k == requested {
			seen = true
			continue
		}
		if seen {
			chain = append(chain, k)
		}
	}
	return chain
}

// ErrNoViableOrder reports that no candidate in the ARIMA search space
// converged
var ErrNoViableOrder = errors.New("no viable ARIMA order")

// FitError reports a backend that could not produce a usable model
type FitError struct {
	Backend Kind
	Err     error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("%s fit failed: %v", e.Backend, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

// Fitted is an opaque fitted model. Instances are request-scoped and must
// not be shared across concurrent forecast requests.
type Fitted interface {
	// Predict returns the model's estimate for one feature row
	Predict(row features.Row) (float64, error)
	// Importance maps feature names to weights; empty for families
	// without native importances
	Importance() map[string]float64
}

// Backend is one forecasting model family. Feature-driven families fit on
// the engineered rows; SeasonalARIMA and SeasonalDecomposition operate
// directly on the monthly series and ignore the rows.
type Backend interface {
	Kind() Kind
	// MinHistory is the number of series months required before a fit is
	// attempted
	MinHistory() int
	Fit(s series.Monthly, rows []features.Row, targets []float64) (Fitted, error)
}

// New constructs the backend for a model kind
func New(kind Kind, logger *logx.Logger) (Backend, error) {
	switch kind {
	case SeasonalARIMA:
		return NewSeasonalARIMA(logger), nil
	case SeasonalDecomposition:
		return NewSeasonalDecompositionBackend(logger), nil
	case LinearTrend:
		return NewLinearTrend(logger), nil
	case PolynomialTrend:
		return NewPolynomialTrend(logger), nil
	case RandomForestEnsemble:
		return NewRandomForest(logger), nil
	case GradientBoostEnsemble:
		return NewGradientBoost(logger), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}
