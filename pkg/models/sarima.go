package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/epitrend/epitrend/pkg/features"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// maxOrder bounds the (p, d, q) grid search
const maxOrder = 2

// Order is an ARIMA model order
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

func (o Order) String() string {
	return fmt.Sprintf("(%d,%d,%d)", o.P, o.D, o.Q)
}

// OrderScore records one attempted candidate of the order search
type OrderScore struct {
	Order Order   `json:"order"`
	AIC   float64 `json:"aic"`
}

// OrderSearched is implemented by fitted models chosen by an information
// criterion search
type OrderSearched interface {
	SelectedOrder() Order
	Candidates() []OrderScore
}

// sarimaBackend fits ARIMA models directly on the monthly series. The
// order search enumerates (p, d, q) over {0,1,2} cubed in ascending order
// and keeps the strictly lowest AIC; ties keep the first candidate found.
type sarimaBackend struct {
	logger *logx.Logger
}

// NewSeasonalARIMA creates the ARIMA backend
func NewSeasonalARIMA(logger *logx.Logger) Backend {
	return &sarimaBackend{logger: logger}
}

func (b *sarimaBackend) Kind() Kind      { return SeasonalARIMA }
func (b *sarimaBackend) MinHistory() int { return 24 }

func (b *sarimaBackend) Fit(s series.Monthly, _ []features.Row, _ []float64) (Fitted, error) {
	if len(s) < b.MinHistory() {
		return nil, &FitError{Backend: SeasonalARIMA, Err: fmt.Errorf("need %d months, got %d", b.MinHistory(), len(s))}
	}
	values := s.Values()

	var best *armaModel
	bestAIC := math.Inf(1)
	var attempted []OrderScore

	for p := 0; p <= maxOrder; p++ {
		for d := 0; d <= maxOrder; d++ {
			for q := 0; q <= maxOrder; q++ {
				order := Order{P: p, D: d, Q: q}
				m, err := fitARMA(values, order)
				if err != nil {
					b.logger.Debug("ARIMA candidate skipped", "order", order.String(), "error", err)
					continue
				}
				attempted = append(attempted, OrderScore{Order: order, AIC: m.aic})
				if m.aic < bestAIC {
					bestAIC = m.aic
					best = m
				}
			}
		}
	}

	if best == nil {
		return nil, &FitError{Backend: SeasonalARIMA, Err: ErrNoViableOrder}
	}

	b.logger.Info("ARIMA order selected",
		"order", best.order.String(),
		"aic", best.aic,
		"candidates", len(attempted),
	)

	return &sarimaFitted{model: best, n: len(values), attempted: attempted}, nil
}

// armaModel is an ARIMA(p,d,q) fitted by conditional estimation: AR
// coefficients from the Yule-Walker equations via Levinson-Durbin, MA
// coefficients approximated from the autocorrelation of the AR residuals
type armaModel struct {
	order  Order
	mu     float64   // mean of the differenced series
	ar     []float64 // AR coefficients over the demeaned differenced series
	ma     []float64
	zHist  []float64 // demeaned differenced series, extended while forecasting
	resid  []float64 // residual history, zero for forecast steps
	tails  []float64 // last value of each differencing level 0..d-1
	sigma2 float64
	aic    float64
}

func fitARMA(values []float64, order Order) (*armaModel, error) {
	w := difference(values, order.D)
	if len(w) < order.P+order.Q+3 {
		return nil, fmt.Errorf("series too short after differencing")
	}

	mu := stat.Mean(w, nil)
	z := make([]float64, len(w))
	for i, v := range w {
		z[i] = v - mu
	}

	ar := yuleWalker(z, order.P)
	for _, c := range ar {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("AR estimation diverged")
		}
	}

	ma := estimateMA(z, ar, order.Q)

	// one-step-ahead residuals over the conditioning window
	start := order.P
	if order.Q > start {
		start = order.Q
	}
	resid := make([]float64, len(z))
	sse := 0.0
	count := 0
	for t := start; t < len(z); t++ {
		pred := 0.0
		for i, c := range ar {
			pred += c * z[t-1-i]
		}
		for j, c := range ma {
			pred += c * resid[t-1-j]
		}
		resid[t] = z[t] - pred
		sse += resid[t] * resid[t]
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("no usable residuals")
	}

	sigma2 := sse / float64(count)
	if sigma2 < 1e-12 {
		sigma2 = 1e-12
	}
	k := float64(order.P + order.Q + 1)
	aic := float64(count)*math.Log(sigma2) + 2*k
	if math.IsNaN(aic) || math.IsInf(aic, 0) {
		return nil, fmt.Errorf("non-finite AIC")
	}

	// last value of each differencing level, used to integrate forecasts
	// back to the original scale
	tails := make([]float64, order.D)
	level := values
	for d := 0; d < order.D; d++ {
		tails[d] = level[len(level)-1]
		level = difference(level, 1)
	}

	return &armaModel{
		order:  order,
		mu:     mu,
		ar:     ar,
		ma:     ma,
		zHist:  z,
		resid:  resid,
		tails:  tails,
		sigma2: sigma2,
		aic:    aic,
	}, nil
}

// sarimaFitted forecasts by stepping the fitted process forward in
// differenced space and integrating back; horizon steps are derived from
// the requested row's period index relative to the fitted history.
type sarimaFitted struct {
	model     *armaModel
	n         int // length of the fitted series
	attempted []OrderScore
	forecasts []float64 // memoized original-scale forecasts, step 1..len
}

func (f *sarimaFitted) Predict(row features.Row) (float64, error) {
	h := int(row.PeriodIndex) - (f.n - 1)
	if h < 1 {
		return 0, fmt.Errorf("period index %d is not ahead of the fitted history", int(row.PeriodIndex))
	}
	for len(f.forecasts) < h {
		f.forecasts = append(f.forecasts, f.model.step())
	}
	return f.forecasts[h-1], nil
}

func (f *sarimaFitted) Importance() map[string]float64 { return nil }

func (f *sarimaFitted) SelectedOrder() Order { return f.model.order }

func (f *sarimaFitted) Candidates() []OrderScore { return f.attempted }

// step advances the process one period and returns the original-scale
// forecast
func (m *armaModel) step() float64 {
	zf := 0.0
	for i, c := range m.ar {
		zf += c * m.zHist[len(m.zHist)-1-i]
	}
	for j, c := range m.ma {
		zf += c * m.resid[len(m.resid)-1-j]
	}
	m.zHist = append(m.zHist, zf)
	m.resid = append(m.resid, 0) // future shocks are zero in expectation

	v := zf + m.mu
	for d := m.order.D - 1; d >= 0; d-- {
		v += m.tails[d]
		m.tails[d] = v
	}
	return v
}

// difference applies first differencing d times
func difference(values []float64, d int) []float64 {
	out := values
	for i := 0; i < d; i++ {
		next := make([]float64, len(out)-1)
		for j := 1; j < len(out); j++ {
			next[j-1] = out[j] - out[j-1]
		}
		out = next
	}
	return out
}

// autocorrelation returns the ACF at lags 1..k
func autocorrelation(z []float64, k int) []float64 {
	n := len(z)
	variance := 0.0
	for _, v := range z {
		variance += v * v
	}
	acf := make([]float64, k)
	if variance == 0 {
		return acf
	}
	for lag := 1; lag <= k; lag++ {
		cov := 0.0
		for t := lag; t < n; t++ {
			cov += z[t] * z[t-lag]
		}
		acf[lag-1] = cov / variance
	}
	return acf
}

// yuleWalker solves the Yule-Walker equations with Levinson-Durbin
// recursion
func yuleWalker(z []float64, p int) []float64 {
	if p == 0 {
		return nil
	}
	acf := autocorrelation(z, p)

	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}
	phi[1][1] = acf[0]
	v := 1 - acf[0]*acf[0]

	for k := 2; k <= p; k++ {
		if v == 0 {
			break
		}
		num := acf[k-1]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-1-j]
		}
		phi[k][k] = num / v
		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}
		v *= 1 - phi[k][k]*phi[k][k]
	}

	out := make([]float64, p)
	for i := 1; i <= p; i++ {
		out[i-1] = phi[p][i]
	}
	return out
}

// estimateMA approximates MA coefficients from the autocorrelation of the
// AR residuals, damped for stability
func estimateMA(z []float64, ar []float64, q int) []float64 {
	if q == 0 {
		return nil
	}
	p := len(ar)
	resid := make([]float64, 0, len(z)-p)
	for t := p; t < len(z); t++ {
		pred := 0.0
		for i, c := range ar {
			pred += c * z[t-1-i]
		}
		resid = append(resid, z[t]-pred)
	}

	ma := make([]float64, q)
	acf := autocorrelation(resid, q)
	for i := 0; i < q && i < len(acf); i++ {
		ma[i] = acf[i] * 0.5
	}
	return ma
}
