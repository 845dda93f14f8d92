package series

import (
	"github.com/epitrend/epitrend/pkg/logx"
)

// Aggregator collapses a row-per-event table into a monthly count series
type Aggregator struct {
	logger *logx.Logger
}

// NewAggregator creates a new series aggregator
func NewAggregator(logger *logx.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate filters the event table, groups records by calendar month and
// sums the count field. Months with no events inside the observed span are
// coalesced to zero so the series is gap-free. Rows whose dates cannot be
// coerced are dropped; the number of dropped rows is returned alongside
// the series.
func (a *Aggregator) Aggregate(events []EventRecord, filter Filter) (Monthly, int) {
	sums := make(map[Period]float64)
	dropped := 0
	var first, last Period
	seen := false

	for _, rec := range events {
		date, err := ParseDate(rec.Date)
		if err != nil {
			dropped++
			continue
		}
		if !filter.matches(rec, date) {
			continue
		}
		p := PeriodOf(date)
		sums[p] += rec.Count
		if !seen {
			first, last = p, p
			seen = true
			continue
		}
		if p.Before(first) {
			first = p
		}
		if last.Before(p) {
			last = p
		}
	}

	if dropped > 0 {
		a.logger.Warn("dropped rows with unparseable dates", "dropped", dropped)
	}
	if !seen {
		return nil, dropped
	}

	months := last.Index(first) + 1
	out := make(Monthly, 0, months)
	for p := first; !last.Before(p); p = p.Next() {
		out = append(out, Point{Period: p, Value: sums[p]})
	}

	a.logger.Debug("aggregated event table",
		"rows", len(events),
		"months", len(out),
		"first", first.String(),
		"last", last.String(),
	)
	return out, dropped
}
