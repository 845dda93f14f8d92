// Package series converts raw incidence event logs into ordered monthly
// count series suitable for model fitting.
package series

import (
	"fmt"
	"time"
)

// Period identifies a calendar month
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Add returns the period n months after p, rolling month overflow into
// year increments
func (p Period) Add(n int) Period {
	m := (p.Year*12 + int(p.Month) - 1) + n
	return Period{Year: m / 12, Month: time.Month(m%12 + 1)}
}

// Next returns the immediately following period
func (p Period) Next() Period {
	return p.Add(1)
}

// Before reports whether p is chronologically before q
func (p Period) Before(q Period) bool {
	if p.Year != q.Year {
		return p.Year < q.Year
	}
	return p.Month < q.Month
}

// Index returns the number of months from q to p
func (p Period) Index(q Period) int {
	return (p.Year*12 + int(p.Month)) - (q.Year*12 + int(q.Month))
}

// Time returns the first instant of the period in UTC
func (p Period) Time() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalJSON encodes the period as "YYYY-MM"
func (p Period) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON decodes a "YYYY-MM" period
func (p *Period) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid period %s", s)
	}
	t, err := time.Parse("2006-01", s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("invalid period %s: %w", s, err)
	}
	*p = PeriodOf(t)
	return nil
}

// Point is a single monthly observation
type Point struct {
	Period Period  `json:"period"`
	Value  float64 `json:"value"`
}

// Monthly is an ordered, gap-free monthly count series
type Monthly []Point

// Values returns the observation values in chronological order
func (m Monthly) Values() []float64 {
	values := make([]float64, len(m))
	for i, p := range m {
		values[i] = p.Value
	}
	return values
}

// Last returns the final period of the series
func (m Monthly) Last() Period {
	return m[len(m)-1].Period
}

// EventRecord is a single row of the imported incidence table. The date is
// kept raw; coercion happens during aggregation so that malformed rows can
// be counted and dropped instead of failing the whole request.
type EventRecord struct {
	Date    string  `json:"date"`
	Region  string  `json:"region"`
	Disease string  `json:"disease"`
	Count   float64 `json:"count"`
	Age     int     `json:"age,omitempty"`
	Sex     string  `json:"sex,omitempty"`
}

// Filter scopes aggregation to a subset of the event table. Zero values
// leave the corresponding dimension unconstrained.
type Filter struct {
	Region   string    `json:"region,omitempty"`
	Disease  string    `json:"disease,omitempty"`
	DateFrom time.Time `json:"date_from,omitempty"`
	DateTo   time.Time `json:"date_to,omitempty"`
}

// matches applies the exact-match region/disease predicates and the
// date-range bounds to a coerced row
func (f Filter) matches(rec EventRecord, date time.Time) bool {
	if f.Region != "" && rec.Region != f.Region {
		return false
	}
	if f.Disease != "" && rec.Disease != f.Disease {
		return false
	}
	if !f.DateFrom.IsZero() && date.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && date.After(f.DateTo) {
		return false
	}
	return true
}

// dateLayouts are the formats accepted for event dates, tried in order
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02.01.2006",
	"2006/01/02",
}

// ParseDate coerces a raw event date string
func ParseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
