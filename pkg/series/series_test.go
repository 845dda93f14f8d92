package series

import (
	"strings"
	"testing"
	"time"

	"github.com/epitrend/epitrend/pkg/logx"
)

func TestPeriodAddRollsYear(t *testing.T) {
	cases := []struct {
		start    Period
		n        int
		expected Period
	}{
		{Period{2024, time.November}, 1, Period{2024, time.December}},
		{Period{2024, time.November}, 2, Period{2025, time.January}},
		{Period{2024, time.December}, 13, Period{2026, time.January}},
		{Period{2024, time.January}, 0, Period{2024, time.January}},
	}

	for _, c := range cases {
		got := c.start.Add(c.n)
		if got != c.expected {
			t.Fatalf("%v.Add(%d) = %v; want %v", c.start, c.n, got, c.expected)
		}
	}
}

func TestPeriodIndex(t *testing.T) {
	a := Period{2024, time.November}
	b := Period{2025, time.February}
	if idx := b.Index(a); idx != 3 {
		t.Fatalf("Index = %d; want 3", idx)
	}
}

func TestAggregateFillsGaps(t *testing.T) {
	agg := NewAggregator(logx.New("error"))
	events := []EventRecord{
		{Date: "2024-01-10", Region: "north", Disease: "flu", Count: 3},
		{Date: "2024-01-20", Region: "north", Disease: "flu", Count: 2},
		{Date: "2024-04-05", Region: "north", Disease: "flu", Count: 7},
	}

	got, dropped := agg.Aggregate(events, Filter{})
	if dropped != 0 {
		t.Fatalf("dropped = %d; want 0", dropped)
	}
	if len(got) != 4 {
		t.Fatalf("series length = %d; want 4 (gap months coalesced to zero)", len(got))
	}
	want := []float64{5, 0, 0, 7}
	for i, v := range want {
		if got[i].Value != v {
			t.Fatalf("month %d value = %v; want %v", i, got[i].Value, v)
		}
		if got[i].Period != (Period{2024, time.Month(i + 1)}) {
			t.Fatalf("month %d period = %v", i, got[i].Period)
		}
	}
}

func TestAggregateDropsUnparseableDates(t *testing.T) {
	agg := NewAggregator(logx.New("error"))
	events := []EventRecord{
		{Date: "2024-01-10", Region: "north", Disease: "flu", Count: 3},
		{Date: "not-a-date", Region: "north", Disease: "flu", Count: 100},
		{Date: "", Region: "north", Disease: "flu", Count: 50},
	}

	got, dropped := agg.Aggregate(events, Filter{})
	if dropped != 2 {
		t.Fatalf("dropped = %d; want 2", dropped)
	}
	if len(got) != 1 || got[0].Value != 3 {
		t.Fatalf("series = %v; want single month of 3", got)
	}
}

func TestAggregateFilters(t *testing.T) {
	agg := NewAggregator(logx.New("error"))
	events := []EventRecord{
		{Date: "2024-01-10", Region: "north", Disease: "flu", Count: 3},
		{Date: "2024-01-11", Region: "south", Disease: "flu", Count: 4},
		{Date: "2024-01-12", Region: "north", Disease: "measles", Count: 5},
		{Date: "2023-06-01", Region: "north", Disease: "flu", Count: 9},
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, _ := agg.Aggregate(events, Filter{Region: "north", Disease: "flu", DateFrom: from})
	if len(got) != 1 {
		t.Fatalf("series length = %d; want 1", len(got))
	}
	if got[0].Value != 3 {
		t.Fatalf("value = %v; want 3", got[0].Value)
	}
}

func TestAggregateEmptyAfterFilter(t *testing.T) {
	agg := NewAggregator(logx.New("error"))
	events := []EventRecord{
		{Date: "2024-01-10", Region: "north", Disease: "flu", Count: 3},
	}
	got, _ := agg.Aggregate(events, Filter{Region: "west"})
	if got != nil {
		t.Fatalf("expected nil series, got %v", got)
	}
}

func TestReadCSV(t *testing.T) {
	input := strings.Join([]string{
		"date,region,disease,count,age,sex",
		"2024-01-10,north,flu,3,34,f",
		"2024-02-01,south,measles,7",
	}, "\n")

	events, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d; want 2", len(events))
	}
	if events[0].Age != 34 || events[0].Sex != "f" {
		t.Fatalf("optional columns not parsed: %+v", events[0])
	}
	if events[1].Count != 7 {
		t.Fatalf("count = %v; want 7", events[1].Count)
	}
}

func TestReadCSVBadCount(t *testing.T) {
	input := "2024-01-10,north,flu,3\n2024-01-11,north,flu,xx\n"
	if _, err := ReadCSV(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for bad count")
	}
}
