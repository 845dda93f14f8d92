// Package archive persists delivered forecasts for later comparison
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/epitrend/epitrend/pkg/forecast"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/series"
)

// Record is one archived forecast
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Model     string          `json:"model"`
	Region    string          `json:"region,omitempty"`
	Disease   string          `json:"disease,omitempty"`
	Horizon   int             `json:"horizon"`
	Dates     []series.Period `json:"forecast_dates"`
	Values    []float64       `json:"forecast_values"`
	MAE       *float64        `json:"mae,omitempty"`
	R2        *float64        `json:"r2,omitempty"`
}

// Store is a sqlite-backed forecast archive
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS forecasts (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	model TEXT NOT NULL,
	region TEXT,
	disease TEXT,
	horizon INTEGER NOT NULL,
	dates TEXT NOT NULL,
	"values" TEXT NOT NULL,
	mae REAL,
	r2 REAL
);
CREATE INDEX IF NOT EXISTS idx_forecasts_created ON forecasts(created_at);
`

// Open opens (and if needed initializes) the archive at path. Use
// ":memory:" for an ephemeral store.
func Open(path string, logger *logx.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	logger.Debug("forecast archive opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives a delivered forecast and returns the record with its
// assigned id
func (s *Store) Save(filter series.Filter, res *forecast.Result) (*Record, error) {
	rec := &Record{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Model:     string(res.Model),
		Region:    filter.Region,
		Disease:   filter.Disease,
		Horizon:   len(res.Values),
		Dates:     res.Dates,
		Values:    res.Values,
	}
	if res.Metrics != nil {
		mae, r2 := res.Metrics.MAE, res.Metrics.R2
		rec.MAE, rec.R2 = &mae, &r2
	}

	dates, err := json.Marshal(rec.Dates)
	if err != nil {
		return nil, fmt.Errorf("encode dates: %w", err)
	}
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO forecasts (id, created_at, model, region, disease, horizon, dates, "values", mae, r2)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.Model, rec.Region, rec.Disease, rec.Horizon,
		string(dates), string(values), rec.MAE, rec.R2,
	)
	if err != nil {
		return nil, fmt.Errorf("save forecast: %w", err)
	}

	s.logger.Debug("forecast archived", "id", rec.ID, "model", rec.Model)
	return rec, nil
}

// Get returns one archived forecast by id
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, model, region, disease, horizon, dates, "values", mae, r2
		 FROM forecasts WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("forecast %s not found", id)
	}
	return rec, err
}

// List returns the most recent archived forecasts, newest first
func (s *Store) List(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, created_at, model, region, disease, horizon, dates, "values", mae, r2
		 FROM forecasts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var dates, values string
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.Model, &rec.Region, &rec.Disease,
		&rec.Horizon, &dates, &values, &rec.MAE, &rec.R2)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dates), &rec.Dates); err != nil {
		return nil, fmt.Errorf("decode dates: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &rec.Values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return &rec, nil
}
