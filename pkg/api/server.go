// Package api exposes the forecasting engine over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/epitrend/epitrend/pkg/archive"
	"github.com/epitrend/epitrend/pkg/forecast"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/models"
	"github.com/epitrend/epitrend/pkg/mqtt"
	"github.com/epitrend/epitrend/pkg/series"
)

// ForecastRequest is the POST /api/forecast body
type ForecastRequest struct {
	Region        string `json:"region,omitempty"`
	Disease       string `json:"disease,omitempty"`
	DateFrom      string `json:"date_from,omitempty"`
	DateTo        string `json:"date_to,omitempty"`
	Backend       string `json:"backend"`
	HorizonMonths int    `json:"horizon_months"`
}

// ForecastResponse wraps the engine result with its archive id
type ForecastResponse struct {
	ID string `json:"id"`
	*forecast.Result
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves forecast requests over an immutable event snapshot
type Server struct {
	engine    *forecast.Engine
	events    []series.EventRecord
	store     *archive.Store
	publisher *mqtt.Publisher
	logger    *logx.Logger
	http      *http.Server
}

// NewServer creates the API server. store and publisher may be nil.
func NewServer(addr string, engine *forecast.Engine, events []series.EventRecord,
	store *archive.Store, publisher *mqtt.Publisher, logger *logx.Logger) *Server {
	s := &Server{
		engine:    engine,
		events:    events,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/forecast", s.handleForecast).Methods(http.MethodPost)
	r.HandleFunc("/api/forecasts", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/forecasts/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/backends", s.handleBackends).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the route tree, mainly for tests
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	filter, err := req.filter()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.engine.Forecast(r.Context(), s.events, filter, models.Kind(req.Backend), req.HorizonMonths)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := ForecastResponse{Result: res}
	if s.store != nil {
		rec, err := s.store.Save(filter, res)
		if err != nil {
			// archiving is best-effort; the forecast itself succeeded
			s.logger.Warn("archive save failed", "error", err.Error())
		} else {
			resp.ID = rec.ID
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishForecast(req.Region, req.Disease, res); err != nil {
			s.logger.Warn("mqtt publish failed", "error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("archive disabled"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	records, err := s.store.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*archive.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("archive disabled"))
		return
	}
	rec, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends":    s.engine.Available(),
		"max_horizon": s.engine.MaxHorizon(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r ForecastRequest) filter() (series.Filter, error) {
	var f series.Filter
	f.Region = r.Region
	f.Disease = r.Disease
	if r.DateFrom != "" {
		t, err := series.ParseDate(r.DateFrom)
		if err != nil {
			return f, fmt.Errorf("invalid date_from: %w", err)
		}
		f.DateFrom = t
	}
	if r.DateTo != "" {
		t, err := series.ParseDate(r.DateTo)
		if err != nil {
			return f, fmt.Errorf("invalid date_to: %w", err)
		}
		f.DateTo = t
	}
	return f, nil
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	var cfgErr *forecast.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, forecast.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forecast.ErrExhaustedBackends):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
