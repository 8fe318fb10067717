// Package httpapi serves a read-only view of the accounting engine.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/pzemd/internal/billing"
	"codeberg.org/mutker/pzemd/internal/engine"
	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	ErrServe = errors.ErrorCode("httpapi_serve_failed")

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Status is the part of the engine the API reads from.
type Status interface {
	Summary(now time.Time) engine.Summary
	LastHealth() (engine.HealthStatus, bool)
	Schedule() *billing.Schedule
}

type Server struct {
	addr   string
	status Status
	now    func() time.Time
	log    logger.Logger
}

func NewServer(addr string, status Status, log logger.Logger) *Server {
	if log == nil {
		log = logger.With("httpapi")
	}
	return &Server{addr: addr, status: status, now: time.Now, log: log}
}

// Handler returns the routed handler wrapped in panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/summary", s.summary).Methods(http.MethodGet)
	api.HandleFunc("/cost", s.cost).Methods(http.MethodGet).Queries("kwh", "{kwh}")
	api.HandleFunc("/tariff", s.tariff).Methods(http.MethodGet)
	r.Use(s.logRequests)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("Status API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.New().Wrap(ErrServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type healthResponse struct {
	Status string               `json:"status"`
	Health *engine.HealthStatus `json:"health,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	h, ok := s.status.LastHealth()
	if !ok {
		s.writeJSON(w, http.StatusOK, healthResponse{Status: "starting"})
		return
	}
	if !h.Healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "issues", Health: &h})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Health: &h})
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Summary(s.now()))
}

func (s *Server) cost(w http.ResponseWriter, r *http.Request) {
	kwh, err := strconv.ParseFloat(mux.Vars(r)["kwh"], 64)
	if err != nil || kwh < 0 || math.IsNaN(kwh) || math.IsInf(kwh, 0) {
		s.writeError(w, http.StatusBadRequest, "kwh must be a finite non-negative number")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Schedule().ComputeCost(kwh))
}

type tierResponse struct {
	Index int      `json:"tier"`
	Width *float64 `json:"width"`
	Price float64  `json:"price"`
}

type tariffResponse struct {
	Tiers   []tierResponse `json:"tiers"`
	VATRate float64        `json:"vat_rate"`
}

func (s *Server) tariff(w http.ResponseWriter, _ *http.Request) {
	sched := s.status.Schedule()
	resp := tariffResponse{VATRate: sched.VATRate()}
	for i, t := range sched.Tiers() {
		tr := tierResponse{Index: i, Price: t.Price}
		if !math.IsInf(t.Width, 1) {
			width := t.Width
			tr.Width = &width
		}
		resp.Tiers = append(resp.Tiers, tr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(v...))
}
