// Package httpapi is a read-only status server exposing liveness, Prometheus
// metrics, and the engine's tracked positions over gorilla/mux routing and
// the standard http.Server lifecycle. There is no interactive dashboard UI
// here, only the liveness/metrics/positions endpoints an orchestrator or
// curl probes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// PositionSource is the subset of *execution.Engine the server depends on.
type PositionSource interface {
	AllTrackedPositions() []domain.Position
}

// StopState is the subset of *risk.Gate the server depends on.
type StopState interface {
	IsStopped() bool
}

// Server is the read-only status HTTP surface.
type Server struct {
	positions PositionSource
	stop      StopState

	httpServer *http.Server
}

// NewServer builds a Server listening on addr, wired to the two read-only
// dependencies this surface needs.
func NewServer(addr string, positions PositionSource, stop StopState) *Server {
	s := &Server{positions: positions, stop: stop}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the HTTP server until it fails or is shut down, logging a
// clean-shutdown case separately from a genuine listen error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("httpapi: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthzResponse struct {
	Status        string `json:"status"`
	EmergencyStop bool   `json:"emergencyStop"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stopped := s.stop != nil && s.stop.IsStopped()
	status := "ok"
	if stopped {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, healthzResponse{Status: status, EmergencyStop: stopped})
}

type positionResponse struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entryPrice"`
	Quantity      float64 `json:"quantity"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	StopLoss      float64 `json:"stopLoss"`
	Leverage      int     `json:"leverage"`
	OpenTime      int64   `json:"openTimeMs"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	var positions []domain.Position
	if s.positions != nil {
		positions = s.positions.AllTrackedPositions()
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			Symbol:        p.Symbol.PairString(),
			Side:          string(p.Side),
			EntryPrice:    p.EntryPrice.Float64(),
			Quantity:      p.Quantity.Float64(),
			UnrealizedPnl: p.UnrealizedPnl.Float64(),
			StopLoss:      p.StopLoss.Float64(),
			Leverage:      p.Leverage,
			OpenTime:      p.OpenTime.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to encode response")
	}
}
