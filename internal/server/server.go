// Package server exposes the monitor over HTTP and streams published results
// over WebSocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"
	"ticketwatch/internal/monitor"
	"ticketwatch/internal/navigate"
	"ticketwatch/internal/store"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor is the part of monitor.Service the routes use.
type Monitor interface {
	Add(ctx context.Context, url string) (models.MonitoredEndpoint, bool, error)
	List(ctx context.Context) ([]models.MonitoredEndpoint, error)
	Fetch(ctx context.Context, url string) (monitor.RefreshResult, error)
	Changes(ctx context.Context, eventID string) ([]models.ChangeEvent, error)
}

type Params struct {
	Monitor  Monitor
	Broker   broadcast.Broker
	Gatherer prometheus.Gatherer
	Tel      telemetry.API
	// PingInterval keeps idle websocket connections alive, defaults to 30s.
	PingInterval time.Duration
}

type Server struct {
	monitor      Monitor
	broker       broadcast.Broker
	gatherer     prometheus.Gatherer
	tel          telemetry.API
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func New(p Params) *Server {
	ping := p.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		monitor:      p.Monitor,
		broker:       p.Broker,
		gatherer:     gatherer,
		tel:          telemetry.NewScopedAPI("server", p.Tel),
		pingInterval: ping,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/endpoints", s.addEndpoint)
		r.Get("/endpoints", s.listEndpoints)
		r.Get("/endpoints/{eventId}/changes", s.changes)
		r.Post("/fetch", s.fetch)
		r.Get("/ws", s.stream)
	})
	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.tel.ReportDebug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusOf maps domain errors to http statuses.
func statusOf(err error) int {
	var navErr *navigate.Error
	switch {
	case errors.Is(err, models.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &navErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
