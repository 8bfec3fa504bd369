package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
	"github.com/SmitUplenchwar2687/throttle/internal/history"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/internal/metrics"
)

// Options configures a Server. Only Registry is required.
type Options struct {
	Addr     string
	Registry *limiter.Registry
	// Template creates limiters the first time an unknown name is acquired.
	Template limiter.Config
	Clock    clock.Clock
	// History, if set, is served under /api/history and streamed over /ws.
	History *history.Log
	// Metrics, if set, has its gauges refreshed whenever stats are listed.
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server exposes a limiter registry over HTTP.
type Server struct {
	httpServer  *http.Server
	registry    *limiter.Registry
	template    limiter.Config
	clock       clock.Clock
	history     *history.Log
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	hub         *Hub
	logger      *slog.Logger
	mux         *http.ServeMux
	unsubscribe func()
}

// New creates a new throttle server.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		registry: opts.Registry,
		template: opts.Template,
		clock:    opts.Clock,
		history:  opts.History,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		hub:      NewHub(opts.Logger),
		logger:   opts.Logger,
		mux:      http.NewServeMux(),
	}
	if s.history != nil {
		s.unsubscribe = s.history.Subscribe(s.hub.Broadcast)
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/limiters", s.handleList)
	s.mux.HandleFunc("GET /api/limiters/{name}/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/limiters/{name}/acquire", s.handleAcquire)
	s.mux.HandleFunc("POST /api/limiters/{name}/release", s.handleRelease)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
}

// Handler returns the server's routes, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the WebSocket hub that streams history entries.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleRoot serves a welcome message.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "throttle",
		"status":   "running",
		"limiters": s.registry.Len(),
		"time":     s.clock.Now().Format(time.RFC3339),
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	if s.metrics != nil {
		s.metrics.RecordStats(stats)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	lim, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lim.Stats())
}

// AcquireResponse is the body of an acquire call.
type AcquireResponse struct {
	Admitted bool          `json:"admitted"`
	Stats    limiter.Stats `json:"stats"`
}

// handleAcquire admits one request against the named limiter, creating it
// from the template if needed. Without a timeout parameter it never
// blocks; with one it waits up to that long.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		timeout = d
	}

	lim, err := s.registry.GetOrCreate(name, s.template)
	if err != nil {
		s.logger.Error("creating limiter", "limiter", name, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	admitted := lim.Acquire(r.Context(), timeout)
	stats := lim.Stats()
	setRateLimitHeaders(w, stats)
	status := http.StatusOK
	if !admitted {
		setRetryAfter(w, lim.WaitTime())
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, AcquireResponse{Admitted: admitted, Stats: stats})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	lim, ok := s.lookup(w, r)
	if !ok {
		return
	}
	lim.Release()
	writeJSON(w, http.StatusOK, lim.Stats())
}

// handleHistory lists recorded entries, most recent first.
// Query parameters: limiter, type, limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	q := history.Query{
		Limiter: r.URL.Query().Get("limiter"),
		Type:    limiter.EventKind(r.URL.Query().Get("type")),
		Limit:   100,
		Newest:  true,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}

	entries := s.history.Entries(q)
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*limiter.Limiter, bool) {
	name := r.PathValue("name")
	lim, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown limiter: "+name)
		return nil, false
	}
	return lim, true
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("throttle server listening", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and disconnects WebSocket
// clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
