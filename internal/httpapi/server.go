// Package httpapi exposes a running sync engine to local UI processes: status
// badges, manual sync, the mutation gateway and a live state stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
	"github.com/agentworkforce/fieldsync/internal/offlinesync"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Engine is the part of *offlinesync.Engine the API drives.
type Engine interface {
	State() offlinesync.State
	Subscribe() (<-chan offlinesync.State, func())
	Dispatch(ctx context.Context) offlinesync.DispatchResult
	Issue(ctx context.Context, req offlinesync.Request) offlinesync.Result
	Pending(ctx context.Context) ([]mutationqueue.QueuedMutation, error)
	Clear(ctx context.Context) error
	SetOnline(online bool)
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	// Token guards every route except /health and /metrics. Empty disables auth.
	Token           string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   Logger
}

type Server struct {
	engine      Engine
	cfg         ServerConfig
	rateLimiter *rateLimiter
	router      chi.Router
}

type rateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	entries   map[string]rateEntry
	nextSweep time.Time
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine Engine, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		engine:      engine,
		cfg:         cfg,
		rateLimiter: limiter,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withCorrelationID)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/v1/sync/status", s.handleStatus)
		r.Post("/v1/sync/dispatch", s.handleDispatch)
		r.Get("/v1/sync/stream", s.handleStream)
		r.Post("/v1/mutations", s.handleIssue)
		r.Get("/v1/queue", s.handleQueueList)
		r.Delete("/v1/queue", s.handleQueueClear)
		r.Put("/v1/connectivity", s.handleConnectivity)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	result := s.engine.Dispatch(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": result.Outcome,
		"report":  result.Report,
		"state":   s.engine.State(),
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", correlationID)
		return
	}
	var req offlinesync.Request
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "url is required", correlationID)
		return
	}
	result := s.engine.Issue(r.Context(), req)
	status := http.StatusOK
	switch {
	case result.Queued:
		status = http.StatusAccepted
	case result.Error != "":
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.Pending(r.Context())
	if err != nil {
		s.logf("list pending mutations: %v", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "pending mutations could not be read", getCorrelationID(r))
		return
	}
	for i := range items {
		items[i] = items[i].Redacted()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "pending mutations could not be cleared", getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var body struct {
		Online *bool `json:"online"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if body.Online == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "online is required", correlationID)
		return
	}
	s.engine.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, s.engine.State())
}

// handleStream pushes the engine state on connect and after every change
// until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logf("accept state stream: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.engine.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine stopped")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, state)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("X-Correlation-Id")) == "" {
			r.Header.Set("X-Correlation-Id", uuid.NewString())
		}
		w.Header().Set("X-Correlation-Id", getCorrelationID(r))
		next.ServeHTTP(w, r)
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	if token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")); token != "" {
		return "token:" + token
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "addr:" + host
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop expired keys at most once per window.
	if now.After(r.nextSweep) {
		for k, e := range r.entries {
			if now.After(e.resetAt) {
				delete(r.entries, k)
			}
		}
		r.nextSweep = now.Add(r.window)
	}

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	if w, ok := s.cfg.Logger.(interface{ Warnf(string, ...any) }); ok {
		w.Warnf(format, args...)
		return
	}
	s.cfg.Logger.Printf(format, args...)
}
