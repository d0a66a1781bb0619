// Package server exposes the prompt manager over HTTP: health and listing
// endpoints, a render endpoint, and a WebSocket stream that pushes applied
// hot-update batches to connected clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	pwerrors "github.com/conneroisu/promptweave/internal/errors"
	"github.com/conneroisu/promptweave/internal/logging"
	"github.com/conneroisu/promptweave/internal/manager"
	"github.com/conneroisu/promptweave/internal/types"
)

// Options configures the server.
type Options struct {
	Host   string
	Port   int
	Logger logging.Logger
}

// Server serves the HTTP and WebSocket API for one manager.
type Server struct {
	manager *manager.Manager
	logger  logging.Logger
	httpSrv *http.Server
	addr    string

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	shutdownOnce sync.Once
}

// updateMessage is the payload pushed to WebSocket clients after each
// committed hot-update batch.
type updateMessage struct {
	Type    string   `json:"type"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Time    string   `json:"time"`
}

// New creates a server and subscribes it to the manager's applied batches.
func New(mgr *manager.Manager, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		manager: mgr,
		logger:  logger.WithComponent("server"),
		addr:    net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port)),
		clients: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/prompts", s.handleList)
	mux.HandleFunc("GET /api/prompts/{name}", s.handleMeta)
	mux.HandleFunc("POST /api/prompts/{name}/render", s.handleRender)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mgr.OnApplied(s.broadcastApplied)
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler exposes the route mux, mainly for tests driving the API without a
// live listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown closes WebSocket clients and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*websocket.Conn]struct{})
		s.clientsMu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(shutdownCtx)
	})
	return err
}

// handleHealth reports 200 when every tracked resource loaded cleanly and
// 503 with the per-resource errors otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loadErrors := s.manager.LoadErrors()
	if len(loadErrors) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	failures := make(map[string]string, len(loadErrors))
	for resource, err := range loadErrors {
		failures[resource] = err.Error()
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status":      "degraded",
		"load_errors": failures,
	})
}

// handleList returns the names currently resident in the artifact cache.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prompts": s.manager.CachedNames(),
	})
}

// handleMeta returns the lean metadata for one cached prompt.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	meta, ok := s.manager.Meta(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("prompt %q is not cached", name))
		return
	}
	writeJSON(w, http.StatusOK, metaPayload(meta))
}

// renderRequest is the render endpoint's body.
type renderRequest struct {
	Variables map[string]any `json:"variables"`
}

// handleRender renders one prompt against the supplied variables.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req renderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	text, err := s.manager.Render(name, req.Variables)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case pwerrors.IsNotFound(err):
			status = http.StatusNotFound
		case pwerrors.IsCompileFailure(err), pwerrors.IsRenderFailure(err):
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt": name,
		"text":   text,
	})
}

// handleStats returns cache effectiveness counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":   stats.Entries,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
	})
}

// handleWebSocket upgrades the connection and keeps it registered for
// hot-update pushes until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug(r.Context(), "websocket client connected", "clients", total)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Drain reads so close frames and pings are processed. Clients are
	// push-only; inbound payloads are discarded.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug(ctx, "websocket client gone", "reason", err.Error())
			}
			return
		}
	}
}

// broadcastApplied pushes one committed batch to every connected client.
// Slow clients are dropped rather than allowed to block the update path.
func (s *Server) broadcastApplied(updated, removed []string) {
	msg := updateMessage{
		Type:    "prompts_updated",
		Updated: updated,
		Removed: removed,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			_ = conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

func metaPayload(meta *types.PromptMeta) map[string]any {
	payload := map[string]any{"id": meta.ID}
	if meta.Model != "" {
		payload["model"] = meta.Model
	}
	if meta.Temperature != nil {
		payload["temperature"] = *meta.Temperature
	}
	if meta.MaxTokens != nil {
		payload["max_tokens"] = *meta.MaxTokens
	}
	if meta.Timeout > 0 {
		payload["timeout_ms"] = meta.Timeout.Milliseconds()
	}
	if meta.Description != "" {
		payload["description"] = meta.Description
	}
	if len(meta.Extensions) > 0 {
		payload["extensions"] = meta.Extensions
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
