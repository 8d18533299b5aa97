// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the observer over HTTP: JSON routes that feed the
// session registry, read endpoints for stored memory, and SSE/WebSocket
// streams of live events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/session"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig allows local tools and the viewer from any origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	Registry    *session.Registry
	Memory      *memory.Store
	Broadcaster *events.Broadcaster

	// Providers lists the backend chain for /api/status.
	Providers []string

	CORS      CORSConfig
	KeepAlive time.Duration

	// MaxBodyBytes caps request bodies. Default 8 MiB.
	MaxBodyBytes int64

	Logger *zap.Logger
}

// HTTPServer serves the observer API.
type HTTPServer struct {
	cfg        Config
	httpServer *http.Server
	logger     *zap.Logger
	started    time.Time
}

// NewHTTPServer validates cfg and builds the route table.
func NewHTTPServer(cfg Config) (*HTTPServer, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("event broadcaster is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}

	h := &HTTPServer{
		cfg:     cfg,
		logger:  cfg.Logger,
		started: time.Now(),
	}
	h.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // No timeout for SSE
		IdleTimeout:       120 * time.Second,
	}
	return h, nil
}

// Handler returns the routed, CORS-wrapped handler.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /api/sessions/init", h.handleInit)
	mux.HandleFunc("POST /api/sessions/observations", h.handleObservation)
	mux.HandleFunc("POST /api/sessions/summarize", h.handleSummarize)
	mux.HandleFunc("POST /api/sessions/complete", h.handleComplete)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.handleCancel)
	mux.HandleFunc("GET /api/sessions/{id}/observations", h.handleListObservations)
	mux.HandleFunc("GET /api/status", h.handleStatus)

	initial := func() []events.Event {
		st, err := h.cfg.Registry.Status(context.Background())
		if err != nil {
			return nil
		}
		return []events.Event{events.StatusEvent(st)}
	}
	var sseOpts []events.SSEOption
	sseOpts = append(sseOpts, events.WithInitialEvents(initial))
	if h.cfg.KeepAlive > 0 {
		sseOpts = append(sseOpts, events.WithKeepAlive(h.cfg.KeepAlive))
	}
	mux.Handle("GET /stream", events.NewSSEHandler(h.cfg.Broadcaster, h.logger, sseOpts...))
	mux.Handle("GET /ws", events.NewWebSocketHandler(h.cfg.Broadcaster, h.checkOrigin, initial, h.logger))

	var handler http.Handler = mux
	if h.cfg.CORS.Enabled {
		handler = h.corsMiddleware(mux)
	}
	return handler
}

// Start serves until Stop is called.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server", zap.String("addr", h.httpServer.Addr))
	if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (h *HTTPServer) Serve(l net.Listener) error {
	h.logger.Info("Starting HTTP server", zap.String("addr", l.Addr().String()))
	if err := h.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server")
	return h.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to HTTP responses
func (h *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	cors := h.cfg.CORS
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := h.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(cors.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(cors.AllowedMethods, ", "))
		}
		if len(cors.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
		}
		if len(cors.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(cors.ExposedHeaders, ", "))
		}
		if cors.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cors.MaxAge))
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or empty
// when origin is not allowed.
func (h *HTTPServer) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range h.cfg.CORS.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

// checkOrigin gates WebSocket upgrades with the CORS origin list. Same-host
// and origin-less clients are always accepted.
func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || strings.HasSuffix(origin, "://"+r.Host) {
		return true
	}
	return h.cfg.CORS.Enabled && h.allowedOrigin(origin) != ""
}
