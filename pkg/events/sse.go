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
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultKeepAlive is the interval between SSE comment pings.
const DefaultKeepAlive = 30 * time.Second

// SSEHandler streams events as text/event-stream.
type SSEHandler struct {
	b         *Broadcaster
	keepAlive time.Duration
	initial   func() []Event
	logger    *zap.Logger
}

// SSEOption configures an SSEHandler.
type SSEOption func(*SSEHandler)

// WithKeepAlive sets the ping interval.
func WithKeepAlive(d time.Duration) SSEOption {
	return func(h *SSEHandler) { h.keepAlive = d }
}

// WithInitialEvents sends the returned events right after "connected".
func WithInitialEvents(fn func() []Event) SSEOption {
	return func(h *SSEHandler) { h.initial = fn }
}

// NewSSEHandler creates an SSE transport over b.
func NewSSEHandler(b *Broadcaster, logger *zap.Logger, opts ...SSEOption) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SSEHandler{b: b, keepAlive: DefaultKeepAlive, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Subscribe before the first write so nothing published after
	// "connected" is missed.
	ch := h.b.Subscribe(r.Context())

	if err := writeSSE(w, New(TypeConnected, "", nil)); err != nil {
		return
	}
	if h.initial != nil {
		for _, ev := range h.initial() {
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
	}
	flusher.Flush()
	h.logger.Debug("SSE client connected", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("SSE write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
