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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/queue"
	"github.com/teradata-labs/recall/pkg/session"
)

type initRequest struct {
	SessionID string `json:"sessionId"`
	Project   string `json:"project"`
	Prompt    string `json:"prompt"`
}

type initResponse struct {
	SessionDBID  int64 `json:"sessionDbId"`
	PromptNumber int   `json:"promptNumber"`
	Skipped      bool  `json:"skipped"`
}

type observationRequest struct {
	SessionID    string          `json:"sessionId"`
	ToolName     string          `json:"toolName"`
	ToolInput    json.RawMessage `json:"toolInput"`
	ToolResponse json.RawMessage `json:"toolResponse"`
	Cwd          string          `json:"cwd"`
	PromptNumber int             `json:"promptNumber"`
}

type observationResponse struct {
	EventID int64 `json:"eventId"`
	Skipped bool  `json:"skipped"`
}

type summarizeRequest struct {
	SessionID            string `json:"sessionId"`
	LastAssistantMessage string `json:"lastAssistantMessage"`
}

type completeRequest struct {
	SessionID string `json:"sessionId"`
}

type statusResponse struct {
	events.ProcessingStatus
	Sessions  []session.Snapshot `json:"sessions"`
	Providers []string           `json:"providers,omitempty"`
	Uptime    string             `json:"uptime"`
}

type sessionMemoryResponse struct {
	Session      *memory.SessionRecord `json:"session"`
	Observations []*memory.Observation `json:"observations"`
	Summaries    []*memory.Summary     `json:"summaries"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"activeSessions": h.cfg.Registry.ActiveCount(),
		"subscribers":    h.cfg.Broadcaster.SubscriberCount(),
	})
}

func (h *HTTPServer) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.badRequest(w, "sessionId is required")
		return
	}

	_, n, err := h.cfg.Registry.SubmitPrompt(r.Context(), req.SessionID, req.Project, req.Prompt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.cfg.Memory.GetSession(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, initResponse{
		SessionDBID:  rec.ID,
		PromptNumber: n,
		Skipped:      session.IsPrivateOnly(req.Prompt),
	})
}

func (h *HTTPServer) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		h.badRequest(w, "sessionId and toolName are required")
		return
	}

	payload, err := queue.EncodeToolPayload(req.ToolInput, req.ToolResponse)
	if err != nil {
		h.badRequest(w, "invalid tool payload: "+err.Error())
		return
	}
	id, err := h.cfg.Registry.Enqueue(r.Context(), req.SessionID, &queue.PendingEvent{
		Type:         queue.TypeObservation,
		Kind:         req.ToolName,
		Payload:      payload,
		Cwd:          req.Cwd,
		PromptNumber: req.PromptNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, observationResponse{EventID: id, Skipped: id == 0})
}

func (h *HTTPServer) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.badRequest(w, "sessionId is required")
		return
	}
	if err := h.cfg.Registry.RequestSummary(r.Context(), req.SessionID, req.LastAssistantMessage); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.badRequest(w, "sessionId is required")
		return
	}
	// Completion outlives a client that hangs up mid-drain.
	ctx := context.WithoutCancel(r.Context())
	if err := h.cfg.Registry.Complete(ctx, req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.badRequest(w, "session id is required")
		return
	}
	// The loop stops even if the client hangs up while waiting.
	if err := h.cfg.Registry.Cancel(context.WithoutCancel(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *HTTPServer) handleListObservations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rec, err := h.cfg.Memory.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	obs, err := h.cfg.Memory.ListObservations(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sums, err := h.cfg.Memory.ListSummaries(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if obs == nil {
		obs = []*memory.Observation{}
	}
	if sums == nil {
		sums = []*memory.Summary{}
	}
	writeJSON(w, http.StatusOK, sessionMemoryResponse{Session: rec, Observations: obs, Summaries: sums})
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.cfg.Registry.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ProcessingStatus: st,
		Sessions:         h.cfg.Registry.Snapshot(),
		Providers:        h.cfg.Providers,
		Uptime:           time.Since(h.started).Round(time.Second).String(),
	})
}

// decode reads a JSON body, answering 400 itself on failure.
func (h *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody("content type must be application/json"))
		return false
	}
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
			return false
		}
		h.badRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (h *HTTPServer) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody(msg))
}

// writeError maps sentinels to status codes.
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, memory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrRegistryClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the reply.
		return
	}
	if status >= 500 {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
