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
package session

import "context"

// sessionIDKey is the context key for session IDs
type sessionIDKey struct{}

// agentSessionIDKey is the context key for backend conversation IDs
type agentSessionIDKey struct{}

// WithSessionID injects a session ID into the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext extracts the session ID from the context
// Returns empty string if not found
func SessionIDFromContext(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return sessionID
	}
	return ""
}

// WithAgentSessionID injects the backend conversation ID into the context
func WithAgentSessionID(ctx context.Context, agentSessionID string) context.Context {
	if agentSessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, agentSessionIDKey{}, agentSessionID)
}

// AgentSessionIDFromContext extracts the backend conversation ID from the context
func AgentSessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(agentSessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
