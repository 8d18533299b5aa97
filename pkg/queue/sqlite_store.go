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

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/observability"
)

// Span names for queue operations.
const (
	SpanQueueEnqueue = "queue.enqueue"
	SpanQueueClaim   = "queue.claim"
)

const eventColumns = `id, session_id, event_type, kind, payload, cwd, prompt_number,
	last_assistant_message, enqueued_at_epoch`

// SQLiteStore is a Store backed by the pending_events table.
// All operations are safe for concurrent use.
type SQLiteStore struct {
	db     *sql.DB
	tracer observability.Tracer
	logger *zap.Logger

	// claimMu serializes claim transactions so the select and delete of one
	// claim never interleave with another claim in this process.
	claimMu sync.Mutex

	now func() time.Time
}

// NewSQLiteStore creates a queue store over an opened, migrated database.
func NewSQLiteStore(db *sql.DB, tracer observability.Tracer, logger *zap.Logger) *SQLiteStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		db:     db,
		tracer: tracer,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue persists ev.
func (s *SQLiteStore) Enqueue(ctx context.Context, ev *PendingEvent) (int64, error) {
	if ev == nil || ev.SessionID == "" {
		return 0, fmt.Errorf("session id cannot be empty")
	}
	if ev.Type == "" {
		ev.Type = TypeObservation
	}
	if ev.Type != TypeObservation && ev.Type != TypeSummarize {
		return 0, fmt.Errorf("invalid event type %q", ev.Type)
	}
	if ev.Kind == "" {
		if ev.Type == TypeSummarize {
			ev.Kind = KindSummarize
		} else {
			return 0, fmt.Errorf("event kind cannot be empty")
		}
	}
	if ev.EnqueuedAtEpoch == 0 {
		ev.EnqueuedAtEpoch = s.now().UnixMilli()
	}

	ctx, span := s.tracer.StartSpan(ctx, SpanQueueEnqueue)
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", ev.SessionID)
	span.SetAttribute("kind", ev.Kind)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_events (session_id, event_type, kind, payload, cwd, prompt_number,
			last_assistant_message, enqueued_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, string(ev.Type), ev.Kind, ev.Payload, ev.Cwd, ev.PromptNumber,
		ev.LastAssistantMessage, ev.EnqueuedAtEpoch)
	if err != nil {
		span.RecordError(err)
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("enqueue for session %s: %w", ev.SessionID, ErrUnknownSession)
		}
		return 0, fmt.Errorf("failed to enqueue event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	ev.ID = id

	s.logger.Debug("event enqueued",
		zap.String("session_id", ev.SessionID),
		zap.Int64("event_id", id),
		zap.String("kind", ev.Kind))
	return id, nil
}

// ClaimOldest selects and deletes the session's oldest event in one transaction.
func (s *SQLiteStore) ClaimOldest(ctx context.Context, sessionID string) (*PendingEvent, error) {
	ctx, span := s.tracer.StartSpan(ctx, SpanQueueClaim)
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ev, err := scanEvent(tx.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM pending_events
		WHERE session_id = ?
		ORDER BY enqueued_at_epoch ASC, id ASC
		LIMIT 1
	`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to select oldest event: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM pending_events WHERE id = ?", ev.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to delete claimed event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		// Someone else claimed it first; report empty and let the caller loop.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	span.SetAttribute("event_id", ev.ID)
	return ev, nil
}

// Count returns the number of queued events for a session.
func (s *SQLiteStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pending_events WHERE session_id = ?", sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// CountAll returns the number of queued events across all sessions.
func (s *SQLiteStore) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// SessionsWithPending lists sessions with queued work, oldest work first.
// limit <= 0 means no limit.
func (s *SQLiteStore) SessionsWithPending(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT session_id
		FROM pending_events
		GROUP BY session_id
		ORDER BY MIN(enqueued_at_epoch) ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions with pending events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Pending lists a session's queued events in claim order.
func (s *SQLiteStore) Pending(ctx context.Context, sessionID string) ([]*PendingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM pending_events
		WHERE session_id = ?
		ORDER BY enqueued_at_epoch ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []*PendingEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*PendingEvent, error) {
	var ev PendingEvent
	var eventType string
	if err := row.Scan(&ev.ID, &ev.SessionID, &eventType, &ev.Kind, &ev.Payload, &ev.Cwd,
		&ev.PromptNumber, &ev.LastAssistantMessage, &ev.EnqueuedAtEpoch); err != nil {
		return nil, err
	}
	ev.Type = EventType(eventType)
	return &ev, nil
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
