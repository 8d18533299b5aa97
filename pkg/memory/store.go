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

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/observability"
)

// Span names for memory operations.
const (
	SpanStoreResults = "memory.store_results"
	SpanBindAgent    = "memory.bind_agent_session"
)

// Options configures a Store.
type Options struct {
	// CacheSessions bounds the session row cache. Default 1024.
	CacheSessions int64

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Store reads and writes the memory tables. Session rows are cached; every
// mutation of a row evicts it.
type Store struct {
	db     *sql.DB
	cache  *ristretto.Cache
	logger *zap.Logger
	tracer observability.Tracer
	now    func() time.Time
}

// NewStore creates a store over an opened, migrated database.
func NewStore(db *sql.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.CacheSessions <= 0 {
		opts.CacheSessions = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheSessions * 10,
		MaxCost:     opts.CacheSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	return &Store{
		db:     db,
		cache:  cache,
		logger: opts.Logger,
		tracer: opts.Tracer,
		now:    time.Now,
	}, nil
}

// Close releases the cache. The database is owned by the caller.
func (s *Store) Close() {
	s.cache.Close()
}

const sessionColumns = `id, session_id, agent_session_id, project, user_prompt, status,
	prompt_counter, started_at, started_at_epoch, completed_at_epoch`

// CreateSession inserts the session row if missing and returns the current
// row. An existing row is returned unchanged.
func (s *Store) CreateSession(ctx context.Context, sessionID, project, prompt string) (*SessionRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, project, user_prompt, status, started_at, started_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, project, nullString(prompt), StatusActive, FormatEpoch(now.UnixMilli()), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// GetSession returns the session row or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if v, ok := s.cache.Get(sessionID); ok {
		rec := *v.(*SessionRecord)
		return &rec, nil
	}

	rec, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE session_id = ?", sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	cached := *rec
	s.cache.Set(sessionID, &cached, 1)
	return rec, nil
}

// FindByAgentSessionID returns the session bound to an agent session id.
func (s *Store) FindByAgentSessionID(ctx context.Context, agentSessionID string) (*SessionRecord, error) {
	rec, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE agent_session_id = ?", agentSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent session %s: %w", agentSessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

// BindAgentSessionID records the backend's session id for a session.
// It fails with ErrConflict when the id is bound to another session or equals
// the session's own id; the existing binding is left intact. Rebinding a
// session to a new id is allowed.
func (s *Store) BindAgentSessionID(ctx context.Context, sessionID, agentSessionID string) error {
	ctx, span := s.tracer.StartSpan(ctx, SpanBindAgent)
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	if agentSessionID == "" {
		return fmt.Errorf("agent session id cannot be empty")
	}
	if agentSessionID == sessionID {
		err := fmt.Errorf("agent session id equals session id %s: %w", sessionID, ErrConflict)
		span.RecordError(err)
		return err
	}

	owner, err := s.FindByAgentSessionID(ctx, agentSessionID)
	switch {
	case err == nil && owner.SessionID == sessionID:
		return nil
	case err == nil:
		err = fmt.Errorf("agent session id %s already bound to session %s: %w",
			agentSessionID, owner.SessionID, ErrConflict)
		span.RecordError(err)
		return err
	case !errors.Is(err, ErrNotFound):
		span.RecordError(err)
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET agent_session_id = ? WHERE session_id = ?", agentSessionID, sessionID)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return fmt.Errorf("agent session id %s: %w", agentSessionID, ErrConflict)
		}
		return fmt.Errorf("failed to bind agent session id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.cache.Del(sessionID)

	s.logger.Debug("agent session bound",
		zap.String("session_id", sessionID),
		zap.String("agent_session_id", agentSessionID))
	return nil
}

// SetStatus updates a session's durable status. Completing or failing a
// session also stamps completed_at_epoch.
func (s *Store) SetStatus(ctx context.Context, sessionID, status string) error {
	var completed any
	switch status {
	case StatusActive:
	case StatusCompleted, StatusFailed:
		completed = s.now().UnixMilli()
	default:
		return fmt.Errorf("invalid session status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, completed_at_epoch = ? WHERE session_id = ?",
		status, completed, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.cache.Del(sessionID)
	return nil
}

// SaveUserPrompt stores a prompt and returns its 1-based number within the session.
func (s *Store) SaveUserPrompt(ctx context.Context, sessionID, text string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET prompt_counter = prompt_counter + 1 WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump prompt counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var number int
	if err := tx.QueryRowContext(ctx,
		"SELECT prompt_counter FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&number); err != nil {
		return 0, fmt.Errorf("failed to read prompt counter: %w", err)
	}

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_prompts (session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, number, text, FormatEpoch(now), now); err != nil {
		return 0, fmt.Errorf("failed to save user prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit user prompt: %w", err)
	}
	s.cache.Del(sessionID)
	return number, nil
}

// ListUserPrompts returns a session's prompts in order.
func (s *Store) ListUserPrompts(ctx context.Context, sessionID string) ([]*UserPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, prompt_number, prompt_text, created_at, created_at_epoch
		FROM user_prompts WHERE session_id = ? ORDER BY prompt_number ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*UserPrompt
	for rows.Next() {
		var p UserPrompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PromptNumber, &p.Text, &p.CreatedAt, &p.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("failed to scan user prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

// StoreResults writes a batch's observations and optional summary in one
// transaction. IDs and timestamps are filled in on the passed records.
func (s *Store) StoreResults(ctx context.Context, r *Results) error {
	ctx, span := s.tracer.StartSpan(ctx, SpanStoreResults)
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", r.SessionID)
	span.SetAttribute("observations", len(r.Observations))

	if r.Empty() {
		return nil
	}
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = s.now().UnixMilli()
	}
	createdAt := FormatEpoch(r.CreatedAtEpoch)
	promptNumber := nullInt(r.PromptNumber)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, obs := range r.Observations {
		obs.SessionID, obs.AgentSessionID, obs.Project = r.SessionID, r.AgentSessionID, r.Project
		obs.PromptNumber = r.PromptNumber
		obs.DiscoveryTokens = r.DiscoveryTokens
		obs.CreatedAt, obs.CreatedAtEpoch = createdAt, r.CreatedAtEpoch

		res, err := tx.ExecContext(ctx, `
			INSERT INTO observations (session_id, agent_session_id, project, type, title, subtitle,
				narrative, facts, concepts, files_read, files_modified, prompt_number,
				discovery_tokens, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, obs.SessionID, nullString(obs.AgentSessionID), obs.Project, obs.Type,
			obs.Title, obs.Subtitle, obs.Narrative,
			jsonList(obs.Facts), jsonList(obs.Concepts), jsonList(obs.FilesRead), jsonList(obs.FilesModified),
			promptNumber, obs.DiscoveryTokens, obs.CreatedAt, obs.CreatedAtEpoch)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to store observation: %w", err)
		}
		obs.ID, _ = res.LastInsertId()
	}

	if sum := r.Summary; sum != nil {
		sum.SessionID, sum.AgentSessionID, sum.Project = r.SessionID, r.AgentSessionID, r.Project
		sum.PromptNumber = r.PromptNumber
		sum.DiscoveryTokens = r.DiscoveryTokens
		sum.CreatedAt, sum.CreatedAtEpoch = createdAt, r.CreatedAtEpoch

		res, err := tx.ExecContext(ctx, `
			INSERT INTO session_summaries (session_id, agent_session_id, project, request,
				investigated, learned, completed, next_steps, notes, prompt_number,
				discovery_tokens, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sum.SessionID, nullString(sum.AgentSessionID), sum.Project, sum.Request,
			sum.Investigated, sum.Learned, sum.Completed, sum.NextSteps, sum.Notes,
			promptNumber, sum.DiscoveryTokens, sum.CreatedAt, sum.CreatedAtEpoch)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to store summary: %w", err)
		}
		sum.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// ListObservations returns a session's observations oldest first.
// limit <= 0 means no limit.
func (s *Store) ListObservations(ctx context.Context, sessionID string, limit int) ([]*Observation, error) {
	query := `
		SELECT id, session_id, agent_session_id, project, type, title, subtitle, narrative,
			facts, concepts, files_read, files_modified, prompt_number, discovery_tokens,
			created_at, created_at_epoch
		FROM observations
		WHERE session_id = ?
		ORDER BY created_at_epoch ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		var (
			o                                 Observation
			agentID                           sql.NullString
			title, subtitle, narrative        sql.NullString
			facts, concepts, filesRd, filesMd string
			promptNumber                      sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &agentID, &o.Project, &o.Type, &title, &subtitle,
			&narrative, &facts, &concepts, &filesRd, &filesMd, &promptNumber, &o.DiscoveryTokens,
			&o.CreatedAt, &o.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.AgentSessionID = agentID.String
		o.Title, o.Subtitle, o.Narrative = stringPtr(title), stringPtr(subtitle), stringPtr(narrative)
		o.Facts, o.Concepts = parseList(facts), parseList(concepts)
		o.FilesRead, o.FilesModified = parseList(filesRd), parseList(filesMd)
		o.PromptNumber = int(promptNumber.Int64)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// ListSummaries returns a session's summaries oldest first.
func (s *Store) ListSummaries(ctx context.Context, sessionID string) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_session_id, project, request, investigated, learned,
			completed, next_steps, notes, prompt_number, discovery_tokens, created_at, created_at_epoch
		FROM session_summaries
		WHERE session_id = ?
		ORDER BY created_at_epoch ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var (
			sm                                    Summary
			agentID                               sql.NullString
			req, inv, learned, done, next, notes sql.NullString
			promptNumber                          sql.NullInt64
		)
		if err := rows.Scan(&sm.ID, &sm.SessionID, &agentID, &sm.Project, &req, &inv, &learned,
			&done, &next, &notes, &promptNumber, &sm.DiscoveryTokens, &sm.CreatedAt, &sm.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sm.AgentSessionID = agentID.String
		sm.Request, sm.Investigated, sm.Learned = stringPtr(req), stringPtr(inv), stringPtr(learned)
		sm.Completed, sm.NextSteps, sm.Notes = stringPtr(done), stringPtr(next), stringPtr(notes)
		sm.PromptNumber = int(promptNumber.Int64)
		out = append(out, &sm)
	}
	return out, rows.Err()
}

func scanSession(row interface{ Scan(...any) error }) (*SessionRecord, error) {
	var (
		rec       SessionRecord
		agentID   sql.NullString
		prompt    sql.NullString
		completed sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &agentID, &rec.Project, &prompt, &rec.Status,
		&rec.PromptCounter, &rec.StartedAt, &rec.StartedAtEpoch, &completed); err != nil {
		return nil, err
	}
	rec.AgentSessionID = agentID.String
	rec.UserPrompt = prompt.String
	rec.CompletedAtEpoch = completed.Int64
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
