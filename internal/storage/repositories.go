package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

// Session is one CLI invocation that talked to the API.
type Session struct {
	ID        string
	StartedAt time.Time
}

// SessionSummary is a session with its call and outstanding object counts.
type SessionSummary struct {
	Session
	Calls       int
	Outstanding int
}

// OutstandingGroup lists the undeleted objects of one session.
type OutstandingGroup struct {
	SessionID string
	StartedAt time.Time
	Refs      []remote.ObjectRef
}

// BeginSession creates a new session row.
func (s *Store) BeginSession(ctx context.Context) (Session, error) {
	sess := Session{ID: uuid.New().String(), StartedAt: s.now()}
	_, err := s.exec(ctx, `INSERT INTO sessions (id, started_at) VALUES (?, ?)`, sess.ID, sess.StartedAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.queryRow(ctx, `SELECT id, started_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, `
		SELECT s.id, s.started_at,
			(SELECT COUNT(*) FROM calls c WHERE c.session_id = s.id),
			(SELECT COUNT(*) FROM objects o WHERE o.session_id = s.id AND o.deleted_at IS NULL)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &sum.Calls, &sum.Outstanding); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordCall stores one ledger record at position seq of the session.
func (s *Store) RecordCall(ctx context.Context, sessionID string, seq int, rec ledger.CallRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	_, err := s.exec(ctx, `
		INSERT INTO calls (id, session_id, run, seq, endpoint, method, verb, phase,
			request, response, error, error_kind, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID.String(), sessionID, int64(rec.Run), seq, rec.Endpoint, rec.Method,
		string(rec.Verb), string(rec.Phase), nullJSON(rec.Request), nullJSON(rec.Response),
		rec.Error, rec.ErrorKind, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// ListCalls returns a session's records in ledger order.
func (s *Store) ListCalls(ctx context.Context, sessionID string) ([]ledger.CallRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, run, endpoint, method, verb, phase, request, response, error, error_kind, occurred_at
		FROM calls
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []ledger.CallRecord
	for rows.Next() {
		var (
			rec      ledger.CallRecord
			id       string
			run      int64
			verb     string
			phase    string
			request  sql.NullString
			response sql.NullString
		)
		if err := rows.Scan(&id, &run, &rec.Endpoint, &rec.Method, &verb, &phase,
			&request, &response, &rec.Error, &rec.ErrorKind, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		if parsed, err := uuid.Parse(id); err == nil {
			rec.ID = parsed
		}
		rec.Run = uint64(run)
		rec.Verb = ledger.Verb(verb)
		rec.Phase = ledger.Phase(phase)
		if request.Valid {
			rec.Request = json.RawMessage(request.String)
		}
		if response.Valid {
			rec.Response = json.RawMessage(response.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Track records a created object against the session.
func (s *Store) Track(ctx context.Context, sessionID string, ref remote.ObjectRef) error {
	_, err := s.exec(ctx, `
		INSERT INTO objects (name, session_id, purpose, created_at)
		VALUES (?, ?, ?, ?)
	`, ref.String(), sessionID, string(ref.Purpose()), s.now())
	if err != nil {
		return fmt.Errorf("track object: %w", err)
	}
	return nil
}

// Forget marks an object deleted. Unknown or already deleted names are ignored.
func (s *Store) Forget(ctx context.Context, ref remote.ObjectRef) error {
	_, err := s.exec(ctx, `UPDATE objects SET deleted_at = ? WHERE name = ? AND deleted_at IS NULL`,
		s.now(), ref.String())
	if err != nil {
		return fmt.Errorf("forget object: %w", err)
	}
	return nil
}

// Outstanding groups objects that were never deleted by session, oldest session first.
func (s *Store) Outstanding(ctx context.Context) ([]OutstandingGroup, error) {
	rows, err := s.query(ctx, `
		SELECT o.session_id, s.started_at, o.name
		FROM objects o
		JOIN sessions s ON s.id = o.session_id
		WHERE o.deleted_at IS NULL
		ORDER BY s.started_at, o.session_id, o.created_at, o.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list outstanding: %w", err)
	}
	defer rows.Close()

	var out []OutstandingGroup
	for rows.Next() {
		var (
			sessionID string
			started   time.Time
			name      string
		)
		if err := rows.Scan(&sessionID, &started, &name); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].SessionID != sessionID {
			out = append(out, OutstandingGroup{SessionID: sessionID, StartedAt: started})
		}
		last := &out[len(out)-1]
		last.Refs = append(last.Refs, remote.ObjectRef(name))
	}
	return out, rows.Err()
}

// SessionLog binds the store to one session. It is both a ledger.Sink and
// the flow's object registry.
type SessionLog struct {
	store *Store
	id    string
	seq   atomic.Int64
}

// LedgerSink returns a SessionLog for sessionID.
func (s *Store) LedgerSink(sessionID string) *SessionLog {
	return &SessionLog{store: s, id: sessionID}
}

// SessionID returns the bound session.
func (l *SessionLog) SessionID() string {
	return l.id
}

// Record implements ledger.Sink.
func (l *SessionLog) Record(ctx context.Context, rec ledger.CallRecord) error {
	return l.store.RecordCall(ctx, l.id, int(l.seq.Add(1)), rec)
}

// Track records ref as created in this session.
func (l *SessionLog) Track(ctx context.Context, ref remote.ObjectRef) error {
	return l.store.Track(ctx, l.id, ref)
}

// Forget marks ref deleted.
func (l *SessionLog) Forget(ctx context.Context, ref remote.ObjectRef) error {
	return l.store.Forget(ctx, ref)
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
