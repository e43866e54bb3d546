package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"retrace/internal/event"
	"retrace/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	metadata   TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS events (
	session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	event_id    INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	type        TEXT NOT NULL,
	data        TEXT NOT NULL,
	duration_ms REAL,
	tags        TEXT,
	PRIMARY KEY (session_id, event_id)
);
`

// Store archives sessions in a single SQLite database. It suits long-lived
// collections of many finalized sessions where the one-file-per-session
// layout becomes unwieldy.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// Create registers a new open session. An existing row with the same id
// fails with ErrDuplicateSession.
func (s *Store) Create(ctx context.Context, sessionID string, metadata map[string]string) (*session.Session, error) {
	sess := session.New(sessionID, metadata)
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, ended_at, metadata) VALUES (?, ?, NULL, ?)`,
		sessionID, toNanos(sess.StartedAt), string(meta))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrDuplicateSession)
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get loads a session and its events, then validates the structural
// invariants the same way the file loader does.
func (s *Store) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT started_at, ended_at, metadata FROM sessions WHERE session_id = ?`, sessionID)

	var startedAt int64
	var endedAt sql.NullInt64
	var metaRaw string
	if err := row.Scan(&startedAt, &endedAt, &metaRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var metadata map[string]string
	if err := json.Unmarshal([]byte(metaRaw), &metadata); err != nil {
		return nil, &session.CorruptError{SessionID: sessionID, Reason: "invalid metadata JSON", Err: err}
	}

	sess := session.New(sessionID, metadata)
	sess.StartedAt = fromNanos(startedAt)
	if endedAt.Valid {
		t := fromNanos(endedAt.Int64)
		sess.EndedAt = &t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, timestamp, type, data, duration_ms, tags
		 FROM events WHERE session_id = ? ORDER BY event_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id         int
			ts         int64
			typ        string
			dataRaw    string
			durationMS sql.NullFloat64
			tagsRaw    sql.NullString
		)
		if err := rows.Scan(&id, &ts, &typ, &dataRaw, &durationMS, &tagsRaw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		payload, err := event.DecodePayload(event.Type(typ), json.RawMessage(dataRaw))
		if err != nil {
			return nil, &session.CorruptError{
				SessionID: sessionID,
				Reason:    fmt.Sprintf("event %d payload invalid", id),
				Err:       err,
			}
		}
		ev := event.Event{
			ID:        id,
			Timestamp: fromNanos(ts),
			Type:      event.Type(typ),
			Data:      payload,
		}
		if durationMS.Valid {
			d := durationMS.Float64
			ev.DurationMS = &d
		}
		if tagsRaw.Valid && tagsRaw.String != "" {
			if err := json.Unmarshal([]byte(tagsRaw.String), &ev.Tags); err != nil {
				return nil, &session.CorruptError{
					SessionID: sessionID,
					Reason:    fmt.Sprintf("event %d tags invalid", id),
					Err:       err,
				}
			}
		}
		sess.Events = append(sess.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the session and its full event sequence in one transaction.
// Events are append-only, so existing rows are replaced wholesale; that keeps
// Save idempotent for re-archived sessions.
func (s *Store) Save(ctx context.Context, sess *session.Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = toNanos(*sess.EndedAt)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, ended_at, metadata) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET started_at=excluded.started_at,
		   ended_at=excluded.ended_at, metadata=excluded.metadata`,
		sess.ID, toNanos(sess.StartedAt), endedAt, string(meta)); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (session_id, event_id, timestamp, type, data, duration_ms, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range sess.Timeline() {
		data, merr := json.Marshal(ev.Data)
		if merr != nil {
			return fmt.Errorf("marshal event %d: %w", ev.ID, merr)
		}
		var duration any
		if ev.DurationMS != nil {
			duration = *ev.DurationMS
		}
		var tags any
		if len(ev.Tags) > 0 {
			raw, terr := json.Marshal(ev.Tags)
			if terr != nil {
				return fmt.Errorf("marshal event %d tags: %w", ev.ID, terr)
			}
			tags = string(raw)
		}
		if _, err = stmt.ExecContext(ctx, sess.ID, ev.ID, toNanos(ev.Timestamp),
			string(ev.Type), string(data), duration, tags); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// List returns every stored session id, oldest first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions ORDER BY started_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session and its events. Deleting a missing session is a
// no-op. Event rows are cleared explicitly rather than through the FK
// cascade, which depends on the foreign_keys pragma being honored.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// the driver does not expose a typed error for them.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ session.Store = (*Store)(nil)
