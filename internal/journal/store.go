package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	_ "modernc.org/sqlite"
)

// Store journals finished sessions and holds their reconstructed streams
// in an outbox until they are published
type Store struct {
	db    *sql.DB
	topic string
}

// SessionResult is the outcome of journaling one session
type SessionResult struct {
	Duplicate bool
	Queued    int
}

// OutboxEvent represents a tick waiting to be published
type OutboxEvent struct {
	ID                  int64
	SessionID           string
	Sequence            int32
	EventID             string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// Open creates or opens the journal at path; ticks are queued for topic
func Open(path, topic string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	store := &Store{db: db, topic: topic}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_unix_millis INTEGER NOT NULL,
			finished_unix_millis INTEGER NOT NULL,
			live_count INTEGER NOT NULL,
			gaps_json TEXT NOT NULL,
			outstanding_json TEXT NOT NULL,
			recovered_count INTEGER NOT NULL,
			mismatch_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL,
			UNIQUE(session_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
			ON outbox_records(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// RecordSession stores the session summary and queues its merged stream
// atomically. Journaling the same session twice is a no-op.
func (s *Store) RecordSession(ctx context.Context, rep *session.Report) (SessionResult, error) {
	if rep.SessionID == "" {
		return SessionResult{}, fmt.Errorf("session report has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT session_id FROM sessions WHERE session_id = ?",
		rep.SessionID,
	).Scan(&existing)
	if err == nil {
		return SessionResult{Duplicate: true}, nil
	} else if err != sql.ErrNoRows {
		return SessionResult{}, fmt.Errorf("failed to check existing session: %w", err)
	}

	gapsJSON, err := json.Marshal(nonNil(rep.Gaps))
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to marshal gaps: %w", err)
	}
	outstandingJSON, err := json.Marshal(rep.Outstanding())
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to marshal outstanding gaps: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix_millis, finished_unix_millis, live_count,
			gaps_json, outstanding_json, recovered_count, mismatch_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.SessionID, rep.Started.UnixMilli(), rep.Finished.UnixMilli(), len(rep.Live),
		string(gapsJSON), string(outstandingJSON), len(rep.Recovered), len(rep.Mismatches),
	)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to insert session: %w", err)
	}

	now := time.Now().UnixMilli()
	queued := 0
	for _, entry := range rep.Merged() {
		tick := TickFromEntry(rep.SessionID, entry, now)
		payload, err := json.Marshal(tick)
		if err != nil {
			return SessionResult{}, fmt.Errorf("failed to marshal tick: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO outbox_records (session_id, sequence, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
			 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			rep.SessionID, tick.Sequence, tick.EventID, s.topic, tick.Key(), string(payload), now,
		)
		if err != nil {
			return SessionResult{}, fmt.Errorf("failed to insert outbox record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			queued++
		}
	}

	if err := tx.Commit(); err != nil {
		return SessionResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return SessionResult{Queued: queued}, nil
}

// TickFromEntry converts one reconstructed-stream entry to its wire message
func TickFromEntry(sessionID string, e session.Entry, nowMillis int64) msg.TickMsg {
	source := msg.SourceLive
	if e.Recovered {
		source = msg.SourceRecovered
	}
	return msg.TickMsg{
		EventID:      uuid.NewString(),
		SessionID:    sessionID,
		Symbol:       e.Record.Symbol.String(),
		Side:         string(e.Record.Side),
		Quantity:     e.Record.Quantity,
		Price:        e.Record.Price,
		Sequence:     e.Record.Sequence,
		Source:       source,
		TsUnixMillis: nowMillis,
	}
}

// ListUnpublished returns unpublished outbox records in sequence order
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sequence, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM outbox_records
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished records: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(
			&e.ID, &e.SessionID, &e.Sequence, &e.EventID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks a record as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_records SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark record as published: %w", err)
	}
	return nil
}

// SessionSummary is a journaled session row
type SessionSummary struct {
	SessionID   string
	LiveCount   int
	Gaps        []int32
	Outstanding []int32
	Recovered   int
	Mismatches  int
}

// GetSession loads a journaled session; ok is false when it is unknown
func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionSummary, bool, error) {
	var sum SessionSummary
	var gapsJSON, outstandingJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, live_count, gaps_json, outstanding_json, recovered_count, mismatch_count
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sum.SessionID, &sum.LiveCount, &gapsJSON, &outstandingJSON, &sum.Recovered, &sum.Mismatches)
	if err == sql.ErrNoRows {
		return SessionSummary{}, false, nil
	}
	if err != nil {
		return SessionSummary{}, false, fmt.Errorf("failed to load session: %w", err)
	}

	if err := json.Unmarshal([]byte(gapsJSON), &sum.Gaps); err != nil {
		return SessionSummary{}, false, fmt.Errorf("failed to unmarshal gaps: %w", err)
	}
	if err := json.Unmarshal([]byte(outstandingJSON), &sum.Outstanding); err != nil {
		return SessionSummary{}, false, fmt.Errorf("failed to unmarshal outstanding gaps: %w", err)
	}
	return sum, true, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nonNil(s []int32) []int32 {
	if s == nil {
		return []int32{}
	}
	return s
}
