package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateSession is returned when a session id has already been stored.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrSessionNotFound is returned when a session id is not in the store.
	ErrSessionNotFound = errors.New("session not found")
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		instrument_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		created_at REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS note_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		note_string TEXT NOT NULL,
		mean_cents REAL NOT NULL,
		count INTEGER NOT NULL CHECK (count >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_note_samples_session ON note_samples(session_id);
	CREATE INDEX IF NOT EXISTS idx_note_samples_note ON note_samples(note_string);
	CREATE INDEX IF NOT EXISTS idx_sessions_instrument ON sessions(instrument_id);
`

// Store persists sessions and note samples in SQLite.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, _ = os.UserHomeDir()
	}
	return filepath.Join(dir, "PitchTend", "pitchtend.sqlite")
}

// Open opens (creating if needed) the database at path and applies the schema.
// Writes take the lock at BEGIN so concurrent submitters queue on busy_timeout
// instead of failing on lock upgrade.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Submit writes a session and all of its note samples in one transaction.
// Either every row is committed or none is. A session id that already exists
// yields ErrDuplicateSession and leaves the stored session untouched.
func (s *Store) Submit(ctx context.Context, sess Session, notes []NoteSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback()

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, instrument_id, instrument, created_at)
		VALUES (?, ?, ?, ?)
	`, sess.ID, sess.InstrumentID, sess.Instrument, unixFromTime(createdAt)); err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert session: %w", err)
	}

	if len(notes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO note_samples (session_id, note_string, mean_cents, count)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare note insert: %w", err)
		}
		defer stmt.Close()

		for _, n := range notes {
			if _, err := stmt.ExecContext(ctx, sess.ID, n.NoteString, n.MeanCents, n.Count); err != nil {
				return fmt.Errorf("insert note %q: %w", n.NoteString, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

// NoteRecords returns every stored note sample joined with its session's
// instrument id, restricted by filter. The result set is read in full before
// returning.
func (s *Store) NoteRecords(ctx context.Context, filter InstrumentFilter) ([]NoteRecord, error) {
	query := `
		SELECT n.session_id, s.instrument_id, n.note_string, n.mean_cents, n.count
		FROM note_samples n
		JOIN sessions s ON s.session_id = n.session_id
	`
	var args []any
	if id, ok := filter.ID(); ok {
		query += ` WHERE s.instrument_id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY s.instrument_id ASC, n.note_string ASC, n.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query note records: %w", err)
	}
	defer rows.Close()

	var records []NoteRecord
	for rows.Next() {
		var r NoteRecord
		if err := rows.Scan(&r.SessionID, &r.InstrumentID, &r.NoteString, &r.MeanCents, &r.Count); err != nil {
			return nil, fmt.Errorf("scan note record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Session returns the session with the given id, or nil if it does not exist.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, instrument_id, instrument, created_at
		FROM sessions
		WHERE session_id = ?
	`, id)

	var sess Session
	var createdAt float64
	if err := row.Scan(&sess.ID, &sess.InstrumentID, &sess.Instrument, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = timeFromUnix(createdAt)

	return &sess, nil
}

// NotesForSession returns all note samples of a session in insertion order.
func (s *Store) NotesForSession(ctx context.Context, sessionID string) ([]NoteSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, note_string, mean_cents, count
		FROM note_samples
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []NoteSample
	for rows.Next() {
		var n NoteSample
		if err := rows.Scan(&n.ID, &n.SessionID, &n.NoteString, &n.MeanCents, &n.Count); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Instruments returns every instrument id with at least one session, ordered
// by id. Name is taken from the most recent session for that instrument.
func (s *Store) Instruments(ctx context.Context) ([]Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.instrument_id,
			(SELECT l.instrument FROM sessions l
			 WHERE l.instrument_id = s.instrument_id
			 ORDER BY l.created_at DESC, l.session_id DESC LIMIT 1),
			COUNT(*)
		FROM sessions s
		GROUP BY s.instrument_id
		ORDER BY s.instrument_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.ID, &in.Name, &in.Sessions); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		instruments = append(instruments, in)
	}
	return instruments, rows.Err()
}

// DeleteSession removes a session. Its note samples are removed by cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func isConstraint(err error, codes ...int) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Code() == c {
			return true
		}
	}
	return false
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
