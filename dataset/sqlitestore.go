package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	time_unix_nano INTEGER NOT NULL,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	label INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	pix BLOB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore stores sessions in a SQLite database, one transaction per
// session.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)
var _ Lister = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (store *SQLiteStore, rerr error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %v", path, err)
	}
	defer func() {
		if rerr != nil {
			db.Close()
		}
	}()
	// One writer at a time, sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("configuring database: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating schema: %v", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Flush stores the session. Storing a session with an id that was stored
// before replaces it.
func (s *SQLiteStore) Flush(ctx context.Context, sess Session) (rerr error) {
	if err := checkSession(sess); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %v", err)
	}
	defer func() {
		if rerr != nil {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM samples WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("removing old samples: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO sessions (id, time_unix_nano, name) VALUES (?, ?, ?)", sess.ID, sess.Time.UnixNano(), SessionName(sess.Time)); err != nil {
		return fmt.Errorf("inserting session: %v", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO samples (session_id, seq, label, width, height, pix) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing sample insert: %v", err)
	}
	defer stmt.Close()
	for i, smp := range sess.Samples {
		b := smp.Image.Bounds()
		if _, err := stmt.ExecContext(ctx, sess.ID, i, int(smp.Label), b.Dx(), b.Dy(), packPixels(smp.Image)); err != nil {
			return fmt.Errorf("inserting sample %d: %v", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session: %v", err)
	}
	return nil
}

// Sessions lists the stored sessions, oldest first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.time_unix_nano, s.name, smp.label, COUNT(smp.seq)
		FROM sessions s LEFT JOIN samples smp ON smp.session_id = s.id
		GROUP BY s.id, smp.label
		ORDER BY s.time_unix_nano, s.id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %v", err)
	}
	defer rows.Close()

	var l []SessionInfo
	for rows.Next() {
		var id, name string
		var t int64
		var label sql.NullInt64
		var n int
		if err := rows.Scan(&id, &t, &name, &label, &n); err != nil {
			return nil, fmt.Errorf("reading session row: %v", err)
		}
		if len(l) == 0 || l[len(l)-1].ID != id {
			l = append(l, SessionInfo{ID: id, Name: name, Time: time.Unix(0, t)})
		}
		if label.Valid && rccar.Label(label.Int64).Valid() {
			l[len(l)-1].Counts[label.Int64] = n
		}
	}
	return l, rows.Err()
}

// LoadSession reads the session with the id.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (Session, error) {
	var t int64
	err := s.db.QueryRowContext(ctx, "SELECT time_unix_nano FROM sessions WHERE id = ?", id).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q not found", id)
	} else if err != nil {
		return Session{}, fmt.Errorf("reading session: %v", err)
	}
	sess := Session{ID: id, Time: time.Unix(0, t)}

	rows, err := s.db.QueryContext(ctx, "SELECT label, width, height, pix FROM samples WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return Session{}, fmt.Errorf("reading samples: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label, width, height int
		var pix []byte
		if err := rows.Scan(&label, &width, &height, &pix); err != nil {
			return Session{}, fmt.Errorf("reading sample row: %v", err)
		}
		img, err := unpackPixels(width, height, pix)
		if err != nil {
			return Session{}, err
		}
		sess.Samples = append(sess.Samples, Sample{Image: img, Label: rccar.Label(label)})
	}
	return sess, rows.Err()
}
