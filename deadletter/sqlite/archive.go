// Package sqlite keeps a queryable deadletter archive in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/deadletter"
)

const schema = `
CREATE TABLE IF NOT EXISTS deadletters (
	id         TEXT PRIMARY KEY,
	partition  TEXT NOT NULL,
	seqid      INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	kbid       TEXT NOT NULL,
	uuid       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deadletters_kbid ON deadletters(kbid);
`

// Entry is an archived message.
type Entry struct {
	ID        string
	Partition string
	SeqID     int64
	Seq       int
	KBID      string
	UUID      string
	Created   time.Time
	Message   *core.BrokerMessage
}

// Archive is a deadletter.Sink stored in SQLite.
type Archive struct {
	db   *sql.DB
	path string
}

var _ deadletter.Sink = (*Archive)(nil)

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Archive{db: db, path: path}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// Deadletter archives msg. Archiving the same message twice at the same
// position keeps the first copy.
func (a *Archive) Deadletter(ctx context.Context, msg *core.BrokerMessage, seq int, seqid int64, partition string) error {
	payload, err := deadletter.Encode(msg)
	if err != nil {
		return err
	}
	id := core.ContentDigest(fmt.Appendf(payload, "|%s|%d|%d", partition, seqid, seq))
	_, err = a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deadletters (id, partition, seqid, seq, kbid, uuid, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, partition, seqid, seq, msg.KBID, msg.UUID, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting deadletter: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 returns all.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, partition, seqid, seq, kbid, uuid, payload, created_at
		FROM deadletters ORDER BY created_at DESC, seqid DESC, seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deadletters: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Partition, &e.SeqID, &e.Seq, &e.KBID, &e.UUID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning deadletter: %w", err)
		}
		e.Created = time.UnixMilli(created)
		if e.Message, err = deadletter.Decode(payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of archived entries.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deadletters").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting deadletters: %w", err)
	}
	return n, nil
}
