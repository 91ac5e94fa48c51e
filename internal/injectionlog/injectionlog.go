// Package injectionlog records each synthetic pulse injection to a
// SQLite database, the Go-native equivalent of the original's
// rusqlite-backed db.rs.
package injectionlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/GReX-Telescope/GReX-T0/internal/injection"
)

const createTable = `CREATE TABLE IF NOT EXISTS injection (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mjd REAL NOT NULL,
	filename TEXT NOT NULL,
	sample INTEGER NOT NULL
)`

// Log is an open connection to the injection event database.
type Log struct {
	db *sql.DB
}

// Open connects to (and creates, if necessary) the SQLite database at
// path, ensuring the injection table exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("injectionlog: opening %s: %w", path, err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("injectionlog: creating table: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database connection.
func (l *Log) Close() error { return l.db.Close() }

// Insert records one injection event.
func (l *Log) Insert(rec injection.Record) error {
	_, err := l.db.Exec(
		"INSERT INTO injection (mjd, filename, sample) VALUES (?, ?, ?)",
		rec.MJD, rec.Filename, rec.Sample,
	)
	if err != nil {
		return fmt.Errorf("injectionlog: inserting record: %w", err)
	}
	return nil
}

// Run drains recordOut and persists each injection record until ctx is
// done or the channel closes, logging (but not failing the pipeline
// on) individual insert errors, since the injection log is diagnostic
// rather than load-bearing.
func Run(ctx context.Context, l *Log, recordOut <-chan injection.Record, warn func(args ...any)) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recordOut:
			if !ok {
				return
			}
			if err := l.Insert(rec); err != nil {
				warn("injection log insert failed", "error", err)
			}
		}
	}
}
