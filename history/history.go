// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history records every session a host admitted or rejected in
// a SQLite database, for the admin socket's history listing.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hostlink/lib/sqlitepool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id INTEGER NOT NULL DEFAULT 0,
		peer          TEXT NOT NULL,
		peer_id       TEXT NOT NULL DEFAULT '',
		peer_name     TEXT NOT NULL DEFAULT '',
		kind          TEXT NOT NULL DEFAULT '',
		encrypted     INTEGER NOT NULL DEFAULT 0,
		started       INTEGER NOT NULL,
		ended         INTEGER,
		reason        TEXT NOT NULL DEFAULT '',
		rejected      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS sessions_started ON sessions (started);
`

// Record is one row of session history.
type Record struct {
	// ID is the row identifier, unique across restarts. ConnectionID
	// is the registry id, which is reseeded at every start.
	ID           int64     `cbor:"id"`
	ConnectionID int32     `cbor:"connection_id"`
	Peer         string    `cbor:"peer"`
	PeerID       string    `cbor:"peer_id,omitempty"`
	PeerName     string    `cbor:"peer_name,omitempty"`
	Kind         string    `cbor:"kind,omitempty"`
	Encrypted    bool      `cbor:"encrypted"`
	Started      time.Time `cbor:"started"`
	Ended        time.Time `cbor:"ended"`
	Reason       string    `cbor:"reason,omitempty"`
	Rejected     bool      `cbor:"rejected"`
}

// Open reports whether the session has not ended.
func (r Record) Open() bool { return !r.Rejected && r.Ended.IsZero() }

// Store is the session history database.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens or creates the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// RecordOpen inserts an admitted session and returns its row id.
func (s *Store) RecordOpen(ctx context.Context, record Record) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: record open: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO sessions (connection_id, peer, peer_id, peer_name, kind, encrypted, started)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			int64(record.ConnectionID),
			record.Peer,
			record.PeerID,
			record.PeerName,
			record.Kind,
			record.Encrypted,
			record.Started.UnixNano(),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("history: record open: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// RecordClose marks session id ended. Closing an ended or unknown
// session is a no-op.
func (s *Store) RecordClose(ctx context.Context, id int64, ended time.Time, reason string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record close: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE sessions SET ended = ?, reason = ? WHERE id = ? AND ended IS NULL",
		&sqlitex.ExecOptions{Args: []any{ended.UnixNano(), reason, id}})
	if err != nil {
		return fmt.Errorf("history: record close: %w", err)
	}
	return nil
}

// RecordRejected inserts a session that failed admission.
func (s *Store) RecordRejected(ctx context.Context, peer string, at time.Time, reason string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record rejected: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO sessions (peer, started, ended, reason, rejected)
		VALUES (?, ?, ?, ?, 1)`, &sqlitex.ExecOptions{
		Args: []any{peer, at.UnixNano(), at.UnixNano(), reason},
	})
	if err != nil {
		return fmt.Errorf("history: record rejected: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, `
		SELECT id, connection_id, peer, peer_id, peer_name, kind, encrypted,
		       started, ended, reason, rejected
		FROM sessions ORDER BY started DESC, id DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record := Record{
				ID:           stmt.ColumnInt64(0),
				ConnectionID: int32(stmt.ColumnInt64(1)),
				Peer:         stmt.ColumnText(2),
				PeerID:       stmt.ColumnText(3),
				PeerName:     stmt.ColumnText(4),
				Kind:         stmt.ColumnText(5),
				Encrypted:    stmt.ColumnBool(6),
				Started:      time.Unix(0, stmt.ColumnInt64(7)),
				Reason:       stmt.ColumnText(9),
				Rejected:     stmt.ColumnBool(10),
			}
			if stmt.ColumnType(8) != sqlite.TypeNull {
				record.Ended = time.Unix(0, stmt.ColumnInt64(8))
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return records, nil
}
