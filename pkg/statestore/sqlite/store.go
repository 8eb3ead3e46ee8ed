// Package sqlite persists the supervisor's audit log to a SQLite file,
// trimmed to a bounded ring buffer. Unlike the teacher's layout store this
// talks to the database directly through database/sql: the teacher's sqlc
// querier type was never present to retrieve, so the query layer here is
// hand-written instead of generated.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/statestore/sqlite/migrations"
	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

// Store is a supervisor.AuditLog backed by SQLite.
type Store struct {
	mu               sync.Mutex
	db               *sql.DB
	logger           *zap.SugaredLogger
	maxRows          int
	insertsSinceTrim int
}

// DefaultMaxRows bounds the audit log to a reasonable size for a
// long-running daemon without operator-configured rotation.
const DefaultMaxRows = 10000

// trimEvery caps how often Append pays for the ORDER BY id DESC LIMIT
// trim query: every insert would sort up to maxRows rows on the hot
// append path for no benefit, since overshooting the cap by a few dozen
// rows between trims is harmless for a diagnostic ring buffer.
const trimEvery = 32

// Open creates or migrates the database at filename and returns a Store
// trimmed back to maxRows entries (DefaultMaxRows if maxRows <= 0) every
// trimEvery appends; between trims the table can hold up to trimEvery-1
// rows more than maxRows.
func Open(filename string, maxRows int, logger *zap.SugaredLogger) (*Store, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrations.Migrate(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger, maxRows: maxRows}, nil
}

// Append inserts one audit row and, on every trimEvery-th insert,
// best-effort trims the table down to maxRows. The insert runs
// synchronously on the caller's goroutine. A failure here is logged, never
// propagated: the audit log is diagnostic, not load-bearing for correctness.
func (s *Store) Append(entry supervisor.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vks, err := json.Marshal(entry.Vks)
	if err != nil {
		s.logger.Warnw("audit log: marshal vks failed", "error", err)
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO audit_log (layer, vks, source, paused) VALUES (?, ?, ?, ?)`,
		entry.Layer, string(vks), entry.Source, entry.Paused,
	)
	if err != nil {
		s.logger.Warnw("audit log: insert failed", "error", err)
		return
	}

	s.insertsSinceTrim++
	if s.insertsSinceTrim < trimEvery {
		return
	}
	s.insertsSinceTrim = 0

	if _, err := s.db.Exec(
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)`,
		s.maxRows,
	); err != nil {
		s.logger.Warnw("audit log: trim failed", "error", err)
	}
}

// Recent returns up to limit of the most recently appended entries,
// newest first.
func (s *Store) Recent(limit int) ([]supervisor.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT layer, vks, source, paused FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []supervisor.AuditEntry
	for rows.Next() {
		var (
			e       supervisor.AuditEntry
			vksJSON string
		)
		if err := rows.Scan(&e.Layer, &vksJSON, &e.Source, &e.Paused); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal([]byte(vksJSON), &e.Vks); err != nil {
			return nil, fmt.Errorf("unmarshal vks: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
