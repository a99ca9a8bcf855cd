// Package history persists a journal of conversion runs. The journal is an
// audit trail only; orchestration never depends on it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Run is one journal entry, written once per terminal outcome.
type Run struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Succeeded   bool      `json:"succeeded"`
	Category    string    `json:"category,omitempty"`
	Attempts    int       `json:"attempts"`
	OutputCount int       `json:"output_count"`
	DurationMs  int64     `json:"duration_ms"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps the journal database. Driver is sqlite3 or postgres.
type Store struct {
	db     *sql.DB
	driver string
}

const schema = `
CREATE TABLE IF NOT EXISTS conversion_runs (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	succeeded    BOOLEAN NOT NULL,
	category     TEXT,
	attempts     INTEGER NOT NULL,
	output_count INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL,
	message      TEXT,
	created_at   TIMESTAMP NOT NULL
)`

// Open opens the journal database and ensures the schema exists.
func Open(driver, dsn string) (*Store, error) {
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported history driver: %s", driver)
	}

	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one run into the journal.
func (s *Store) Record(ctx context.Context, run Run) error {
	query := s.rebind(`INSERT INTO conversion_runs
		(id, filename, succeeded, category, attempts, output_count, duration_ms, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Filename, run.Succeeded, run.Category,
		run.Attempts, run.OutputCount, run.DurationMs, run.Message, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.rebind(`SELECT id, filename, succeeded, category, attempts,
		output_count, duration_ms, message, created_at
		FROM conversion_runs ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var category, message sql.NullString
		if err := rows.Scan(&run.ID, &run.Filename, &run.Succeeded, &category,
			&run.Attempts, &run.OutputCount, &run.DurationMs, &message, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Category = category.String
		run.Message = message.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// rebind converts ? placeholders to the postgres $n form when needed.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
