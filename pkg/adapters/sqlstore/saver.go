// Package sqlstore persists checkpoints in a SQL database.
// SQLite (modernc.org/sqlite, pure Go) and PostgreSQL (lib/pq) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Saver implements ports.CheckpointSaver on database/sql.
type Saver struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(path string) (*Saver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return New(db, SQLite)
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN.
func OpenPostgres(dsn string) (*Saver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return New(db, Postgres)
}

// New wraps an open database and runs the schema migration.
func New(db *sql.DB, dialect Dialect) (*Saver, error) {
	s := &Saver{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Saver) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		source TEXT NOT NULL,
		next_node TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (thread_id, step)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, step);
	`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Saver) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Put inserts the checkpoint.
func (s *Saver) Put(ctx context.Context, cp *domain.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO checkpoints (id, thread_id, step, source, next_node, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		cp.ID, cp.ThreadID, cp.Step, string(cp.Source), cp.Next, string(body), cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the checkpoint with the highest step.
func (s *Saver) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT body FROM checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`), threadID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return decode(body)
}

// History returns checkpoints ordered by step.
func (s *Saver) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT body FROM checkpoints WHERE thread_id = ? ORDER BY step ASC`), threadID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Checkpoint
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrThreadNotFound
	}
	return out, nil
}

// Delete removes every checkpoint of the thread.
func (s *Saver) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM checkpoints WHERE thread_id = ?`), threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// List returns distinct thread IDs.
func (s *Saver) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM checkpoints ORDER BY thread_id`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

// Close closes the database.
func (s *Saver) Close() error {
	return s.db.Close()
}

func decode(body string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
