// Package statedb persists command history in SQLite: one row per
// envagent run and one row per command it executed.
package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/envagent/internal/logging"
)

var historyLog = logging.ForComponent(logging.CompHistory)

// ErrRunNotFound is returned by LoadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for run and command history.
// Safe for concurrent use; multiple processes can share the file via WAL
// mode + busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// RunRow is one `envagent run` invocation.
type RunRow struct {
	ID        string
	Container string
	Session   string
	PanePID   int
	StartedAt time.Time
	EndedAt   time.Time // zero while the run is live
}

// CommandRow is one executed command.
type CommandRow struct {
	ID            string
	RunID         string
	Command       string
	FinalState    string
	PromptRetries int
	BusyPolls     int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration is FinishedAt - StartedAt.
func (c *CommandRow) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// PRAGMAs are per connection; a single connection keeps them in force
	// and serializes writers within this process.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "wal mode"},
		{"PRAGMA busy_timeout=5000", "busy timeout"},
		{"PRAGMA foreign_keys=ON", "foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", p.what, err)
		}
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			container   TEXT NOT NULL DEFAULT '',
			session     TEXT NOT NULL DEFAULT '',
			pane_pid    INTEGER NOT NULL DEFAULT 0,
			owner_pid   INTEGER NOT NULL DEFAULT 0,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create runs: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id             TEXT PRIMARY KEY,
			run_id         TEXT NOT NULL DEFAULT '',
			command        TEXT NOT NULL,
			final_state    TEXT NOT NULL,
			prompt_retries INTEGER NOT NULL DEFAULT 0,
			busy_polls     INTEGER NOT NULL DEFAULT 0,
			started_at     INTEGER NOT NULL,
			finished_at    INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create commands: %w", err)
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_started ON commands(started_at)`); err != nil {
		return fmt.Errorf("statedb: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Runs ---

// StartRun inserts a live run row and returns its id.
func (s *StateDB) StartRun(container, session string, panePID int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO runs (id, container, session, pane_pid, owner_pid, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, container, session, panePID, s.pid, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("statedb: start run: %w", err)
	}
	historyLog.Debug("run_started", slog.String("run_id", id), slog.Int("pane_pid", panePID))
	return id, nil
}

// EndRun stamps the run's end time.
func (s *StateDB) EndRun(id string) error {
	_, err := s.db.Exec("UPDATE runs SET ended_at = ? WHERE id = ?", time.Now().UnixMilli(), id)
	return err
}

// LoadRun returns one run by id.
func (s *StateDB) LoadRun(id string) (*RunRow, error) {
	r := &RunRow{}
	var started, ended int64
	err := s.db.QueryRow(`
		SELECT id, container, session, pane_pid, started_at, ended_at FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Container, &r.Session, &r.PanePID, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("statedb: %w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: load run: %w", err)
	}
	r.StartedAt = fromMillis(started)
	r.EndedAt = fromMillis(ended)
	return r, nil
}

// --- Commands ---

// RecordCommand inserts a finished command. An empty ID gets a fresh uuid.
func (s *StateDB) RecordCommand(c *CommandRow) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Command == "" {
		return errors.New("statedb: empty command")
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO commands (
			id, run_id, command, final_state, prompt_retries, busy_polls,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.RunID, c.Command, c.FinalState, c.PromptRetries, c.BusyPolls,
		c.StartedAt.UnixMilli(), toMillis(c.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("statedb: record command: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit commands, newest first. limit <= 0
// returns all.
func (s *StateDB) RecentCommands(limit int) ([]*CommandRow, error) {
	query := `
		SELECT id, run_id, command, final_state, prompt_retries, busy_polls,
			started_at, finished_at
		FROM commands ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryCommands(query, args...)
}

// CommandsForRun returns a run's commands in submission order.
func (s *StateDB) CommandsForRun(runID string) ([]*CommandRow, error) {
	return s.queryCommands(`
		SELECT id, run_id, command, final_state, prompt_retries, busy_polls,
			started_at, finished_at
		FROM commands WHERE run_id = ? ORDER BY started_at, rowid
	`, runID)
}

// CountByState returns command counts keyed by final state.
func (s *StateDB) CountByState() (map[string]int, error) {
	rows, err := s.db.Query("SELECT final_state, COUNT(*) FROM commands GROUP BY final_state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// PruneBefore deletes commands started before cutoff and returns how many
// were removed.
func (s *StateDB) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM commands WHERE started_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *StateDB) queryCommands(query string, args ...any) ([]*CommandRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*CommandRow
	for rows.Next() {
		c := &CommandRow{}
		var started, finished int64
		if err := rows.Scan(
			&c.ID, &c.RunID, &c.Command, &c.FinalState, &c.PromptRetries, &c.BusyPolls,
			&started, &finished,
		); err != nil {
			return nil, err
		}
		c.StartedAt = fromMillis(started)
		c.FinishedAt = fromMillis(finished)
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- Metadata ---

// SetMeta sets a metadata key-value pair.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta returns a metadata value, or "" if the key is absent.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
