package statedb

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/envagent/internal/transcript"
)

// ImportedState is the final_state of commands recovered from a transcript.
const ImportedState = "IMPORTED"

// ImportTranscript backfills the commands table from an existing transcript
// file (raw or clean). Transcripts predate the database, so this lets
// `envagent history` cover them. A file is imported at most once; the
// second call returns 0.
func ImportTranscript(path string, db *StateDB) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", path, err)
	}
	key := "transcript_imported:" + abs
	if done, err := db.GetMeta(key); err != nil {
		return 0, err
	} else if done != "" {
		return 0, nil
	}

	headers, err := transcript.ReadHeaders(abs)
	if err != nil {
		return 0, err
	}

	tx, err := db.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO commands (id, run_id, command, final_state, started_at, finished_at)
		VALUES (?, '', ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, h := range headers {
		ms := h.Time.UnixMilli()
		if _, err := stmt.Exec(uuid.NewString(), h.Command, ImportedState, ms, ms); err != nil {
			return 0, fmt.Errorf("import %q: %w", h.Command, err)
		}
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, time.Now().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(headers), nil
}
