package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/envagent/internal/statedb"
)

// historyConfig writes a config pointing the history DB into a temp dir.
func historyConfig(t *testing.T) (globalOptions, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfgPath := filepath.Join(dir, "config.toml")
	body := "[history]\ndb_path = \"" + filepath.ToSlash(dbPath) + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return globalOptions{configPath: cfgPath}, dbPath
}

func seedHistory(t *testing.T, dbPath string, commands ...string) {
	t.Helper()
	db, err := statedb.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)
	for i, cmd := range commands {
		state := "COMPLETE"
		if i == len(commands)-1 {
			state = "FORCE_ABORTED"
		}
		require.NoError(t, db.RecordCommand(&statedb.CommandRow{
			Command:    cmd,
			FinalState: state,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 1500*time.Millisecond),
		}))
	}
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()
	opts, _ := historyConfig(t)
	var out, errOut strings.Builder
	code := handleHistory(opts, nil, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No commands recorded yet.\n", out.String())
}

func TestHistoryTable(t *testing.T) {
	t.Parallel()
	opts, dbPath := historyConfig(t)
	seedHistory(t, dbPath, "nvidia-smi", "pixi install", "vim notes.txt")

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--limit", "2"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	text := out.String()
	assert.Contains(t, text, "STARTED")
	assert.Contains(t, text, "vim notes.txt")
	assert.Contains(t, text, "FORCE_ABORTED")
	assert.Contains(t, text, "1.5s")
	assert.NotContains(t, text, "nvidia-smi")
	assert.Contains(t, text, "Total: 2 commands")
	assert.Contains(t, text, "All recorded: COMPLETE 2, FORCE_ABORTED 1")
}

func TestHistoryJSON(t *testing.T) {
	t.Parallel()
	opts, dbPath := historyConfig(t)
	seedHistory(t, dbPath, "ls", "pwd")

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--json"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var items []historyJSON
	require.NoError(t, json.Unmarshal([]byte(out.String()), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "pwd", items[0].Command)
	assert.Equal(t, "FORCE_ABORTED", items[0].State)
	assert.EqualValues(t, 1500, items[1].DurationMs)
}

func TestHistoryImport(t *testing.T) {
	t.Parallel()
	opts, _ := historyConfig(t)
	transcriptPath := filepath.Join(t.TempDir(), "agent_context_raw.log")
	body := "\n\n======================================================\n" +
		"SESSION START: 2025-03-14 09:26:53\n" +
		"COMMAND EXECUTED: make test\n" +
		"======================================================\n\nok\n"
	require.NoError(t, os.WriteFile(transcriptPath, []byte(body), 0o644))

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--import", transcriptPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Imported 1 commands")
	assert.Contains(t, out.String(), "make test")
	assert.Contains(t, out.String(), "IMPORTED")
}

func TestHistoryRunShowsSubmissionOrder(t *testing.T) {
	t.Parallel()
	opts, dbPath := historyConfig(t)
	seedHistory(t, dbPath, "outside the run")

	db, err := statedb.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	runID, err := db.StartRun("envagent_container", "env_agent_session", 77)
	require.NoError(t, err)
	base := time.Date(2025, 3, 15, 10, 0, 0, 0, time.Local)
	for i, cmd := range []string{"cd /work", "pixi install", "pixi run test"} {
		require.NoError(t, db.RecordCommand(&statedb.CommandRow{
			RunID:      runID,
			Command:    cmd,
			FinalState: "COMPLETE",
			StartedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, db.EndRun(runID))
	require.NoError(t, db.Close())

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--run", runID}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	text := out.String()
	assert.Contains(t, text, "Run "+runID+" on envagent_container (session env_agent_session, shell PID 77)")
	assert.NotContains(t, text, "outside the run")
	first := strings.Index(text, "cd /work")
	last := strings.Index(text, "pixi run test")
	require.True(t, first >= 0 && last >= 0)
	assert.Less(t, first, last)
	assert.Contains(t, text, "Total: 3 commands")
}

func TestHistoryUnknownRun(t *testing.T) {
	t.Parallel()
	opts, dbPath := historyConfig(t)
	seedHistory(t, dbPath, "ls")

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--run", "missing"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "run not found")
}

func TestHistoryPrune(t *testing.T) {
	t.Parallel()
	opts, dbPath := historyConfig(t)
	seedHistory(t, dbPath, "old one", "old two")

	db, err := statedb.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.RecordCommand(&statedb.CommandRow{
		Command:    "fresh",
		FinalState: "COMPLETE",
		StartedAt:  time.Now(),
	}))
	require.NoError(t, db.Close())

	var out, errOut strings.Builder
	code := handleHistory(opts, []string{"--prune", "24h"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	text := out.String()
	assert.Contains(t, text, "Pruned 2 commands older than 24h0m0s")
	assert.Contains(t, text, "fresh")
	assert.NotContains(t, text, "old one")
	assert.Contains(t, text, "All recorded: COMPLETE 1")
}
