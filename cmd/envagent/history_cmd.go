package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/asheshgoplani/envagent/internal/config"
	"github.com/asheshgoplani/envagent/internal/statedb"
)

// Table column widths for history output
const (
	tableColWhen    = 19
	tableColState   = 13
	tableColElapsed = 9
	tableColCommand = 60
)

type historyJSON struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id,omitempty"`
	Command       string    `json:"command"`
	State         string    `json:"state"`
	PromptRetries int       `json:"prompt_retries"`
	BusyPolls     int       `json:"busy_polls"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	DurationMs    int64     `json:"duration_ms"`
}

// handleHistory lists recently executed commands.
func handleHistory(opts globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "Maximum number of commands to show (0 for all)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	importPath := fs.String("import", "", "Backfill history from an existing transcript file")
	runID := fs.String("run", "", "Show every command of one run, in submission order")
	prune := fs.Duration("prune", 0, "Delete commands older than this (e.g. 720h) before listing")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: envagent history [options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Show recently executed commands, newest first.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return 2
	}

	out := NewCLIOutput(stdout, stderr, *jsonOutput)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		out.Error(err.Error())
		return 1
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		out.Error(err.Error())
		return 1
	}

	if *importPath == "" && *prune == 0 {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			out.Print("No commands recorded yet.\n", []historyJSON{})
			return 0
		}
	}

	db, err := openHistory(cfg)
	if err != nil {
		out.Error(fmt.Sprintf("failed to open history: %v", err))
		return 1
	}
	defer db.Close()

	if *importPath != "" {
		n, err := statedb.ImportTranscript(*importPath, db)
		if err != nil {
			out.Error(fmt.Sprintf("import failed: %v", err))
			return 1
		}
		out.Success(fmt.Sprintf("Imported %d commands from %s", n, *importPath))
	}

	if *prune > 0 {
		n, err := db.PruneBefore(time.Now().Add(-*prune))
		if err != nil {
			out.Error(fmt.Sprintf("prune failed: %v", err))
			return 1
		}
		out.Success(fmt.Sprintf("Pruned %d commands older than %s", n, *prune))
	}

	var rows []*statedb.CommandRow
	if *runID != "" {
		run, err := db.LoadRun(*runID)
		if err != nil {
			out.Error(err.Error())
			return 1
		}
		out.Info(describeRun(run))
		rows, err = db.CommandsForRun(run.ID)
		if err != nil {
			out.Error(fmt.Sprintf("failed to load run commands: %v", err))
			return 1
		}
	} else {
		rows, err = db.RecentCommands(*limit)
		if err != nil {
			out.Error(fmt.Sprintf("failed to load history: %v", err))
			return 1
		}
	}

	counts, err := db.CountByState()
	if err != nil {
		out.Error(fmt.Sprintf("failed to count history: %v", err))
		return 1
	}

	out.Print(renderHistoryTable(rows, counts), historyToJSON(rows))
	return 0
}

func describeRun(run *statedb.RunRow) string {
	ended := "still running"
	if !run.EndedAt.IsZero() {
		ended = "ended " + run.EndedAt.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("Run %s on %s (session %s, shell PID %d), started %s, %s",
		run.ID, run.Container, run.Session, run.PanePID,
		run.StartedAt.Format("2006-01-02 15:04:05"), ended)
}

// summarizeStates renders per-state totals across the whole database, e.g.
// "COMPLETE 12, FORCE_ABORTED 1".
func summarizeStates(counts map[string]int) string {
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)
	parts := make([]string, len(states))
	for i, state := range states {
		parts[i] = fmt.Sprintf("%s %d", state, counts[state])
	}
	return strings.Join(parts, ", ")
}

func historyToJSON(rows []*statedb.CommandRow) []historyJSON {
	items := make([]historyJSON, 0, len(rows))
	for _, r := range rows {
		items = append(items, historyJSON{
			ID:            r.ID,
			RunID:         r.RunID,
			Command:       r.Command,
			State:         r.FinalState,
			PromptRetries: r.PromptRetries,
			BusyPolls:     r.BusyPolls,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			DurationMs:    r.Duration().Milliseconds(),
		})
	}
	return items
}

func renderHistoryTable(rows []*statedb.CommandRow, counts map[string]int) string {
	if len(rows) == 0 {
		return "No commands recorded yet.\n"
	}

	var b strings.Builder
	header := padRight("STARTED", tableColWhen) + " " +
		padRight("STATE", tableColState) + " " +
		padRight("ELAPSED", tableColElapsed) + " COMMAND"
	b.WriteString(titleStyle.Render(header) + "\n")
	b.WriteString(strings.Repeat("-", tableColWhen+tableColState+tableColElapsed+tableColCommand+3) + "\n")

	for _, r := range rows {
		state := padRight(r.FinalState, tableColState)
		switch r.FinalState {
		case "COMPLETE":
			state = successStyle.Render(state)
		case "FORCE_ABORTED":
			state = warnStyle.Render(state)
		default:
			state = dimStyle.Render(state)
		}
		elapsed := "-"
		if d := r.Duration(); d > 0 {
			elapsed = d.Round(100 * time.Millisecond).String()
		}
		fmt.Fprintf(&b, "%s %s %s %s\n",
			padRight(r.StartedAt.Format("2006-01-02 15:04:05"), tableColWhen),
			state,
			padRight(elapsed, tableColElapsed),
			truncate(r.Command, tableColCommand))
	}
	fmt.Fprintf(&b, "\nTotal: %d commands\n", len(rows))
	if len(counts) > 0 {
		fmt.Fprintf(&b, "All recorded: %s\n", summarizeStates(counts))
	}
	return b.String()
}
