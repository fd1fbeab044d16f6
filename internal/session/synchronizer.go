package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/envagent/internal/activity"
	"github.com/asheshgoplani/envagent/internal/logging"
	"github.com/asheshgoplani/envagent/internal/statedb"
	"github.com/asheshgoplani/envagent/internal/tmux"
	"github.com/asheshgoplani/envagent/internal/transcript"
)

var syncLog = logging.ForComponent(logging.CompSync)

// ErrBackendGone means the terminal multiplexer (or the container hosting
// it) disappeared. The run cannot continue.
var ErrBackendGone = errors.New("terminal backend is gone")

// State is a step of command synchronization. Exactly one command is in
// flight at a time.
type State string

const (
	StateIdle           State = "READY"
	StateCommandSent    State = "COMMAND_SENT"
	StateAwaitingIdle   State = "AWAITING_IDLE"
	StateAwaitingPrompt State = "AWAITING_PROMPT"
	StateComplete       State = "COMPLETE"
	StateForceAborted   State = "FORCE_ABORTED"
)

// Terminal is the pane the shell runs in. *tmux.Pane implements it.
type Terminal interface {
	SendCommand(ctx context.Context, text string) error
	SendEnter(ctx context.Context) error
	CapturePane(ctx context.Context) (string, error)
	CaptureFullHistory(ctx context.Context) (string, error)
	ClearScreen(ctx context.Context) error
	ClearHistory(ctx context.Context) error
	HasSession(ctx context.Context) error
}

// Prober reports whether the shell is still running something.
// *activity.Monitor implements it.
type Prober interface {
	Probe(ctx context.Context, rootPID int) activity.Report
}

// TranscriptSink receives one record per finished command.
type TranscriptSink interface {
	Append(rec transcript.Record) error
}

// HistoryRecorder stores command outcomes. Optional.
type HistoryRecorder interface {
	RecordCommand(row *statedb.CommandRow) error
}

// EventKind identifies a progress event.
type EventKind int

const (
	EventSent EventKind = iota
	EventBusy
	EventIdle
	EventPromptRetry
	EventPromptFound
	EventPromptExhausted
	EventFinalized
)

// Event is a progress notification for the operator.
type Event struct {
	Kind    EventKind
	Command string
	State   State
	// Report is set for EventBusy and EventIdle.
	Report *activity.Report
	// Attempt is the prompt retry count for prompt events.
	Attempt int
}

// Options configure a Synchronizer.
type Options struct {
	// PanePID is the shell whose descendants are watched.
	PanePID int
	// PromptMarker must appear on the last non-blank screen line for a
	// command to count as complete.
	PromptMarker string
	// MaxPromptRetries bounds the Enter presses used to coax a prompt.
	MaxPromptRetries int
	// PollInterval paces idle probes.
	PollInterval time.Duration
	// SettleDelay follows every forced Enter.
	SettleDelay time.Duration
	// RunID tags history rows.
	RunID string
	// OnEvent, when set, receives progress events synchronously.
	OnEvent func(Event)
}

// Result describes one executed command.
type Result struct {
	Command       string
	State         State
	PromptRetries int
	BusyPolls     int
	StartedAt     time.Time
	FinishedAt    time.Time
	// Output is the full scrollback captured at finalize.
	Output string
}

// Synchronizer sends commands to a shell and decides when each is done:
// first the process tree under the shell must go idle, then the shell
// prompt must be back on screen.
type Synchronizer struct {
	term    Terminal
	prober  Prober
	sink    TranscriptSink
	history HistoryRecorder
	opts    Options

	mu    sync.Mutex
	state State
}

// NewSynchronizer wires a synchronizer. history may be nil.
func NewSynchronizer(term Terminal, prober Prober, sink TranscriptSink, history HistoryRecorder, opts Options) *Synchronizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPromptRetries < 0 {
		opts.MaxPromptRetries = 0
	}
	return &Synchronizer{
		term:    term,
		prober:  prober,
		sink:    sink,
		history: history,
		opts:    opts,
		state:   StateIdle,
	}
}

// State returns the current synchronization state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) setState(command string, next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	syncLog.Debug("state_transition",
		slog.String("command", command),
		slog.String("from", string(prev)),
		slog.String("to", string(next)))
}

func (s *Synchronizer) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

// Execute submits command and blocks until it is complete (or forced
// through), then writes its transcript record and clears the pane.
// Errors wrapping ErrBackendGone are fatal to the run; context
// cancellation aborts immediately.
func (s *Synchronizer) Execute(ctx context.Context, command string) (*Result, error) {
	res := &Result{Command: command, StartedAt: time.Now()}
	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	if err := s.term.SendCommand(ctx, command); err != nil {
		return res, s.backendErr("sending command", err)
	}
	s.setState(command, StateCommandSent)
	s.emit(Event{Kind: EventSent, Command: command, State: StateCommandSent})
	syncLog.Info("command_sent", slog.String("command", command), slog.Int("pane_pid", s.opts.PanePID))

	s.setState(command, StateAwaitingIdle)
	if err := s.awaitIdle(ctx, res); err != nil {
		return res, err
	}

	s.setState(command, StateAwaitingPrompt)
	final, err := s.awaitPrompt(ctx, res)
	if err != nil {
		return res, err
	}
	res.State = final
	s.setState(command, final)

	if err := s.finalize(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// awaitIdle polls the prober until the tree under the pane shell is idle.
// A root that vanished or a process table that cannot be read triggers a
// backend liveness check, since both happen when the container or tmux
// server dies.
func (s *Synchronizer) awaitIdle(ctx context.Context, res *Result) error {
	limiter := rate.NewLimiter(rate.Every(s.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		report := s.prober.Probe(ctx, s.opts.PanePID)
		if report.Reason == activity.ReasonRootGone || report.Reason == activity.ReasonInspectFailed {
			if err := s.term.HasSession(ctx); err != nil && errors.Is(err, tmux.ErrNoServer) {
				return fmt.Errorf("%w: %v", ErrBackendGone, err)
			}
		}

		if report.Verdict == activity.Idle {
			syncLog.Debug("idle_confirmed",
				slog.String("command", res.Command),
				slog.String("reason", string(report.Reason)),
				slog.Int("busy_polls", res.BusyPolls))
			s.emit(Event{Kind: EventIdle, Command: res.Command, State: StateAwaitingIdle, Report: &report})
			return nil
		}

		res.BusyPolls++
		logging.Aggregate(logging.CompSync, "busy_poll",
			slog.Int("pane_pid", s.opts.PanePID),
			slog.String("reason", string(report.Reason)))
		s.emit(Event{Kind: EventBusy, Command: res.Command, State: StateAwaitingIdle, Report: &report})
	}
}

// awaitPrompt checks the visible screen for the prompt marker, pressing
// Enter to coax it out. Returns StateComplete when seen or
// StateForceAborted once the retry budget is spent.
func (s *Synchronizer) awaitPrompt(ctx context.Context, res *Result) (State, error) {
	for {
		screen, err := s.term.CapturePane(ctx)
		if err != nil {
			return "", s.backendErr("capturing pane", err)
		}
		if PromptVisible(screen, s.opts.PromptMarker) {
			s.emit(Event{Kind: EventPromptFound, Command: res.Command, State: StateAwaitingPrompt, Attempt: res.PromptRetries})
			return StateComplete, nil
		}
		if res.PromptRetries >= s.opts.MaxPromptRetries {
			syncLog.Warn("prompt_not_found",
				slog.String("command", res.Command),
				slog.Int("retries", res.PromptRetries))
			s.emit(Event{Kind: EventPromptExhausted, Command: res.Command, State: StateForceAborted, Attempt: res.PromptRetries})
			return StateForceAborted, nil
		}

		if err := s.term.SendEnter(ctx); err != nil {
			return "", s.backendErr("sending enter", err)
		}
		res.PromptRetries++
		s.emit(Event{Kind: EventPromptRetry, Command: res.Command, State: StateAwaitingPrompt, Attempt: res.PromptRetries})
		if err := sleepCtx(ctx, s.opts.SettleDelay); err != nil {
			return "", err
		}
	}
}

// finalize captures the full scrollback, records it, and wipes the pane so
// the next capture only contains the next command.
func (s *Synchronizer) finalize(ctx context.Context, res *Result) error {
	output, err := s.term.CaptureFullHistory(ctx)
	if err != nil {
		return s.backendErr("capturing scrollback", err)
	}
	res.Output = output
	res.FinishedAt = time.Now()

	if err := s.sink.Append(transcript.Record{
		Command: res.Command,
		Output:  output,
		Time:    res.FinishedAt,
	}); err != nil {
		return fmt.Errorf("recording transcript: %w", err)
	}

	if s.history != nil {
		row := &statedb.CommandRow{
			RunID:         s.opts.RunID,
			Command:       res.Command,
			FinalState:    string(res.State),
			PromptRetries: res.PromptRetries,
			BusyPolls:     res.BusyPolls,
			StartedAt:     res.StartedAt,
			FinishedAt:    res.FinishedAt,
		}
		if err := s.history.RecordCommand(row); err != nil {
			syncLog.Warn("history_record_failed", slog.String("error", err.Error()))
		}
	}

	if err := s.term.ClearScreen(ctx); err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			return s.backendErr("clearing screen", err)
		}
		syncLog.Warn("clear_screen_failed", slog.String("error", err.Error()))
	}
	if err := s.term.ClearHistory(ctx); err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			return s.backendErr("clearing history", err)
		}
		syncLog.Warn("clear_history_failed", slog.String("error", err.Error()))
	}

	syncLog.Info("command_finished",
		slog.String("command", res.Command),
		slog.String("state", string(res.State)),
		slog.Int("busy_polls", res.BusyPolls),
		slog.Int("prompt_retries", res.PromptRetries),
		slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	s.emit(Event{Kind: EventFinalized, Command: res.Command, State: res.State, Attempt: res.PromptRetries})
	return nil
}

// backendErr wraps a terminal failure, promoting a dead tmux server to
// ErrBackendGone.
func (s *Synchronizer) backendErr(what string, err error) error {
	if errors.Is(err, tmux.ErrNoServer) {
		return fmt.Errorf("%s: %w: %v", what, ErrBackendGone, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// PromptVisible reports whether the last non-blank line of screen contains
// marker. tmux pads captures with empty rows below the cursor, so trailing
// blank lines are ignored. Escape sequences are stripped first, so a line
// holding only a color reset counts as blank.
func PromptVisible(screen, marker string) bool {
	if marker == "" {
		return false
	}
	trimmed := strings.TrimRight(tmux.StripANSI(screen), " \t\r\n")
	if trimmed == "" {
		return false
	}
	last := trimmed
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		last = trimmed[idx+1:]
	}
	return strings.Contains(last, marker)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
