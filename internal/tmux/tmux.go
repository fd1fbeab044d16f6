// Package tmux drives a single tmux pane: creating the session, typing into
// it, and reading its screen. Every tmux call goes through a cmdexec.Runner,
// so the same code works on the host or inside a container via docker exec.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/envagent/internal/cmdexec"
	"github.com/asheshgoplani/envagent/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

var (
	// ErrNoServer means the tmux server is not running. Nothing in the pane
	// can be recovered after this.
	ErrNoServer = errors.New("tmux server is not running")

	// ErrSessionNotFound means the server is up but the target is missing.
	ErrSessionNotFound = errors.New("tmux session not found")

	// ErrPanePIDNotFound is returned when the pane's shell pid could not be
	// discovered within the retry budget.
	ErrPanePIDNotFound = errors.New("could not discover pane pid")
)

// enterDelay separates literal text from the Enter that submits it. tmux
// 3.2+ wraps send-keys -l in bracketed paste, and an Enter arriving in the
// same read as the paste-end marker can be swallowed.
const enterDelay = 100 * time.Millisecond

// Pane is a handle on session:window.0.
type Pane struct {
	runner  cmdexec.Runner
	session string
	window  string
}

// NewPane returns a handle for the first pane of session:window.
func NewPane(runner cmdexec.Runner, session, window string) *Pane {
	if runner == nil {
		runner = cmdexec.Local{}
	}
	return &Pane{runner: runner, session: session, window: window}
}

// Session returns the session name.
func (p *Pane) Session() string { return p.session }

// Target returns the tmux target string, e.g. "env_agent_session:main.0".
func (p *Pane) Target() string {
	return p.session + ":" + p.window + ".0"
}

// run executes a tmux subcommand and maps well-known failures onto the
// package sentinels.
func (p *Pane) run(ctx context.Context, args ...string) (string, error) {
	out, err := p.runner.Run(ctx, "tmux", args...)
	text := string(out)
	if err != nil {
		return text, classifyError(args[0], text, err)
	}
	return text, nil
}

func classifyError(subcmd, output string, err error) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "no server running"),
		strings.Contains(lower, "no server is running"),
		strings.Contains(lower, "error connecting to"),
		// docker exec into a stopped or removed container.
		strings.Contains(lower, "is not running"),
		strings.Contains(lower, "no such container"):
		return fmt.Errorf("tmux %s: %w", subcmd, ErrNoServer)
	case strings.Contains(lower, "can't find session"),
		strings.Contains(lower, "can't find window"),
		strings.Contains(lower, "can't find pane"):
		return fmt.Errorf("tmux %s: %w", subcmd, ErrSessionNotFound)
	default:
		return fmt.Errorf("tmux %s: %s: %w", subcmd, strings.TrimSpace(output), err)
	}
}

// NewSession creates the detached session with its named window.
func (p *Pane) NewSession(ctx context.Context) error {
	if _, err := p.run(ctx, "new-session", "-d", "-s", p.session, "-n", p.window); err != nil {
		return err
	}
	tmuxLog.Info("session_created", slog.String("target", p.Target()))
	return nil
}

// KillSession removes the session. A missing session or server is not an
// error.
func (p *Pane) KillSession(ctx context.Context) error {
	_, err := p.run(ctx, "kill-session", "-t", p.session)
	if errors.Is(err, ErrNoServer) || errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// HasSession returns nil when the session exists. Failures wrap ErrNoServer
// when the server is gone and ErrSessionNotFound when only the session is.
func (p *Pane) HasSession(ctx context.Context) error {
	_, err := p.run(ctx, "has-session", "-t", p.session)
	return err
}

// PanePID returns the pid of the pane's shell. Only the first line of
// list-panes output is used.
func (p *Pane) PanePID(ctx context.Context) (int, error) {
	out, err := p.run(ctx, "list-panes", "-t", p.Target(), "-F", "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	first := strings.TrimSpace(out)
	if idx := strings.IndexByte(first, '\n'); idx >= 0 {
		first = strings.TrimSpace(first[:idx])
	}
	pid, err := strconv.Atoi(first)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("unexpected pane pid %q", first)
	}
	return pid, nil
}

// DiscoverPID polls PanePID up to attempts times, sleeping delay between
// tries, for shells that are slow to start.
func (p *Pane) DiscoverPID(ctx context.Context, attempts int, delay time.Duration) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		pid, err := p.PanePID(ctx)
		if err == nil {
			return pid, nil
		}
		lastErr = err
		tmuxLog.Debug("pane_pid_retry",
			slog.Int("attempt", i),
			slog.Int("max", attempts),
			slog.String("error", err.Error()))
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("%w after %d attempts: %v", ErrPanePIDNotFound, attempts, lastErr)
}

// SendCommand types text literally and presses Enter.
func (p *Pane) SendCommand(ctx context.Context, text string) error {
	if _, err := p.run(ctx, "send-keys", "-l", "-t", p.Target(), "--", escapeTrailingSemicolon(text)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(enterDelay):
	}
	return p.SendEnter(ctx)
}

// escapeTrailingSemicolon protects a final ';' from tmux's argument parser,
// which reads it as a command separator and unescapes one backslash before
// it. tmux strips exactly the backslash added here.
func escapeTrailingSemicolon(text string) string {
	if strings.HasSuffix(text, ";") {
		return text[:len(text)-1] + `\;`
	}
	return text
}

// SendEnter presses Enter.
func (p *Pane) SendEnter(ctx context.Context) error {
	_, err := p.run(ctx, "send-keys", "-t", p.Target(), "Enter")
	return err
}

// ClearScreen sends Ctrl-L to redraw an empty screen.
func (p *Pane) ClearScreen(ctx context.Context) error {
	_, err := p.run(ctx, "send-keys", "-t", p.Target(), "C-l")
	return err
}

// ClearHistory drops the pane's scrollback.
func (p *Pane) ClearHistory(ctx context.Context) error {
	_, err := p.run(ctx, "clear-history", "-t", p.Target())
	return err
}

// CapturePane returns the visible screen with escape sequences kept (-e).
func (p *Pane) CapturePane(ctx context.Context) (string, error) {
	return p.run(ctx, "capture-pane", "-t", p.Target(), "-p", "-e")
}

// CaptureFullHistory returns the whole scrollback plus the visible screen.
func (p *Pane) CaptureFullHistory(ctx context.Context) (string, error) {
	return p.run(ctx, "capture-pane", "-t", p.Target(), "-S", "-", "-p", "-e")
}

// AttachHint returns the command an operator can run to watch the pane.
func AttachHint(execPrefix []string, session string) string {
	parts := append(append([]string{}, execPrefix...), "tmux", "attach", "-t", session)
	return strings.Join(parts, " ")
}
