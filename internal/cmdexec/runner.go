// Package cmdexec runs external programs either on the host or through a
// command prefix such as "docker exec <container>".
package cmdexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a program and returns its combined output.
// The output is returned even when err is non-nil so callers can inspect
// diagnostics such as tmux's "no server running" message.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Local runs programs directly on this host.
type Local struct{}

// Run implements Runner.
func (Local) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Prefixed runs every program behind a fixed argv prefix.
// Prefix ["docker", "exec", "box"] turns Run("tmux", "ls") into
// `docker exec box tmux ls`. The prefixed command itself runs through
// Runner, or on this host when Runner is nil.
type Prefixed struct {
	Prefix []string
	Runner Runner
}

// Run implements Runner.
func (p Prefixed) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	base := p.Runner
	if base == nil {
		base = Local{}
	}
	if len(p.Prefix) == 0 {
		return base.Run(ctx, name, args...)
	}
	argv := make([]string, 0, len(p.Prefix)+len(args))
	argv = append(argv, p.Prefix[1:]...)
	argv = append(argv, name)
	argv = append(argv, args...)
	out, err := base.Run(ctx, p.Prefix[0], argv...)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", strings.Join(p.Prefix[1:], " "), name, err)
	}
	return out, nil
}

// IsExitError reports whether err wraps a non-zero process exit.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// Func adapts a plain function to Runner. Handy for tests.
type Func func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run implements Runner.
func (f Func) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}
