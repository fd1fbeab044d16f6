package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asheshgoplani/envagent/internal/activity"
	"github.com/asheshgoplani/envagent/internal/cmdexec"
	"github.com/asheshgoplani/envagent/internal/config"
	"github.com/asheshgoplani/envagent/internal/docker"
	"github.com/asheshgoplani/envagent/internal/tmux"
)

// Environment is the container plus the tmux pane inside it.
type Environment struct {
	cfg       *config.Config
	container *docker.Container
	pane      *tmux.Pane
	monitor   *activity.Monitor
}

// NewEnvironment builds the environment described by cfg. runner executes
// docker on the host; nil means the local machine.
func NewEnvironment(cfg *config.Config, runner cmdexec.Runner) *Environment {
	container := docker.NewContainer(cfg.Container.Name, cfg.Container.Image, runner)
	exec := container.ExecRunner()

	self := cfg.Monitor.SelfSignature
	if self == "" {
		self = activity.PSSignature
	}

	return &Environment{
		cfg:       cfg,
		container: container,
		pane:      tmux.NewPane(exec, cfg.Tmux.Session, cfg.Tmux.Window),
		monitor:   activity.NewMonitor(activity.NewPSInspector(exec), self),
	}
}

// Container returns the container handle.
func (e *Environment) Container() *docker.Container { return e.container }

// Pane returns the tmux pane hosting the shell.
func (e *Environment) Pane() *tmux.Pane { return e.pane }

// Monitor returns the idle monitor for processes inside the container.
func (e *Environment) Monitor() *activity.Monitor { return e.monitor }

// Setup replaces any previous container, starts the tmux session, waits for
// the shell, and returns the pane shell's pid.
func (e *Environment) Setup(ctx context.Context) (int, error) {
	runCfg := docker.NewRunConfig(
		docker.WithNetwork(e.cfg.Container.Network),
		docker.WithGPUs(e.cfg.Container.GPUs),
		docker.WithPassthroughEnv(e.cfg.Container.PassthroughEnv...),
		docker.WithEnvironment(e.cfg.Container.Env),
		docker.WithShell(e.cfg.Container.Shell),
	)
	if err := e.container.Recreate(ctx, runCfg); err != nil {
		return 0, err
	}

	if err := e.pane.KillSession(ctx); err != nil {
		syncLog.Debug("kill_stale_session_failed", slog.String("error", err.Error()))
	}
	// tmux may print warnings and exit non-zero while still creating the
	// session; pid discovery below is the real check.
	if err := e.pane.NewSession(ctx); err != nil {
		syncLog.Warn("new_session_error", slog.String("error", err.Error()))
	}
	if err := sleepCtx(ctx, e.cfg.StartupDelay()); err != nil {
		return 0, err
	}

	pid, err := e.pane.DiscoverPID(ctx, e.cfg.Monitor.PIDRetries, e.cfg.PIDRetryDelay())
	if err != nil {
		return 0, fmt.Errorf("discovering shell pid in %s: %w", e.pane.Target(), err)
	}
	syncLog.Info("environment_ready",
		slog.String("container", e.container.Name()),
		slog.String("target", e.pane.Target()),
		slog.Int("pane_pid", pid))
	return pid, nil
}

// Teardown stops the container.
func (e *Environment) Teardown(ctx context.Context) error {
	return e.container.Stop(ctx)
}

// AttachHint is the command an operator runs to watch the pane live.
func (e *Environment) AttachHint() string {
	return tmux.AttachHint(e.container.AttachPrefix(), e.pane.Session())
}
