// Package docker manages the lifecycle of the isolated container that hosts
// the monitored shell. It shells out to the docker CLI.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asheshgoplani/envagent/internal/cmdexec"
	"github.com/asheshgoplani/envagent/internal/logging"
)

var dockerLog = logging.ForComponent(logging.CompDocker)

// Container manages a single named container.
type Container struct {
	name   string
	image  string
	runner cmdexec.Runner
}

// NewContainer creates a handle. An empty image falls back to the
// envagent CUDA pixi image.
// A nil runner runs docker on this host.
func NewContainer(name, image string, runner cmdexec.Runner) *Container {
	if image == "" {
		image = defaultImage
	}
	if runner == nil {
		runner = cmdexec.Local{}
	}
	return &Container{name: name, image: image, runner: runner}
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Image returns the image the container runs.
func (c *Container) Image() string {
	return c.image
}

// Exists reports whether the container exists in any state.
func (c *Container) Exists(ctx context.Context) (bool, error) {
	out, err := c.runner.Run(ctx, "docker", "inspect", "--format", "{{.State.Status}}", c.name)
	if err != nil {
		if isNoSuchContainer(string(out)) || cmdexec.IsExitError(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting container %s: %w", c.name, err)
	}
	return true, nil
}

// IsRunning reports whether the container is running.
func (c *Container) IsRunning(ctx context.Context) (bool, error) {
	out, err := c.runner.Run(ctx, "docker", "inspect", "--format", "{{.State.Running}}", c.name)
	if err != nil {
		if isNoSuchContainer(string(out)) || cmdexec.IsExitError(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting container %s: %w", c.name, err)
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

// Run starts a fresh detached container with an interactive shell as its
// main process: docker run -itd --name <name> [flags] <image> <shell>.
func (c *Container) Run(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil {
		cfg = NewRunConfig()
	}
	args := []string{"run", "-itd", "--name", c.name, "--label", managedLabel}
	args = append(args, cfg.args()...)
	args = append(args, c.image, cfg.shell)

	out, err := c.runner.Run(ctx, "docker", args...)
	if err != nil {
		return fmt.Errorf("starting container %s: %s: %w", c.name, strings.TrimSpace(string(out)), err)
	}
	dockerLog.Info("container_started", slog.String("name", c.name), slog.String("image", c.image))
	return nil
}

// Stop stops the container. A missing container is not an error.
func (c *Container) Stop(ctx context.Context) error {
	out, err := c.runner.Run(ctx, "docker", "stop", c.name)
	if err != nil {
		if isNoSuchContainer(string(out)) {
			return nil
		}
		return fmt.Errorf("stopping container %s: %s: %w", c.name, strings.TrimSpace(string(out)), err)
	}
	dockerLog.Info("container_stopped", slog.String("name", c.name))
	return nil
}

// Remove removes the container (force kills a running one). A missing
// container is not an error.
func (c *Container) Remove(ctx context.Context) error {
	out, err := c.runner.Run(ctx, "docker", "rm", "-f", c.name)
	if err != nil {
		if isNoSuchContainer(string(out)) {
			return nil
		}
		return fmt.Errorf("removing container %s: %s: %w", c.name, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Recreate replaces any previous container with this name by a fresh one.
// A running predecessor is stopped first so its shell gets SIGTERM.
func (c *Container) Recreate(ctx context.Context, cfg *RunConfig) error {
	exists, err := c.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		running, err := c.IsRunning(ctx)
		if err != nil {
			return err
		}
		if running {
			if err := c.Stop(ctx); err != nil {
				dockerLog.Warn("stop_before_recreate_failed", slog.String("name", c.name), slog.String("error", err.Error()))
			}
		}
		if err := c.Remove(ctx); err != nil {
			return err
		}
	}
	return c.Run(ctx, cfg)
}

// ExecRunner returns a runner that executes programs inside the container
// (docker exec <name> ...).
func (c *Container) ExecRunner() cmdexec.Runner {
	return cmdexec.Prefixed{Prefix: []string{"docker", "exec", c.name}, Runner: c.runner}
}

// AttachPrefix returns the interactive exec prefix for operators:
// ["docker", "exec", "-it", name].
func (c *Container) AttachPrefix() []string {
	return []string{"docker", "exec", "-it", c.name}
}

func isNoSuchContainer(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}
