package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/asheshgoplani/envagent/internal/cmdexec"
)

// daemonTimeout bounds the daemon ping during preflight.
const daemonTimeout = 5 * time.Second

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// IsDockerAvailable returns true if the docker CLI is installed and in PATH.
func IsDockerAvailable() bool {
	_, err := lookPath("docker")
	return err == nil
}

// ServerVersion asks the daemon for its version. An empty answer counts as
// no daemon.
func ServerVersion(ctx context.Context, runner cmdexec.Runner) (string, error) {
	if runner == nil {
		runner = cmdexec.Local{}
	}
	ctx, cancel := context.WithTimeout(ctx, daemonTimeout)
	defer cancel()
	out, err := runner.Run(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	version := strings.TrimSpace(string(out))
	if err != nil {
		if version == "" {
			return "", ErrDaemonNotRunning
		}
		return "", fmt.Errorf("%w: %s", ErrDaemonNotRunning, version)
	}
	if version == "" {
		return "", ErrDaemonNotRunning
	}
	return version, nil
}

// CheckAvailability verifies the CLI and the daemon before a run.
func CheckAvailability(ctx context.Context, runner cmdexec.Runner) error {
	if !IsDockerAvailable() {
		return ErrDockerNotAvailable
	}
	version, err := ServerVersion(ctx, runner)
	if err != nil {
		return err
	}
	dockerLog.Debug("daemon_ready", slog.String("server_version", version))
	return nil
}

// CheckImage verifies image exists locally. docker run would otherwise try
// a registry pull of a locally built image and fail late.
func CheckImage(ctx context.Context, runner cmdexec.Runner, image string) error {
	if runner == nil {
		runner = cmdexec.Local{}
	}
	out, err := runner.Run(ctx, "docker", "image", "inspect", "--format", "{{.Id}}", image)
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(string(out)), "no such image") || cmdexec.IsExitError(err) {
		return fmt.Errorf("%w: %s (build it before running envagent)", ErrImageNotFound, image)
	}
	return fmt.Errorf("inspecting image %s: %s: %w", image, strings.TrimSpace(string(out)), err)
}
