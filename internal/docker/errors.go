package docker

import "errors"

// Preflight failures. Each one stops `envagent run` before any container is
// touched.
var (
	// ErrDockerNotAvailable means the docker CLI is not on PATH.
	ErrDockerNotAvailable = errors.New("docker CLI not found in PATH; envagent starts its environment with it")

	// ErrDaemonNotRunning means the CLI exists but the daemon did not answer.
	ErrDaemonNotRunning = errors.New("docker daemon is not responding; start Docker and rerun envagent")

	// ErrImageNotFound means the environment image is not present locally.
	// envagent never pulls; the image carries the prompt marker and tmux.
	ErrImageNotFound = errors.New("environment image not found locally")
)
