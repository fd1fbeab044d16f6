package docker

import (
	"maps"
	"os"
	"slices"
)

const (
	// defaultImage is the environment image when none is configured. It is a
	// locally built image with tmux, pixi and the custom prompt baked in.
	defaultImage = "envagent-cuda-pixi:latest"

	// managedLabel marks containers this tool started.
	managedLabel = "managed-by=envagent"

	// defaultShell keeps the container alive for docker exec.
	defaultShell = "/bin/bash"
)

// RunConfig holds the settings for `docker run`. Fields are unexported so
// configs are built through NewRunConfig and its options.
type RunConfig struct {
	network     string
	gpus        string
	environment map[string]string
	shell       string
}

// RunOption customizes a RunConfig.
type RunOption func(*RunConfig)

// NewRunConfig builds a run config with the given options applied in order.
func NewRunConfig(opts ...RunOption) *RunConfig {
	cfg := &RunConfig{
		environment: make(map[string]string),
		shell:       defaultShell,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithNetwork sets --net (e.g. "host"). Empty keeps Docker's default.
func WithNetwork(network string) RunOption {
	return func(cfg *RunConfig) { cfg.network = network }
}

// WithGPUs sets --gpus (e.g. "all"). Empty disables GPU passthrough.
func WithGPUs(gpus string) RunOption {
	return func(cfg *RunConfig) { cfg.gpus = gpus }
}

// WithEnvironment adds fixed environment variables.
func WithEnvironment(env map[string]string) RunOption {
	return func(cfg *RunConfig) {
		maps.Copy(cfg.environment, env)
	}
}

// WithPassthroughEnv forwards the named host variables (e.g. http_proxy).
// Variables unset on the host are forwarded as empty, matching `-e k=$k`.
func WithPassthroughEnv(names ...string) RunOption {
	return func(cfg *RunConfig) {
		for _, name := range names {
			cfg.environment[name] = os.Getenv(name)
		}
	}
}

// WithShell overrides the container's main process.
func WithShell(shell string) RunOption {
	return func(cfg *RunConfig) {
		if shell != "" {
			cfg.shell = shell
		}
	}
}

// args renders the flags that go between `docker run -itd --name n` and the image.
func (cfg *RunConfig) args() []string {
	var args []string
	if cfg.network != "" {
		args = append(args, "--net="+cfg.network)
	}
	if cfg.gpus != "" {
		args = append(args, "--gpus="+cfg.gpus)
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.environment)) {
		args = append(args, "-e", k+"="+cfg.environment[k])
	}
	return args
}
