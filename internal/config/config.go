// Package config loads envagent's TOML configuration. Every setting has a
// default, so a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DirName is the per-user directory under $HOME.
	DirName = ".envagent"

	// FileName is the config file inside DirName.
	FileName = "config.toml"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "ENVAGENT_CONFIG"

	// EnvDebug enables debug logging when set to a truthy value.
	EnvDebug = "ENVAGENT_DEBUG"

	// DefaultPromptMarker is the literal the container's PS1 ends with.
	DefaultPromptMarker = "(ง •_•)ง"
)

// Config is the full configuration.
type Config struct {
	Container  ContainerSettings  `toml:"container"`
	Tmux       TmuxSettings       `toml:"tmux"`
	Prompt     PromptSettings     `toml:"prompt"`
	Monitor    MonitorSettings    `toml:"monitor"`
	Transcript TranscriptSettings `toml:"transcript"`
	Logs       LogSettings        `toml:"logs"`
	History    HistorySettings    `toml:"history"`
}

// ContainerSettings configures the execution environment.
type ContainerSettings struct {
	Name    string `toml:"name"`
	Image   string `toml:"image"`
	Network string `toml:"network"`
	GPUs    string `toml:"gpus"`
	// PassthroughEnv names host variables forwarded with -e.
	PassthroughEnv []string `toml:"passthrough_env"`
	// Env holds fixed variables set in the container.
	Env map[string]string `toml:"env"`
	// Shell is the container's main process; it keeps the container alive.
	Shell string `toml:"shell"`
	// KeepOnExit leaves the container running after `exit`.
	KeepOnExit bool `toml:"keep_on_exit"`
}

// TmuxSettings names the session hosting the shell.
type TmuxSettings struct {
	Session string `toml:"session"`
	Window  string `toml:"window"`
	// StartupDelayMs is how long the fresh shell gets to print its first prompt.
	StartupDelayMs int `toml:"startup_delay_ms"`
}

// PromptSettings controls prompt confirmation.
type PromptSettings struct {
	Marker        string `toml:"marker"`
	MaxRetries    int    `toml:"max_retries"`
	SettleDelayMs int    `toml:"settle_delay_ms"`
}

// MonitorSettings controls idle polling and pane pid discovery.
type MonitorSettings struct {
	PollIntervalMs  int    `toml:"poll_interval_ms"`
	SelfSignature   string `toml:"self_signature"`
	PIDRetries      int    `toml:"pid_retries"`
	PIDRetryDelayMs int    `toml:"pid_retry_delay_ms"`
}

// TranscriptSettings names the append-only transcript files.
type TranscriptSettings struct {
	RawPath   string `toml:"raw_path"`
	CleanPath string `toml:"clean_path"`
}

// LogSettings configures internal/logging.
type LogSettings struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Debug  bool   `toml:"debug"`
	// MaxSizeMB, MaxBackups and MaxAgeDays feed lumberjack rotation.
	MaxSizeMB  int `toml:"max_size_mb"`
	MaxBackups int `toml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days"`
}

// HistorySettings configures the command history database.
type HistorySettings struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Container: ContainerSettings{
			Name:           "envagent_container",
			Image:          "envagent-cuda-pixi:latest",
			Network:        "host",
			GPUs:           "all",
			PassthroughEnv: []string{"http_proxy", "https_proxy"},
			Env:            map[string]string{},
			Shell:          "/bin/bash",
		},
		Tmux: TmuxSettings{
			Session:        "env_agent_session",
			Window:         "main",
			StartupDelayMs: 2000,
		},
		Prompt: PromptSettings{
			Marker:        DefaultPromptMarker,
			MaxRetries:    10,
			SettleDelayMs: 1000,
		},
		Monitor: MonitorSettings{
			PollIntervalMs:  1000,
			PIDRetries:      15,
			PIDRetryDelayMs: 3000,
		},
		Transcript: TranscriptSettings{
			RawPath:   "agent_context_raw.log",
			CleanPath: "agent_context_clean.log",
		},
		Logs: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,
		},
		History: HistorySettings{
			Enabled: true,
		},
	}
}

// Dir returns ~/.envagent.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Path resolves the config file: explicit path, then $ENVAGENT_CONFIG, then
// ~/.envagent/config.toml.
func Path(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config at path (resolved with Path) over the defaults and
// applies environment overrides. A missing file yields the defaults; an
// explicitly named missing file is an error.
func Load(explicit string) (*Config, error) {
	cfg := Default()

	path, err := Path(explicit)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && explicit == "" {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config.toml parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if cfg.Container.Env == nil {
		cfg.Container.Env = map[string]string{}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	switch strings.ToLower(os.Getenv(EnvDebug)) {
	case "1", "true", "yes", "on":
		c.Logs.Debug = true
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Container.Name == "" {
		errs = append(errs, errors.New("container.name must not be empty"))
	}
	if c.Container.Image == "" {
		errs = append(errs, errors.New("container.image must not be empty"))
	}
	if c.Container.Shell == "" {
		errs = append(errs, errors.New("container.shell must not be empty"))
	}
	if c.Tmux.Session == "" {
		errs = append(errs, errors.New("tmux.session must not be empty"))
	}
	if strings.ContainsAny(c.Tmux.Session, ":.") {
		errs = append(errs, fmt.Errorf("tmux.session %q must not contain ':' or '.'", c.Tmux.Session))
	}
	if c.Tmux.Window == "" {
		errs = append(errs, errors.New("tmux.window must not be empty"))
	}
	if c.Prompt.Marker == "" {
		errs = append(errs, errors.New("prompt.marker must not be empty"))
	}
	if c.Prompt.MaxRetries < 0 {
		errs = append(errs, errors.New("prompt.max_retries must be >= 0"))
	}
	if c.Monitor.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval_ms must be > 0"))
	}
	if c.Monitor.PIDRetries <= 0 {
		errs = append(errs, errors.New("monitor.pid_retries must be > 0"))
	}
	if c.Transcript.RawPath == "" || c.Transcript.CleanPath == "" {
		errs = append(errs, errors.New("transcript.raw_path and transcript.clean_path must be set"))
	}
	if c.Transcript.RawPath != "" && c.Transcript.RawPath == c.Transcript.CleanPath {
		errs = append(errs, errors.New("transcript.raw_path and transcript.clean_path must differ"))
	}
	switch strings.ToLower(c.Logs.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logs.level %q is not one of debug, info, warn, error", c.Logs.Level))
	}
	switch strings.ToLower(c.Logs.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logs.format %q is not json or text", c.Logs.Format))
	}
	return errors.Join(errs...)
}

// PollInterval is Monitor.PollIntervalMs as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// PIDRetryDelay is Monitor.PIDRetryDelayMs as a duration.
func (c *Config) PIDRetryDelay() time.Duration {
	return time.Duration(c.Monitor.PIDRetryDelayMs) * time.Millisecond
}

// SettleDelay is Prompt.SettleDelayMs as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Prompt.SettleDelayMs) * time.Millisecond
}

// StartupDelay is Tmux.StartupDelayMs as a duration.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Tmux.StartupDelayMs) * time.Millisecond
}

// LogDir returns the log directory, defaulting to ~/.envagent/logs when
// debug is on and no directory is configured. Empty means logs are discarded.
func (c *Config) LogDir() string {
	if c.Logs.Dir != "" {
		return c.Logs.Dir
	}
	if !c.Logs.Debug {
		return ""
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "logs")
}

// HistoryPath returns the history DB path, defaulting to
// ~/.envagent/history.db.
func (c *Config) HistoryPath() (string, error) {
	if c.History.DBPath != "" {
		return c.History.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}
