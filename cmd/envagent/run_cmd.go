package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/asheshgoplani/envagent/internal/activity"
	"github.com/asheshgoplani/envagent/internal/config"
	"github.com/asheshgoplani/envagent/internal/docker"
	"github.com/asheshgoplani/envagent/internal/logging"
	"github.com/asheshgoplani/envagent/internal/platform"
	"github.com/asheshgoplani/envagent/internal/session"
	"github.com/asheshgoplani/envagent/internal/statedb"
	"github.com/asheshgoplani/envagent/internal/transcript"
)

var cliLog = logging.ForComponent(logging.CompCLI)

const inputPrompt = "Command to run ('exit' to quit): "

// handleRun provisions the environment and feeds it commands from stdin
// until exit or EOF.
func handleRun(opts globalOptions, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keep := fs.Bool("keep", false, "Leave the container running after 'exit'")
	noHistory := fs.Bool("no-history", false, "Do not record commands in the history database")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: envagent run [options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Start the container and tmux session, then execute one command per input line.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return 2
	}

	out := NewCLIOutput(stdout, stderr, false)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		out.Error(err.Error())
		return 1
	}
	if opts.debug {
		cfg.Logs.Debug = true
	}
	if *keep {
		cfg.Container.KeepOnExit = true
	}
	if *noHistory {
		cfg.History.Enabled = false
	}

	logDir := initLogging(cfg)
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	watchDumpSignal(ctx, logDir)

	fmt.Fprintln(stdout, titleStyle.Render("--- envagent ---"))

	if err := preflight(ctx, cfg); err != nil {
		out.Error(err.Error())
		return 1
	}
	for _, w := range platform.DockerCaveats(platform.Detect(), cfg.Container.Network, cfg.Container.GPUs) {
		out.Warn(w)
	}

	var history *statedb.StateDB
	if cfg.History.Enabled {
		history, err = openHistory(cfg)
		if err != nil {
			// History is optional; keep going without it.
			out.Warn(fmt.Sprintf("history disabled: %v", err))
			history = nil
		} else {
			defer history.Close()
		}
	}

	env := session.NewEnvironment(cfg, nil)
	out.Info(fmt.Sprintf("Starting container %s (%s)...", cfg.Container.Name, cfg.Container.Image))
	panePID, err := env.Setup(ctx)
	if err != nil {
		return fatal(out, logDir, fmt.Errorf("setting up environment: %w", err))
	}
	out.Success(fmt.Sprintf("Environment ready. Watching shell PID %d", panePID))
	out.Info("Watch the terminal live with: " + env.AttachHint())

	var runID string
	var recorder session.HistoryRecorder
	if history != nil {
		if runID, err = history.StartRun(cfg.Container.Name, cfg.Tmux.Session, panePID); err != nil {
			out.Warn(fmt.Sprintf("history disabled: %v", err))
		} else {
			recorder = history
			defer func() { _ = history.EndRun(runID) }()
			out.Info("Recording history as run " + runID + " (envagent history --run " + runID + ")")
		}
	}

	sink := transcript.NewSink(cfg.Transcript.RawPath, cfg.Transcript.CleanPath)
	progress := &progressPrinter{w: stdout, pid: panePID, raw: sink.RawPath(), clean: sink.CleanPath()}
	synchronizer := session.NewSynchronizer(env.Pane(), env.Monitor(), sink, recorder, session.Options{
		PanePID:          panePID,
		PromptMarker:     cfg.Prompt.Marker,
		MaxPromptRetries: cfg.Prompt.MaxRetries,
		PollInterval:     cfg.PollInterval(),
		SettleDelay:      cfg.SettleDelay(),
		RunID:            runID,
		OnEvent:          progress.handle,
	})

	prompt := ""
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		prompt = inputPrompt
	}

	outcome, err := session.NewOperator(stdin, stdout, prompt).Run(ctx, synchronizer)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stdout)
			out.Warn("Interrupted. Container left running: " + env.AttachHint())
			return 130
		}
		return fatal(out, logDir, err)
	}

	switch outcome {
	case session.OutcomeExit:
		if cfg.Container.KeepOnExit {
			out.Info("Leaving container running: " + env.AttachHint())
			break
		}
		out.Info("Stopping container " + cfg.Container.Name + "...")
		teardownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := env.Teardown(teardownCtx); err != nil {
			out.Warn(fmt.Sprintf("stopping container: %v", err))
		}
		fmt.Fprintln(stdout, titleStyle.Render("--- envagent exited ---"))
	case session.OutcomeEOF:
		fmt.Fprintln(stdout)
		out.Info("Received EOF. Exiting.")
	}
	return 0
}

// initLogging configures internal/logging from cfg and bridges the stdlib
// logger. It returns the log directory ("" when logs are discarded).
func initLogging(cfg *config.Config) string {
	logDir := cfg.LogDir()
	logging.Init(logging.Config{
		Debug:                 cfg.Logs.Debug,
		LogDir:                logDir,
		Level:                 logLevel(cfg),
		Format:                cfg.Logs.Format,
		MaxSizeMB:             cfg.Logs.MaxSizeMB,
		MaxBackups:            cfg.Logs.MaxBackups,
		MaxAgeDays:            cfg.Logs.MaxAgeDays,
		Compress:              true,
		AggregateIntervalSecs: 30,
	})
	log.SetFlags(0)
	log.SetOutput(logging.NewBridgeWriter(logging.CompCLI))
	if logDir != "" {
		cliLog.Info("started", slog.String("version", Version), slog.Int("pid", os.Getpid()))
	}
	return logDir
}

func logLevel(cfg *config.Config) string {
	if cfg.Logs.Debug {
		return "debug"
	}
	return strings.ToLower(cfg.Logs.Level)
}

// watchDumpSignal writes the in-memory log ring to disk on SIGUSR1.
func watchDumpSignal(ctx context.Context, logDir string) {
	if logDir == "" {
		return
	}
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(usr1)
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				writeCrashDump(logDir)
			}
		}
	}()
}

func writeCrashDump(logDir string) string {
	if logDir == "" {
		return ""
	}
	path := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
	if err := logging.DumpRingBuffer(path); err != nil {
		cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
		return ""
	}
	cliLog.Info("crash_dump_written", slog.String("path", path))
	return path
}

// preflight checks the docker installation, the environment image and the
// config concurrently.
func preflight(ctx context.Context, cfg *config.Config) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := docker.CheckAvailability(gctx, nil); err != nil {
			return err
		}
		return docker.CheckImage(gctx, nil, cfg.Container.Image)
	})
	g.Go(func() error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openHistory(cfg *config.Config) (*statedb.StateDB, error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// fatal reports an environment-fatal error, dumps the log ring for
// post-mortem, and returns the exit code.
func fatal(out *CLIOutput, logDir string, err error) int {
	cliLog.Error("fatal", slog.String("error", err.Error()))
	switch {
	case errors.Is(err, session.ErrBackendGone):
		out.Error("tmux server has stopped. Check the container state.")
	default:
		out.Error(err.Error())
	}
	if path := writeCrashDump(logDir); path != "" {
		out.Info("Recent logs written to " + path)
	}
	return 1
}

// progressPrinter renders synchronizer events for the operator.
type progressPrinter struct {
	w     io.Writer
	pid   int
	raw   string
	clean string
}

func (p *progressPrinter) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventSent:
		fmt.Fprintf(p.w, "%s Command sent: %s\n", successStyle.Render("->"), ev.Command)
		fmt.Fprintf(p.w, "%s Waiting for PID %d and its children to go idle...", successStyle.Render("->"), p.pid)
	case session.EventBusy:
		fmt.Fprint(p.w, dimStyle.Render("."))
	case session.EventIdle:
		fmt.Fprintln(p.w, " "+successStyle.Render("IDLE"))
		if ev.Report != nil && ev.Report.Reason == activity.ReasonRootGone {
			fmt.Fprintln(p.w, warnStyle.Render("-> Shell process is gone; the shell may have been replaced."))
		}
	case session.EventPromptRetry:
		fmt.Fprint(p.w, dimStyle.Render("[P:enter]"))
	case session.EventPromptFound:
		if ev.Attempt > 0 {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintf(p.w, "%s Shell prompt detected, command complete.\n", successStyle.Render("->"))
	case session.EventPromptExhausted:
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, warnStyle.Render(fmt.Sprintf(
			"-> Warning: no prompt after %d Enter presses, continuing anyway.", ev.Attempt)))
	case session.EventFinalized:
		fmt.Fprintf(p.w, "%s Output appended to %s and %s\n", successStyle.Render("->"), p.raw, p.clean)
		fmt.Fprintln(p.w, dimStyle.Render("--- waiting for next command ---"))
		fmt.Fprintln(p.w)
	}
}
