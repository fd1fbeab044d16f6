package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.3.0"

// globalOptions are flags accepted before (or mixed with) any subcommand.
type globalOptions struct {
	configPath string
	debug      bool
}

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures the lipgloss color profile.
// ENVAGENT_COLOR overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("ENVAGENT_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	// NO_COLOR and non-terminal stdout get plain text.
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
}

func main() {
	opts, args := extractGlobalFlags(os.Args[1:])
	os.Exit(dispatch(opts, args, os.Stdin, os.Stdout, os.Stderr))
}

// dispatch runs a subcommand and returns the process exit code.
func dispatch(opts globalOptions, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return handleRun(opts, nil, stdin, stdout, stderr)
	}
	switch args[0] {
	case "run":
		return handleRun(opts, args[1:], stdin, stdout, stderr)
	case "probe":
		return handleProbe(args[1:], stdout, stderr)
	case "history":
		return handleHistory(opts, args[1:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "envagent v%s\n", Version)
		return 0
	case "help", "--help", "-h":
		printHelp(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp(stderr)
		return 2
	}
}

// extractGlobalFlags pulls --config/-c and --debug out of args, returning
// the options and the remaining args.
func extractGlobalFlags(args []string) (globalOptions, []string) {
	var opts globalOptions
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			opts.configPath = v
			continue
		}
		if v, ok := strings.CutPrefix(arg, "-c="); ok {
			opts.configPath = v
			continue
		}
		if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				opts.configPath = args[i+1]
				i++
				continue
			}
		}
		if arg == "--debug" {
			opts.debug = true
			continue
		}

		remaining = append(remaining, arg)
	}

	return opts, remaining
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "envagent v%s\n", Version)
	fmt.Fprintln(w, "Drive a shell inside a Docker container and detect when each command is done")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: envagent [--config path] [--debug] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Options:")
	fmt.Fprintln(w, "  -c, --config <path>   Config file (default: ~/.envagent/config.toml)")
	fmt.Fprintln(w, "  --debug               Write debug logs to ~/.envagent/logs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run (default)         Start the container and read commands from stdin")
	fmt.Fprintln(w, "  probe <pid>           Print IDLE or BUSY for a shell (run inside the container)")
	fmt.Fprintln(w, "  history               Show recently executed commands")
	fmt.Fprintln(w, "  version               Show version")
	fmt.Fprintln(w, "  help                  Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  envagent                              # Start with default config")
	fmt.Fprintln(w, "  printf 'nvidia-smi\\nexit\\n' | envagent # Scripted session")
	fmt.Fprintln(w, "  envagent probe --tree 42              # Inspect pid 42 and show busy tree")
	fmt.Fprintln(w, "  envagent history --limit 5 --json     # Last five commands as JSON")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  ENVAGENT_CONFIG    Config file path")
	fmt.Fprintln(w, "  ENVAGENT_DEBUG     Enable debug logging")
	fmt.Fprintln(w, "  ENVAGENT_COLOR     Color mode: truecolor, 256, 16, none")
}
