package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Palette follows Tokyo Night, with light-background variants.
var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#34548a", Dark: "#7aa2f7"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#485e30", Dark: "#9ece6a"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#8f5e15", Dark: "#e0af68"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#8c4351", Dark: "#f7768e"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#6a6d7c", Dark: "#787fa0"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

// Symbols for human-readable output
const (
	successSymbol = "✓"
	warnSymbol    = "!"
	errorSymbol   = "✕"
	bulletSymbol  = "•"
)

// CLIOutput handles consistent output formatting across all CLI commands
type CLIOutput struct {
	out      io.Writer
	errOut   io.Writer
	jsonMode bool
}

// NewCLIOutput creates a new CLI output handler
func NewCLIOutput(out, errOut io.Writer, jsonMode bool) *CLIOutput {
	return &CLIOutput{out: out, errOut: errOut, jsonMode: jsonMode}
}

// Success prints a success line.
func (c *CLIOutput) Success(message string) {
	if c.jsonMode {
		return
	}
	fmt.Fprintln(c.out, successStyle.Render(successSymbol)+" "+message)
}

// Warn prints a warning line.
func (c *CLIOutput) Warn(message string) {
	if c.jsonMode {
		return
	}
	fmt.Fprintln(c.out, warnStyle.Render(warnSymbol+" "+message))
}

// Info prints a dimmed informational line.
func (c *CLIOutput) Info(message string) {
	if c.jsonMode {
		return
	}
	fmt.Fprintln(c.out, dimStyle.Render(bulletSymbol+" "+message))
}

// Error prints an error message or JSON error response
func (c *CLIOutput) Error(message string) {
	if c.jsonMode {
		c.printJSON(map[string]any{
			"success": false,
			"error":   message,
		})
		return
	}
	fmt.Fprintln(c.errOut, errorStyle.Render(errorSymbol+" Error:")+" "+message)
}

// Print prints data (human-readable or JSON)
func (c *CLIOutput) Print(humanOutput string, jsonData any) {
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Fprint(c.out, humanOutput)
}

func (c *CLIOutput) printJSON(data any) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: failed to format JSON: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(output))
}

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "probe 42 --tree" silently ignores --tree.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		// Negative numbers are positional (an invalid pid, not a flag).
		if strings.HasPrefix(arg, "-") && arg != "-" && !isNumeric(arg[1:]) {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// truncate shortens s to at most width terminal cells, marking the cut
// with an ellipsis. Wide characters count as two cells.
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// padRight pads s with spaces to width terminal cells.
func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}
