package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/envagent/internal/activity"
	"github.com/asheshgoplani/envagent/internal/platform"
)

// probeSelfSignature is how this subcommand appears in the process table.
const probeSelfSignature = "envagent probe"

// handleProbe prints IDLE or BUSY for the shell pid given as argument. It
// reads /proc directly, so it runs next to the shell (inside the container).
// Bad arguments print BUSY and exit 1 so callers never mistake a usage
// error for completion.
func handleProbe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	self := fs.String("self", probeSelfSignature, "Command-line substring that is never counted as activity")
	tree := fs.Bool("tree", false, "Print the process tree when BUSY")
	procRoot := fs.String("proc", activity.DefaultProcRoot, "procfs mount point")
	timeout := fs.Duration("timeout", 10*time.Second, "Give up (and report BUSY) after this long")
	listWrappers := fs.Bool("list-wrappers", false, "Print the processes never counted as work, then exit")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: envagent probe [options] <pid>")
		fmt.Fprintln(stderr, "       envagent probe --list-wrappers")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Report whether anything is still running under a shell.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		fmt.Fprintln(stdout, activity.Busy)
		return 1
	}
	if *listWrappers {
		printWrappers(stdout)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stdout, activity.Busy)
		return 1
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil || pid <= 0 {
		fmt.Fprintln(stdout, activity.Busy)
		return 1
	}

	// Without procfs every pid looks gone, which would read as IDLE.
	if !platform.HasProcfs(*procRoot) {
		fmt.Fprintf(stderr, "Error: no procfs at %s (platform %s)\n", *procRoot, platform.Detect())
		fmt.Fprintln(stdout, activity.Busy)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	monitor := activity.NewMonitor(activity.NewProcfsInspector(*procRoot), *self)
	report := monitor.Probe(ctx, pid)

	if report.Verdict == activity.Busy && *tree && report.Root != nil {
		fmt.Fprintln(stdout, "--- BUSY: Active Children Found ---")
		if err := activity.RenderTree(stdout, report.Root); err != nil {
			fmt.Fprintf(stderr, "Error: rendering tree: %v\n", err)
		}
		fmt.Fprintln(stdout, "-----------------------------------")
	}
	fmt.Fprintln(stdout, report.Verdict)
	return 0
}

// printWrappers lists what the classifier treats as a persistent wrapper.
func printWrappers(w io.Writer) {
	fmt.Fprintln(w, "Shells (first argument basename):")
	fmt.Fprintln(w, "  "+strings.Join(activity.WrapperShells(), " "))
	fmt.Fprintln(w, "Supervisor signatures (substring of the command line):")
	for _, sig := range activity.WrapperSignatures() {
		fmt.Fprintln(w, "  "+sig)
	}
}
