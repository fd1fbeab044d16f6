package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProc adds <root>/<pid>/{stat,cmdline} to a fake procfs.
func writeProc(t *testing.T, root string, pid, ppid int, state string, argv ...string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stat := strconv.Itoa(pid) + " (x) " + state + " " + strconv.Itoa(ppid) + " 1 1 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	cmdline := ""
	if len(argv) > 0 {
		cmdline = strings.Join(argv, "\x00") + "\x00"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
}

// newProcRoot returns an empty fake procfs. The self entry is what marks a
// directory as a mounted procfs.
func newProcRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "self"), 0o755))
	return root
}

func runProbe(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut strings.Builder
	code := handleProbe(args, &out, &errOut)
	return code, out.String()
}

func TestProbeBadArguments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
	}{
		{"missing pid", nil},
		{"not a number", []string{"abc"}},
		{"negative", []string{"-5"}},
		{"zero", []string{"0"}},
		{"extra args", []string{"1", "2"}},
		{"unknown flag", []string{"--bogus", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, out := runProbe(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Equal(t, "BUSY\n", out)
		})
	}
}

func TestProbeIdleShell(t *testing.T) {
	t.Parallel()
	root := newProcRoot(t)
	writeProc(t, root, 100, 1, "S", "-bash")
	writeProc(t, root, 101, 100, "S", "pixi", "shell")
	writeProc(t, root, 102, 101, "S", "/bin/bash")
	writeProc(t, root, 103, 100, "R", "envagent", "probe", "100")

	code, out := runProbe(t, "--proc", root, "--tree", "100")
	assert.Equal(t, 0, code)
	assert.Equal(t, "IDLE\n", out)
}

func TestProbeBusyShellWithTree(t *testing.T) {
	t.Parallel()
	root := newProcRoot(t)
	writeProc(t, root, 100, 1, "S", "-bash")
	writeProc(t, root, 101, 100, "S", "conda", "run", "-n", "ml", "python", "train.py")
	writeProc(t, root, 102, 101, "R", "python", "train.py")

	code, out := runProbe(t, "100", "--tree", "--proc", root)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "--- BUSY: Active Children Found ---\n"))
	assert.Contains(t, out, "|-- PID 100 (sleeping): -bash\n")
	assert.Contains(t, out, "    |-- PID 102 (running): python train.py\n")
	assert.True(t, strings.HasSuffix(out, "BUSY\n"))
}

func TestProbeBusyWithoutTree(t *testing.T) {
	t.Parallel()
	root := newProcRoot(t)
	writeProc(t, root, 100, 1, "S", "bash")
	writeProc(t, root, 101, 100, "R", "make", "-j8")

	code, out := runProbe(t, "--proc", root, "100")
	assert.Equal(t, 0, code)
	assert.Equal(t, "BUSY\n", out)
}

func TestProbeMissingRootIsIdle(t *testing.T) {
	t.Parallel()
	code, out := runProbe(t, "--proc", newProcRoot(t), "4242")
	assert.Equal(t, 0, code)
	assert.Equal(t, "IDLE\n", out)
}

func TestProbeWithoutProcfsIsBusy(t *testing.T) {
	t.Parallel()
	code, out := runProbe(t, "--proc", t.TempDir(), "4242")
	assert.Equal(t, 1, code)
	assert.Equal(t, "BUSY\n", out)
}

func TestProbeListWrappers(t *testing.T) {
	t.Parallel()
	code, out := runProbe(t, "--list-wrappers")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "  ash bash dash fish sh zsh\n")
	assert.Contains(t, out, "  pixi shell\n")
	assert.Contains(t, out, "  /usr/bin/tmux server\n")
	assert.NotContains(t, out, "BUSY")
}
