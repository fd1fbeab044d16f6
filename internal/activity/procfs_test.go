package activity

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc lays out a minimal procfs: <root>/<pid>/{stat,cmdline}.
type fakeProc struct {
	t    *testing.T
	root string
}

func newFakeProc(t *testing.T) *fakeProc {
	return &fakeProc{t: t, root: t.TempDir()}
}

func (f *fakeProc) add(pid, ppid int, state string, argv ...string) {
	f.t.Helper()
	dir := filepath.Join(f.root, strconv.Itoa(pid))
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	comm := "x"
	if len(argv) > 0 {
		comm = filepath.Base(argv[0])
	}
	stat := strconv.Itoa(pid) + " (" + comm + ") " + state + " " + strconv.Itoa(ppid) + " 1 1 0 -1\n"
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	cmdline := ""
	if len(argv) > 0 {
		cmdline = strings.Join(argv, "\x00") + "\x00"
	}
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
}

func TestProcfsInspector(t *testing.T) {
	t.Parallel()
	fp := newFakeProc(t)
	fp.add(1, 0, "S", "/bin/bash")
	fp.add(10, 1, "S", "pixi", "shell")
	fp.add(11, 10, "S", "bash")
	fp.add(12, 11, "R", "python", "train.py", "--epochs", "3")
	fp.add(13, 1, "Z")
	fp.add(99, 2, "S", "unrelated")
	require.NoError(t, os.WriteFile(filepath.Join(fp.root, "uptime"), []byte("1 1"), 0o644))

	root, err := NewProcfsInspector(fp.root).Inspect(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, root.Children, 2)

	var pids []int
	root.Walk(func(n *ProcessNode, _ int) { pids = append(pids, n.PID) })
	assert.ElementsMatch(t, []int{1, 10, 11, 12, 13}, pids)

	var leaf *ProcessNode
	root.Walk(func(n *ProcessNode, _ int) {
		if n.PID == 12 {
			leaf = n
		}
	})
	require.NotNil(t, leaf)
	assert.Equal(t, []string{"python", "train.py", "--epochs", "3"}, leaf.Cmdline)
	assert.Equal(t, StatusAlive, leaf.Status)

	rep := NewMonitor(NewProcfsInspector(fp.root), testSelf).Probe(context.Background(), 1)
	assert.Equal(t, Busy, rep.Verdict)
}

func TestProcfsInspectorZombieUnreachable(t *testing.T) {
	t.Parallel()
	fp := newFakeProc(t)
	fp.add(1, 0, "S", "bash")
	fp.add(2, 1, "Z")

	rep := NewMonitor(NewProcfsInspector(fp.root), testSelf).Probe(context.Background(), 1)
	assert.Equal(t, Idle, rep.Verdict)
	require.Len(t, rep.Root.Children, 1)
	assert.Equal(t, StatusUnreachable, rep.Root.Children[0].Status)
}

func TestProcfsInspectorRootMissing(t *testing.T) {
	t.Parallel()
	fp := newFakeProc(t)
	fp.add(1, 0, "S", "bash")
	_, err := NewProcfsInspector(fp.root).Inspect(context.Background(), 4242)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestProcfsInspectorUnexpectedReadErrorIsFaulted(t *testing.T) {
	t.Parallel()
	fp := newFakeProc(t)
	fp.add(1, 0, "S", "bash")
	fp.add(2, 1, "S", "bash")
	// A directory where cmdline should be: reading it fails with EISDIR.
	cmdline := filepath.Join(fp.root, "2", "cmdline")
	require.NoError(t, os.Remove(cmdline))
	require.NoError(t, os.Mkdir(cmdline, 0o755))

	rep := NewMonitor(NewProcfsInspector(fp.root), testSelf).Probe(context.Background(), 1)
	require.Len(t, rep.Root.Children, 1)
	assert.Equal(t, StatusFaulted, rep.Root.Children[0].Status)
	assert.Equal(t, Busy, rep.Verdict)
}

func TestReadStatCommWithParens(t *testing.T) {
	t.Parallel()
	fp := newFakeProc(t)
	dir := filepath.Join(fp.root, "5")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte("5 (weird ) name) S 3 5 5 0\n"), 0o644))

	ppid, state, err := NewProcfsInspector(fp.root).readStat(5)
	require.NoError(t, err)
	assert.Equal(t, 3, ppid)
	assert.Equal(t, "S", state)
}
