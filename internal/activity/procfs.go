package activity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// DefaultProcRoot is where the kernel mounts procfs.
const DefaultProcRoot = "/proc"

// ProcfsInspector builds trees straight from /proc. It is what the probe
// subcommand uses when it runs inside the container next to the shell.
type ProcfsInspector struct {
	procRoot string
}

// NewProcfsInspector returns an inspector reading from procRoot
// (DefaultProcRoot when empty).
func NewProcfsInspector(procRoot string) *ProcfsInspector {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &ProcfsInspector{procRoot: procRoot}
}

// Inspect implements Inspector.
func (p *ProcfsInspector) Inspect(ctx context.Context, rootPID int) (*ProcessNode, error) {
	if _, err := os.Stat(filepath.Join(p.procRoot, strconv.Itoa(rootPID))); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrProcessNotFound
		}
		return nil, fmt.Errorf("stat root process %d: %w", rootPID, err)
	}

	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.procRoot, err)
	}

	rows := make([]processRow, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		ppid, state, err := p.readStat(pid)
		if err != nil {
			// Exited between ReadDir and now; its children were
			// reparented and will show up under their new parent.
			continue
		}
		rows = append(rows, processRow{pid: pid, ppid: ppid, state: state})
	}

	root, ok := buildTree(rows, rootPID)
	if !ok {
		return nil, ErrProcessNotFound
	}
	root.Walk(func(n *ProcessNode, _ int) {
		p.fillCmdline(n)
	})
	return root, nil
}

// readStat returns the parent pid and state letter from /proc/<pid>/stat.
// The comm field is parenthesized and may itself contain spaces or parens,
// so parsing starts after the last ')'.
func (p *ProcfsInspector) readStat(pid int) (int, string, error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, "", err
	}
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, "", fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data[end+1:]))
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("malformed stat for pid %d", pid)
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", fmt.Errorf("malformed ppid for pid %d: %w", pid, err)
	}
	return ppid, fields[0], nil
}

func (p *ProcfsInspector) fillCmdline(n *ProcessNode) {
	if n.State == "Z" || n.State == "X" {
		n.Status = StatusUnreachable
		return
	}
	data, err := os.ReadFile(filepath.Join(p.procRoot, strconv.Itoa(n.PID), "cmdline"))
	if err != nil {
		n.Status = classifyReadError(err)
		return
	}
	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		// Kernel threads and processes mid-exit expose no argv.
		n.Status = StatusUnreachable
		return
	}
	for _, arg := range bytes.Split(data, []byte{0}) {
		n.Cmdline = append(n.Cmdline, string(arg))
	}
	n.Status = StatusAlive
}

// classifyReadError maps a /proc read failure to a node status. Vanished and
// forbidden processes are expected races; anything else is a fault.
func classifyReadError(err error) NodeStatus {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ESRCH),
		errors.Is(err, fs.ErrPermission):
		return StatusUnreachable
	default:
		return StatusFaulted
	}
}
