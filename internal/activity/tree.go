// Package activity decides whether a shell's process tree is busy running a
// real foreground task or idle with only supervisor processes left.
//
// Each probe materializes a fresh ProcessNode tree from the process table,
// classifies it, and throws it away. Nothing is remembered across probes.
package activity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrProcessNotFound is returned by an Inspector when the root pid is not a
// live process.
var ErrProcessNotFound = errors.New("process not found")

// NodeStatus describes how much is known about a process.
type NodeStatus int

const (
	// StatusAlive means the process exists and its command line was read.
	StatusAlive NodeStatus = iota
	// StatusUnreachable means the process exited mid-walk, is a zombie, or
	// access was denied.
	StatusUnreachable
	// StatusFaulted means inspection failed for an unexpected reason.
	StatusFaulted
)

func (s NodeStatus) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusUnreachable:
		return "unreachable"
	case StatusFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("NodeStatus(%d)", int(s))
	}
}

// ProcessNode is one process in a snapshot tree.
type ProcessNode struct {
	PID     int
	Cmdline []string
	// State is the single-letter kernel state ("R", "S", "Z", ...) when known.
	State    string
	Status   NodeStatus
	Children []*ProcessNode
}

// CommandLine returns the argv joined by spaces.
func (n *ProcessNode) CommandLine() string {
	return strings.Join(n.Cmdline, " ")
}

// Walk visits n and every descendant depth-first.
func (n *ProcessNode) Walk(fn func(node *ProcessNode, depth int)) {
	n.walk(fn, 0)
}

func (n *ProcessNode) walk(fn func(*ProcessNode, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Inspector builds the descendant tree of a root pid.
// It returns ErrProcessNotFound when the root is gone, and any other error
// when the process table itself could not be read.
type Inspector interface {
	Inspect(ctx context.Context, rootPID int) (*ProcessNode, error)
}

// processRow is one line of a process table listing.
type processRow struct {
	pid     int
	ppid    int
	state   string
	cmdline []string
	status  NodeStatus
}

// buildTree links rows into a tree rooted at rootPID.
// Rows whose parent chain never reaches the root are ignored.
func buildTree(rows []processRow, rootPID int) (*ProcessNode, bool) {
	nodes := make(map[int]*ProcessNode, len(rows))
	children := make(map[int][]int, len(rows))
	for _, r := range rows {
		nodes[r.pid] = &ProcessNode{
			PID:     r.pid,
			Cmdline: r.cmdline,
			State:   r.state,
			Status:  r.status,
		}
		if r.pid != r.ppid {
			children[r.ppid] = append(children[r.ppid], r.pid)
		}
	}

	root, ok := nodes[rootPID]
	if !ok {
		return nil, false
	}

	// BFS with a visited set; pid reuse races can produce cycles in a
	// non-atomic listing.
	visited := map[int]bool{rootPID: true}
	queue := []*ProcessNode{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, pid := range children[parent.PID] {
			if visited[pid] {
				continue
			}
			visited[pid] = true
			child := nodes[pid]
			parent.Children = append(parent.Children, child)
			queue = append(queue, child)
		}
	}
	return root, true
}

// stateNames mirrors the words ps and psutil print for kernel states.
var stateNames = map[string]string{
	"R": "running",
	"S": "sleeping",
	"D": "disk-sleep",
	"Z": "zombie",
	"T": "stopped",
	"t": "tracing-stop",
	"X": "dead",
	"I": "idle",
}

// RenderTree writes an indented listing of the tree, one process per line:
//
//	|-- PID 12 (sleeping): bash
//	  |-- PID 40 (running): python script.py
func RenderTree(w io.Writer, root *ProcessNode) error {
	if root == nil {
		return nil
	}
	var err error
	root.Walk(func(n *ProcessNode, depth int) {
		if err != nil {
			return
		}
		state := stateNames[n.State]
		if state == "" {
			state = n.Status.String()
		}
		cmd := n.CommandLine()
		if n.Status != StatusAlive || cmd == "" {
			cmd = "<Access Denied or Exited>"
		}
		_, err = fmt.Fprintf(w, "%s|-- PID %d (%s): %s\n", strings.Repeat("  ", depth), n.PID, state, cmd)
	})
	return err
}
