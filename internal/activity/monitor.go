package activity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/asheshgoplani/envagent/internal/logging"
)

var probeLog = logging.ForComponent(logging.CompProbe)

// Verdict is the aggregate state of a monitored shell.
type Verdict string

const (
	Idle Verdict = "IDLE"
	Busy Verdict = "BUSY"
)

// Reason explains how a verdict was reached.
type Reason string

const (
	ReasonRootGone      Reason = "root_gone"
	ReasonInspectFailed Reason = "inspect_failed"
	ReasonActiveChild   Reason = "active_child"
	ReasonNoActiveChild Reason = "no_active_child"
)

// Report is the result of one probe.
type Report struct {
	Verdict Verdict
	Reason  Reason
	// Root is the snapshot the verdict was computed from. Nil when the
	// root was gone or the table could not be read.
	Root *ProcessNode
	// Active holds the direct children judged active.
	Active []*ProcessNode
	// Err is the inspection error behind ReasonInspectFailed.
	Err error
}

// Monitor answers "is this shell still running something?".
type Monitor struct {
	inspector     Inspector
	selfSignature string
}

// NewMonitor creates a monitor. selfSignature is excluded from activity; see
// IsActiveTask.
func NewMonitor(inspector Inspector, selfSignature string) *Monitor {
	return &Monitor{inspector: inspector, selfSignature: selfSignature}
}

// Probe takes a fresh snapshot under rootPID and classifies it.
//
// A root that no longer exists is IDLE: there is nothing left to wait for.
// A process table that cannot be read is BUSY: never report completion
// while introspection itself is failing.
func (m *Monitor) Probe(ctx context.Context, rootPID int) Report {
	root, err := m.inspector.Inspect(ctx, rootPID)
	if err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			probeLog.Debug("root_gone", slog.Int("pid", rootPID))
			return Report{Verdict: Idle, Reason: ReasonRootGone}
		}
		probeLog.Warn("inspect_failed", slog.Int("pid", rootPID), slog.String("error", err.Error()))
		return Report{Verdict: Busy, Reason: ReasonInspectFailed, Err: err}
	}

	var active []*ProcessNode
	for _, child := range root.Children {
		if IsActiveTask(child, m.selfSignature) {
			active = append(active, child)
		}
	}
	if len(active) > 0 {
		return Report{Verdict: Busy, Reason: ReasonActiveChild, Root: root, Active: active}
	}
	return Report{Verdict: Idle, Reason: ReasonNoActiveChild, Root: root}
}
