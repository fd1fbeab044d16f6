package activity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/asheshgoplani/envagent/internal/cmdexec"
)

// psArgs lists every process once, without headers, as
// "pid ppid stat args...".
var psArgs = []string{"-eo", "pid=,ppid=,stat=,args="}

// PSSignature is the command line the ps listing itself shows up with. Pass
// it as the self signature when ps runs inside the monitored tree.
const PSSignature = "ps -eo pid=,ppid=,stat=,args="

// PSInspector snapshots the process table with a single ps call. The runner
// decides where ps runs: locally or through docker exec.
type PSInspector struct {
	runner cmdexec.Runner
}

// NewPSInspector returns an inspector that runs ps through runner.
func NewPSInspector(runner cmdexec.Runner) *PSInspector {
	if runner == nil {
		runner = cmdexec.Local{}
	}
	return &PSInspector{runner: runner}
}

// Inspect implements Inspector.
func (p *PSInspector) Inspect(ctx context.Context, rootPID int) (*ProcessNode, error) {
	out, err := p.runner.Run(ctx, "ps", psArgs...)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %s: %w", strings.TrimSpace(string(out)), err)
	}
	rows := parsePSOutput(string(out))
	if len(rows) == 0 {
		return nil, fmt.Errorf("listing processes: empty process table")
	}
	root, ok := buildTree(rows, rootPID)
	if !ok {
		return nil, ErrProcessNotFound
	}
	return root, nil
}

// parsePSOutput parses `ps -eo pid=,ppid=,stat=,args=` output. Malformed
// lines are skipped. Zombies and rows without a command line are marked
// unreachable.
func parsePSOutput(out string) []processRow {
	var rows []processRow
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || pid <= 0 {
			continue
		}
		state := fields[2][:1]
		row := processRow{
			pid:     pid,
			ppid:    ppid,
			state:   state,
			cmdline: fields[3:],
			status:  StatusAlive,
		}
		if state == "Z" || state == "X" || len(row.cmdline) == 0 {
			row.status = StatusUnreachable
		}
		rows = append(rows, row)
	}
	return rows
}
