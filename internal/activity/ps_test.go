package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/envagent/internal/cmdexec"
)

const samplePS = `    1     0 Ss   /bin/bash
   20     1 S+   tmux new-session -d -s env_agent_session -n main
   21    20 Ss   -bash
   30    21 S+   pixi shell
   31    30 S    bash
   32    31 R+   make build
   33    31 Z    [sh] <defunct>
   40     1 R    ps -eo pid=,ppid=,stat=,args=
  garbage line
   50    99 S    sleep 1000
`

func TestParsePSOutput(t *testing.T) {
	t.Parallel()
	rows := parsePSOutput(samplePS)
	require.Len(t, rows, 9)

	assert.Equal(t, processRow{pid: 1, ppid: 0, state: "S", cmdline: []string{"/bin/bash"}, status: StatusAlive}, rows[0])
	assert.Equal(t, "R", rows[5].state)
	assert.Equal(t, StatusUnreachable, rows[6].status, "zombie")
}

func TestPSInspectorBuildsSubtree(t *testing.T) {
	t.Parallel()
	var gotName string
	var gotArgs []string
	runner := cmdexec.Func(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(samplePS), nil
	})

	root, err := NewPSInspector(runner).Inspect(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, "ps", gotName)
	assert.Equal(t, []string{"-eo", "pid=,ppid=,stat=,args="}, gotArgs)

	require.Len(t, root.Children, 1)
	pixi := root.Children[0]
	assert.Equal(t, 30, pixi.PID)
	require.Len(t, pixi.Children, 1)
	assert.Len(t, pixi.Children[0].Children, 2)

	rep := NewMonitor(NewPSInspector(runner), PSSignature).Probe(context.Background(), 21)
	assert.Equal(t, Busy, rep.Verdict)
}

func TestPSInspectorSelfExcluded(t *testing.T) {
	t.Parallel()
	runner := cmdexec.Func(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("1 0 Ss bash\n40 1 R ps -eo pid=,ppid=,stat=,args=\n"), nil
	})
	rep := NewMonitor(NewPSInspector(runner), PSSignature).Probe(context.Background(), 1)
	assert.Equal(t, Idle, rep.Verdict)
}

func TestPSInspectorRootMissing(t *testing.T) {
	t.Parallel()
	runner := cmdexec.Func(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(samplePS), nil
	})
	_, err := NewPSInspector(runner).Inspect(context.Background(), 777)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestPSInspectorRunFailure(t *testing.T) {
	t.Parallel()
	runner := cmdexec.Func(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Error: No such container: envagent_container"), errors.New("exit status 1")
	})
	_, err := NewPSInspector(runner).Inspect(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProcessNotFound)
	assert.Contains(t, err.Error(), "No such container")
}
