package invoker

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"codeberg.org/iklabib/nssweep/model"
	"codeberg.org/iklabib/nssweep/resolver"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ns3-dev-lab2-part1-default")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

var point = model.ParameterPoint{
	Protocol:  model.TcpCubic,
	Flows:     2,
	DataRate:  "1Mbps",
	DelayMs:   100,
	ErrorRate: 0.00001,
}

func TestArgs(t *testing.T) {
	assert.Equal(t, []string{
		"--nFlows=2",
		"--transport_prot=TcpCubic",
		"--dataRate=1Mbps",
		"--delay=100ms",
		"--errorRate=1e-05",
	}, Args(point))

	p := point
	p.RunIndex = 3
	p.ErrorRate = 0.0005
	args := Args(p)
	assert.Equal(t, "--errorRate=0.0005", args[4])
	assert.Equal(t, "--run=3", args[len(args)-1])
}

func TestInvokeCapturesOutput(t *testing.T) {
	path := script(t, `echo "$@"
echo "Total Aggregate Goodput: 0.75 Mbps"
echo "progress" >&2
`)
	logger, _ := test.NewNullLogger()
	p := &Process{Command: resolver.Command{Path: path}, Logger: logger}

	result, err := p.Invoke(context.Background(), point)
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Zero(t, result.ExitCode)
	assert.Contains(t, result.Stdout, "--nFlows=2 --transport_prot=TcpCubic --dataRate=1Mbps --delay=100ms --errorRate=1e-05")
	assert.Contains(t, result.Stdout, "Total Aggregate Goodput: 0.75 Mbps")
	assert.Equal(t, "progress\n", result.Stderr)
	assert.Positive(t, result.Elapsed)
}

func TestInvokeLeadingArgs(t *testing.T) {
	path := script(t, `echo "$@"`)
	p := &Process{
		Command: resolver.Command{Path: path, Leading: []string{"run", "lab2-part1", "--"}},
		Logger:  logrus.New(),
	}
	result, err := p.Invoke(context.Background(), point)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "run lab2-part1 -- --nFlows=2")
}

func TestInvokeNonZeroExitIsAbsorbed(t *testing.T) {
	path := script(t, `echo "assert failed" >&2
exit 3
`)
	logger, hook := test.NewNullLogger()
	p := &Process{Command: resolver.Command{Path: path}, Logger: logger}

	result, err := p.Invoke(context.Background(), point)
	require.NoError(t, err)
	assert.True(t, result.Failed)
	assert.Equal(t, 3, result.ExitCode)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "assert failed", entry.Data["stderr"])
}

func TestInvokeMissingExecutable(t *testing.T) {
	p := &Process{Command: resolver.Command{Path: filepath.Join(t.TempDir(), "missing")}, Logger: logrus.New()}
	_, err := p.Invoke(context.Background(), point)
	assert.True(t, errors.Is(err, ErrNotExecutable))
}

func TestInvokeNotExecutableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	p := &Process{Command: resolver.Command{Path: path}, Logger: logrus.New()}
	_, err := p.Invoke(context.Background(), point)
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestInvokeTimeLimit(t *testing.T) {
	path := script(t, "exec sleep 10\n")
	logger, _ := test.NewNullLogger()
	p := &Process{Command: resolver.Command{Path: path}, TimeLimit: 100 * time.Millisecond, Logger: logger}

	start := time.Now()
	result, err := p.Invoke(context.Background(), point)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, result.Failed)
	assert.Contains(t, result.Messages, "time limit exceeded")
}

func TestInvokeEnvAndDir(t *testing.T) {
	path := script(t, `echo "$NS_LOG"; pwd`)
	dir := t.TempDir()
	p := &Process{
		Command: resolver.Command{Path: path},
		Dir:     dir,
		Env:     []string{"NS_LOG=TcpSocketBase=level_info"},
		Logger:  logrus.New(),
	}
	result, err := p.Invoke(context.Background(), point)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "TcpSocketBase=level_info")
	assert.Contains(t, result.Stdout, resolved)
}

func TestFields(t *testing.T) {
	f := Fields(point)
	assert.NotContains(t, f, "run")
	p := point
	p.RunIndex = 2
	assert.Equal(t, 2, Fields(p)["run"])
}

type fakeGroup struct {
	killed int
}

func (f *fakeGroup) Kill() error {
	f.killed++
	return nil
}

func TestTerminateKillsGroupAndCgroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 10 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	group := &fakeGroup{}
	require.NoError(t, terminate(cmd.Process.Pid, group))
	assert.Equal(t, 1, group.killed)

	err := cmd.Wait()
	require.Error(t, err)
	status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, status.Signaled())
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestTerminateWithoutCgroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 10")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	require.NoError(t, terminate(cmd.Process.Pid, nil))
	assert.Error(t, cmd.Wait())
}
