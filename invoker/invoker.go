package invoker

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/iklabib/nssweep/cgroup"
	"codeberg.org/iklabib/nssweep/model"
	"codeberg.org/iklabib/nssweep/resolver"
	"codeberg.org/iklabib/nssweep/rlimit"
	"codeberg.org/iklabib/nssweep/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotExecutable means no point of the sweep can run.
var ErrNotExecutable = errors.New("simulator is not executable")

const stderrExcerpt = 500

// Invoker runs the simulator for one point. A non-zero exit is reported
// through InvocationResult.Failed, the error is reserved for failures that
// make the rest of the sweep pointless.
type Invoker interface {
	Invoke(ctx context.Context, point model.ParameterPoint) (model.InvocationResult, error)
}

// Func adapts a plain function, mostly for stubs.
type Func func(ctx context.Context, point model.ParameterPoint) (model.InvocationResult, error)

func (f Func) Invoke(ctx context.Context, point model.ParameterPoint) (model.InvocationResult, error) {
	return f(ctx, point)
}

// Args renders the simulator flags for a point.
func Args(p model.ParameterPoint) []string {
	args := []string{
		"--nFlows=" + strconv.Itoa(p.Flows),
		"--transport_prot=" + string(p.Protocol),
		"--dataRate=" + p.DataRate,
		"--delay=" + strconv.Itoa(p.DelayMs) + "ms",
		"--errorRate=" + strconv.FormatFloat(p.ErrorRate, 'g', -1, 64),
	}
	if p.RunIndex > 0 {
		args = append(args, "--run="+strconv.Itoa(p.RunIndex))
	}
	return args
}

type Process struct {
	Command    resolver.Command
	Dir        string
	Env        []string
	TimeLimit  time.Duration // 0 waits forever
	Rlimits    []rlimit.Rlimit
	Cgroup     *cgroup.CGroup
	Credential *syscall.Credential
	Logger     logrus.FieldLogger
}

func (p *Process) Invoke(ctx context.Context, point model.ParameterPoint) (model.InvocationResult, error) {
	logger := p.logger().WithFields(Fields(point))

	if p.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.TimeLimit)
		defer cancel()
	}

	argv := p.Command.Args(Args(point)...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	cmd.WaitDelay = 5 * time.Second
	// the ns3 driver forks the real binary, kill the whole group
	var group killer
	if p.Cgroup != nil {
		group = p.Cgroup
	}
	cmd.Cancel = func() error {
		return terminate(cmd.Process.Pid, group)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	sysProcAttr := &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: p.Credential,
	}

	var before cgroup.Events
	if p.Cgroup != nil {
		fd, err := p.Cgroup.GetFD()
		if err != nil {
			return model.InvocationResult{}, errors.Wrapf(err, "failed to open cgroup %s", p.Cgroup.Name())
		}
		sysProcAttr.UseCgroupFD = true
		sysProcAttr.CgroupFD = fd
		if before, err = p.Cgroup.Events(); err != nil {
			logger.WithError(err).Warn("failed to read cgroup events")
		}
	}
	cmd.SysProcAttr = sysProcAttr

	logger.WithField("argv", argv).Debug("invoking simulator")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if isNotExecutable(err) {
			return model.InvocationResult{}, errors.Wrapf(ErrNotExecutable, "%s: %v", argv[0], err)
		}
		// anything else is local to this point
		logger.WithError(err).Warn("simulator failed to start")
		return model.InvocationResult{
			Failed:   true,
			ExitCode: -1,
			Messages: []string{err.Error()},
		}, nil
	}

	var messages []string
	if err := rlimit.ApplyAll(cmd.Process.Pid, p.Rlimits); err != nil {
		messages = append(messages, err.Error())
		logger.WithError(err).Warn("failed to apply rlimits")
	}

	cmd.Wait()
	elapsed := time.Since(start)

	result := collect(cmd.ProcessState, stdout.String(), stderr.String(), elapsed)
	result.Messages = append(result.Messages, messages...)

	if err := ctx.Err(); err != nil {
		result.Failed = true
		if errors.Is(err, context.DeadlineExceeded) {
			result.Messages = append(result.Messages, "time limit exceeded")
		} else if errors.Is(err, context.Canceled) {
			result.Messages = append(result.Messages, "canceled")
		}
	}

	if p.Cgroup != nil {
		if after, err := p.Cgroup.Events(); err == nil {
			result.Messages = append(result.Messages, cgroup.Violations(before, after)...)
		}
	}

	// SIGSYS likely caused by seccomp violation
	if result.Usage.Signal == syscall.SIGSYS {
		result.Messages = append(result.Messages, "security restriction violated")
	}

	if result.Failed {
		logger.WithFields(logrus.Fields{
			"exit_code": result.ExitCode,
			"elapsed":   elapsed.Round(time.Millisecond),
			"messages":  result.Messages,
			"stderr":    util.Excerpt(result.Stderr, stderrExcerpt),
		}).Warn("simulator failed")
	} else {
		logger.WithField("elapsed", elapsed.Round(time.Millisecond)).Debug("simulator finished")
	}

	return result, nil
}

func (p *Process) logger() logrus.FieldLogger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

type killer interface {
	Kill() error
}

// terminate kills the process group of pid, and the cgroup when there is one
// so that daemonized children go too.
func terminate(pid int, group killer) error {
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if group != nil {
		if kerr := group.Kill(); kerr != nil && err == nil {
			err = kerr
		}
	}
	return err
}

func collect(state *os.ProcessState, stdout, stderr string, elapsed time.Duration) model.InvocationResult {
	result := model.InvocationResult{
		Stdout:  stdout,
		Stderr:  stderr,
		Elapsed: elapsed,
	}
	if state == nil {
		result.Failed = true
		result.ExitCode = -1
		return result
	}

	result.ExitCode = state.ExitCode()
	result.Failed = !state.Success()

	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		result.Usage.UserTime = time.Duration(usage.Utime.Nano()) // ns
		result.Usage.SysTime = time.Duration(usage.Stime.Nano())  // ns
		result.Usage.Memory = usage.Maxrss                        // kb
	}

	if !state.Exited() {
		if wt, ok := state.Sys().(syscall.WaitStatus); ok && wt.Signaled() {
			result.Usage.Signal = wt.Signal()
		}
	}
	return result
}

func isNotExecutable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, syscall.ENOEXEC)
}

// Fields are the log fields naming a point.
func Fields(p model.ParameterPoint) logrus.Fields {
	fields := logrus.Fields{
		"protocol":   p.Protocol,
		"flows":      p.Flows,
		"delay_ms":   p.DelayMs,
		"error_rate": p.ErrorRate,
	}
	if p.RunIndex > 0 {
		fields["run"] = p.RunIndex
	}
	return fields
}
