package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"codeberg.org/iklabib/nssweep/cgroup"
	"codeberg.org/iklabib/nssweep/configs"
	"codeberg.org/iklabib/nssweep/grid"
	"codeberg.org/iklabib/nssweep/invoker"
	"codeberg.org/iklabib/nssweep/manifest"
	"codeberg.org/iklabib/nssweep/metric"
	"codeberg.org/iklabib/nssweep/resolver"
	"codeberg.org/iklabib/nssweep/restrict"
	"codeberg.org/iklabib/nssweep/sweep"
	"codeberg.org/iklabib/nssweep/table"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func run(ctx context.Context, logger *logrus.Logger, s configs.Sweep, preset, manifestPath string) error {
	grammar, err := metric.Builtin().Select(s.Metrics...)
	if err != nil {
		return err
	}
	g, err := grid.New(s)
	if err != nil {
		return err
	}
	writer, err := table.WriterFor(s.Format)
	if err != nil {
		return err
	}
	for _, rl := range s.Rlimits {
		if err := rl.Validate(); err != nil {
			return err
		}
	}

	cmd, err := resolver.New(s.Ns3Dir, s.Executable, logger).Resolve(ctx, s.Simulator)
	if err != nil {
		return err
	}

	credential, err := restrict.Credential(s.User, s.Group)
	if err != nil {
		return err
	}

	var cg *cgroup.CGroup
	if s.Cgroup.Name != "" {
		if cg, err = cgroup.Setup(s.Cgroup); err != nil {
			return errors.Wrap(err, "failed to set up cgroup")
		}
		defer func() {
			if err := cg.Release(); err != nil {
				logger.WithError(err).Warn("failed to release cgroup")
			}
		}()
	}

	ns3Dir, err := filepath.Abs(s.Ns3Dir)
	if err != nil {
		return err
	}
	output, err := filepath.Abs(s.Output)
	if err != nil {
		return err
	}

	// the driver rebuilds into the tree, results and manifest go next to output
	writable := []string{ns3Dir, filepath.Dir(output)}
	if manifestPath != "" {
		writable = append(writable, filepath.Dir(manifestPath))
	}
	if cg != nil {
		writable = append(writable, cg.Path())
	}
	if err := restrict.Enforce(s.Sandbox, cmd.Path, writable...); err != nil {
		return errors.Wrap(err, "failed to enforce sandbox")
	}

	env := restrict.ChildEnv(s.Envs)
	if env != nil {
		env = append(os.Environ(), env...)
	}

	engine := &sweep.Engine{
		Invoker: &invoker.Process{
			Command:    cmd,
			Dir:        ns3Dir,
			Env:        env,
			TimeLimit:  s.TimeLimit,
			Rlimits:    s.Rlimits,
			Cgroup:     cg,
			Credential: credential,
			Logger:     logger,
		},
		Grammar: grammar,
		Retries: s.Retries,
		Logger:  logger,
	}

	report, err := engine.Run(ctx, g)
	if err != nil {
		return err
	}

	if err := report.Table.WriteFile(output, writer); err != nil {
		return err
	}
	logger.WithField("path", output).Info("results saved")

	if manifestPath != "" {
		m := manifest.New(s, preset, cmd, grammar, report, output)
		if err := m.Write(manifestPath); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"path": manifestPath, "run_id": m.RunID}).Info("manifest saved")
	}

	summary(report, output)
	return nil
}

func summary(report *sweep.Report, output string) {
	c := color.New(color.FgGreen, color.Bold)
	if report.Failures > 0 || len(report.Table.Warnings()) > 0 {
		c = color.New(color.FgYellow, color.Bold)
	}
	c.Fprintf(os.Stderr, "%d rows written to %s in %s", report.Table.Len(), output, report.Elapsed().Round(time.Millisecond))
	if report.Failures > 0 {
		c.Fprintf(os.Stderr, ", %d failed invocations", report.Failures)
	}
	if n := len(report.Table.Warnings()); n > 0 {
		c.Fprintf(os.Stderr, ", %d values recorded as 0.0", n)
	}
	fmt.Fprintln(os.Stderr)
}

func resolve(ctx context.Context, logger *logrus.Logger, s configs.Sweep) error {
	cmd, err := resolver.New(s.Ns3Dir, s.Executable, logger).Resolve(ctx, s.Simulator)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t(%s)\n", cmd.String(), cmd.Via)
	return nil
}

func points(s configs.Sweep) error {
	g, err := grid.New(s)
	if err != nil {
		return err
	}
	for _, p := range g.Points() {
		fmt.Println(strings.Join(invoker.Args(p), " "))
	}
	fmt.Fprintf(os.Stderr, "%d rows, %d invocations\n", g.Len(), g.Invocations())
	return nil
}

func presets() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIMULATOR\tVARY\tMODE\tOUTPUT")
	for _, name := range configs.PresetNames() {
		s, err := configs.Preset(name)
		if err != nil {
			return err
		}
		mode := s.Mode
		if s.Repeated() {
			mode = fmt.Sprintf("%s(%d)", s.Mode, s.Trials)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, s.Simulator, s.Vary, mode, s.Output)
	}
	return w.Flush()
}
