// Package resolver finds how to launch a compiled ns-3 scratch program.
//
// Strategies are tried in order: an explicit path, the ns3 driver
// (`./ns3 run <sim> --`), then a scan of build/scratch. Only when all of
// them fail is resolution fatal.
package resolver

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"codeberg.org/iklabib/nssweep/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrUnresolvable = errors.New("could not locate simulator executable")

// Command is the resolved invocation prefix.
type Command struct {
	Path    string   `json:"path" yaml:"path"`
	Leading []string `json:"leading,omitempty" yaml:"leading,omitempty"`
	Via     string   `json:"via" yaml:"via"` // strategy name
}

// Args is the full argv: path, leading args, then extra.
func (c Command) Args(extra ...string) []string {
	argv := make([]string, 0, 1+len(c.Leading)+len(extra))
	argv = append(argv, c.Path)
	argv = append(argv, c.Leading...)
	return append(argv, extra...)
}

func (c Command) String() string {
	return strings.Join(c.Args(), " ")
}

type Strategy interface {
	Name() string
	Resolve(ctx context.Context, sim string) (Command, error)
}

// Explicit trusts a user supplied path after checking it can be executed.
type Explicit struct {
	Path string
}

func (Explicit) Name() string { return "explicit" }

func (e Explicit) Resolve(ctx context.Context, sim string) (Command, error) {
	path, err := filepath.Abs(e.Path)
	if err != nil {
		return Command{}, err
	}
	if err := checkExecutable(path); err != nil {
		return Command{}, err
	}
	return Command{Path: path, Via: e.Name()}, nil
}

// ProbeFunc runs the driver once and reports whether it worked.
type ProbeFunc func(ctx context.Context, dir string, argv ...string) error

// Driver uses the ns3 wrapper script. The probe triggers the build of the
// scratch program; a failing build is not fatal, it only sends the chain
// on to the next strategy.
type Driver struct {
	Dir   string
	Probe ProbeFunc
}

func (Driver) Name() string { return "driver" }

func (d Driver) Resolve(ctx context.Context, sim string) (Command, error) {
	dir, err := filepath.Abs(d.Dir)
	if err != nil {
		return Command{}, err
	}
	driver := filepath.Join(dir, "ns3")

	probe := d.Probe
	if probe == nil {
		probe = RunProbe
	}
	if err := probe(ctx, dir, driver, "run", sim); err != nil {
		return Command{}, errors.Wrapf(err, "%s run %s", driver, sim)
	}

	return Command{Path: driver, Leading: []string{"run", sim, "--"}, Via: d.Name()}, nil
}

// RunProbe executes argv in dir and folds its output into the error.
func RunProbe(ctx context.Context, dir string, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if excerpt := util.Excerpt(out.String(), 500); excerpt != "" {
			return errors.Wrap(err, excerpt)
		}
		return err
	}
	return nil
}

// BuildTree scans <dir>/build/scratch/ns3.*/ for ns3*<sim>*.
type BuildTree struct {
	Dir string
}

const (
	scratchDir    = "build/scratch"
	versionPrefix = "ns3."
	binaryPrefix  = "ns3"
)

func (BuildTree) Name() string { return "build-tree" }

func (b BuildTree) Resolve(ctx context.Context, sim string) (Command, error) {
	root, err := filepath.Abs(b.Dir)
	if err != nil {
		return Command{}, err
	}
	scratch := filepath.Join(root, filepath.FromSlash(scratchDir))

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return Command{}, errors.Wrap(err, "failed to list build output")
	}

	// ReadDir sorts by name, the first versioned directory wins
	version := ""
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), versionPrefix) {
			version = e.Name()
			break
		}
	}
	if version == "" {
		return Command{}, errors.Errorf("no %s* directory under %s", versionPrefix, scratch)
	}

	versionDir := filepath.Join(scratch, version)
	files, err := os.ReadDir(versionDir)
	if err != nil {
		return Command{}, errors.Wrap(err, "failed to list versioned build output")
	}

	for _, f := range files {
		name := f.Name()
		if !strings.HasPrefix(name, binaryPrefix) || !strings.Contains(name, sim) {
			continue
		}
		path := filepath.Join(versionDir, name)
		if checkExecutable(path) != nil {
			continue
		}
		return Command{Path: path, Via: b.Name()}, nil
	}
	return Command{}, errors.Errorf("no %s*%s* executable in %s", binaryPrefix, sim, versionDir)
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return errors.Errorf("%s is not a regular file", path)
	}
	if fi.Mode().Perm()&0o111 == 0 {
		return errors.Errorf("%s is not executable", path)
	}
	return nil
}

// Chain tries each strategy in turn and logs every attempt.
type Chain struct {
	Strategies []Strategy
	Logger     logrus.FieldLogger
}

// New builds the usual chain. explicit may be empty.
func New(ns3Dir, explicit string, logger logrus.FieldLogger) Chain {
	var strategies []Strategy
	if explicit != "" {
		strategies = append(strategies, Explicit{Path: explicit})
	}
	strategies = append(strategies, Driver{Dir: ns3Dir}, BuildTree{Dir: ns3Dir})
	return Chain{Strategies: strategies, Logger: logger}
}

func (c Chain) Resolve(ctx context.Context, sim string) (Command, error) {
	logger := c.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("simulator", sim)

	var reasons []string
	for _, s := range c.Strategies {
		cmd, err := s.Resolve(ctx, sim)
		if err == nil {
			logger.WithFields(logrus.Fields{"strategy": s.Name(), "command": cmd.String()}).Info("resolved simulator")
			return cmd, nil
		}
		if ctx.Err() != nil {
			return Command{}, ctx.Err()
		}
		logger.WithError(err).WithField("strategy", s.Name()).Warn("resolution strategy failed, trying next")
		reasons = append(reasons, s.Name()+": "+err.Error())
	}

	if len(reasons) == 0 {
		return Command{}, errors.Wrap(ErrUnresolvable, "no strategies configured")
	}
	return Command{}, errors.Wrap(ErrUnresolvable, strings.Join(reasons, "; "))
}
