package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/iklabib/nssweep/configs"
	"codeberg.org/iklabib/nssweep/manifest"
	"codeberg.org/iklabib/nssweep/util"
	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
)

// SweepFlags select and override a sweep. Precedence: flags, then the
// config file, then the preset.
type SweepFlags struct {
	Config     string `help:"Sweep file (YAML) applied on top of the preset." short:"c" type:"existingfile"`
	Preset     string `help:"Built-in sweep to start from." short:"p"`
	Sim        string `help:"Scratch program name, e.g. lab2-part1."`
	Ns3Dir     string `help:"ns-3 source tree." name:"ns3-dir" type:"path"`
	Executable string `help:"Simulator binary, skips discovery." type:"path"`
	Trials     int    `help:"Trials per point, switches to trials mode." default:"-1"`
}

type CLI struct {
	LogLevel string `help:"Log level." default:"info" enum:"trace,debug,info,warn,error"`

	Run struct {
		Sweep        SweepFlags    `embed:""`
		Output       string        `help:"Result table path." short:"o"`
		Format       string        `help:"Result table format (csv, xlsx)."`
		TimeLimit    time.Duration `help:"Per invocation time limit, 0 waits forever."`
		Retries      int           `help:"Extra attempts for a failed invocation." default:"-1"`
		Manifest     bool          `help:"Write a YAML run manifest next to the result table."`
		ManifestPath string        `help:"Write the run manifest to this path instead." name:"manifest-path" type:"path"`
	} `cmd:"" help:"Run a sweep and write the result table."`

	Resolve struct {
		Sweep SweepFlags `embed:""`
	} `cmd:"" help:"Print how the simulator would be launched."`

	Points struct {
		Sweep SweepFlags `embed:""`
	} `cmd:"" help:"Print the parameter grid in execution order."`

	Presets struct{} `cmd:"" help:"List built-in sweeps."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nssweep"),
		kong.Description("Parameter sweeps over ns-3 scratch simulations."),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "run":
		s, preset, err := cli.Run.Sweep.load()
		util.Bail(logger, err)
		applyRunFlags(&s, &cli)
		util.Bail(logger, s.Validate())
		util.Bail(logger, run(ctx, logger, s, preset, manifestFile(&cli, s.Output)))
	case "resolve":
		s, _, err := cli.Resolve.Sweep.load()
		util.Bail(logger, err)
		util.Bail(logger, resolve(ctx, logger, s))
	case "points":
		s, _, err := cli.Points.Sweep.load()
		util.Bail(logger, err)
		util.Bail(logger, points(s))
	case "presets":
		util.Bail(logger, presets())
	default:
		util.MessageBail(logger, fmt.Sprintf("unknown command %s", kctx.Command()))
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func (f SweepFlags) load() (configs.Sweep, string, error) {
	base := configs.Default()
	if f.Preset != "" {
		var err error
		if base, err = configs.Preset(f.Preset); err != nil {
			return configs.Sweep{}, "", err
		}
	}
	// the file is validated on unpack, flags must already be in place
	f.apply(&base)

	s := base
	if f.Config != "" {
		var err error
		if s, err = configs.Load(f.Config, base); err != nil {
			return configs.Sweep{}, "", err
		}
		f.apply(&s)
	}
	return s, f.Preset, s.Validate()
}

func (f SweepFlags) apply(s *configs.Sweep) {
	if f.Sim != "" {
		s.Simulator = f.Sim
	}
	if f.Ns3Dir != "" {
		s.Ns3Dir = f.Ns3Dir
	}
	if f.Executable != "" {
		s.Executable = f.Executable
	}
	if f.Trials >= 0 {
		s.Mode = configs.ModeTrials
		s.Trials = f.Trials
	}
}

// manifestFile is where run writes the manifest, empty when none was asked for.
func manifestFile(cli *CLI, output string) string {
	switch {
	case cli.Run.ManifestPath != "":
		return cli.Run.ManifestPath
	case cli.Run.Manifest:
		return manifest.PathFor(output)
	}
	return ""
}

func applyRunFlags(s *configs.Sweep, cli *CLI) {
	if cli.Run.Output != "" {
		s.Output = cli.Run.Output
	}
	if cli.Run.Format != "" {
		s.Format = cli.Run.Format
	}
	if cli.Run.TimeLimit > 0 {
		s.TimeLimit = cli.Run.TimeLimit
	}
	if cli.Run.Retries >= 0 {
		s.Retries = cli.Run.Retries
	}
}
