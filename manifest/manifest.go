// Package manifest writes a YAML sidecar describing one finished sweep.
package manifest

import (
	"os"
	"path/filepath"
	"time"

	"codeberg.org/iklabib/nssweep/configs"
	"codeberg.org/iklabib/nssweep/metric"
	"codeberg.org/iklabib/nssweep/resolver"
	"codeberg.org/iklabib/nssweep/sweep"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const Version = 1

type Point struct {
	Protocol  string  `yaml:"protocol"`
	Flows     int     `yaml:"flows"`
	DelayMs   int     `yaml:"delay_ms"`
	ErrorRate float64 `yaml:"error_rate"`
	Run       int     `yaml:"run,omitempty"`
}

type Totals struct {
	Rows        int `yaml:"rows"`
	Invocations int `yaml:"invocations"`
	Failures    int `yaml:"failures"`
	Retried     int `yaml:"retried"`
}

type Manifest struct {
	Version        int              `yaml:"version"`
	RunID          string           `yaml:"run_id"`
	Name           string           `yaml:"name"`
	Preset         string           `yaml:"preset,omitempty"`
	Simulator      string           `yaml:"simulator"`
	Command        resolver.Command `yaml:"command"`
	Dimension      string           `yaml:"dimension"`
	Mode           string           `yaml:"mode"`
	Trials         int              `yaml:"trials,omitempty"`
	GrammarVersion int              `yaml:"grammar_version"`
	Columns        []string         `yaml:"columns"`
	Output         string           `yaml:"output"`
	Format         string           `yaml:"format"`
	StartedAt      time.Time        `yaml:"started_at"`
	FinishedAt     time.Time        `yaml:"finished_at"`
	Elapsed        string           `yaml:"elapsed"`
	Totals         Totals           `yaml:"totals"`
	Degraded       []Point          `yaml:"degraded,omitempty"`
	Warnings       []string         `yaml:"warnings,omitempty"`
}

// New describes a report. Output is the path the table was written to.
func New(s configs.Sweep, preset string, cmd resolver.Command, g metric.Grammar, report *sweep.Report, output string) Manifest {
	m := Manifest{
		Version:        Version,
		RunID:          uuid.NewString(),
		Name:           s.Name,
		Preset:         preset,
		Simulator:      s.Simulator,
		Command:        cmd,
		Dimension:      s.Vary,
		Mode:           s.Mode,
		GrammarVersion: g.Version,
		Columns:        report.Table.Columns(),
		Output:         output,
		Format:         s.Format,
		StartedAt:      report.StartedAt.UTC().Truncate(time.Millisecond),
		FinishedAt:     report.FinishedAt.UTC().Truncate(time.Millisecond),
		Elapsed:        report.Elapsed().Round(time.Millisecond).String(),
		Totals: Totals{
			Rows:        report.Table.Len(),
			Invocations: report.Invocations,
			Failures:    report.Failures,
			Retried:     report.Retried,
		},
		Warnings: report.Table.Warnings(),
	}
	if s.Repeated() {
		m.Trials = s.Trials
	}
	for _, p := range report.Degraded {
		m.Degraded = append(m.Degraded, Point{
			Protocol:  string(p.Protocol),
			Flows:     p.Flows,
			DelayMs:   p.DelayMs,
			ErrorRate: p.ErrorRate,
			Run:       p.RunIndex,
		})
	}
	return m
}

func (m Manifest) Write(path string) error {
	buf, err := yaml.Marshal(&m)
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create manifest directory")
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errors.Wrap(err, "failed to write manifest")
	}
	return nil
}

// PathFor is the default sidecar next to a table: results.csv -> results.manifest.yml
func PathFor(output string) string {
	ext := filepath.Ext(output)
	return output[:len(output)-len(ext)] + ".manifest.yml"
}
