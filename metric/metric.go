// Package metric pulls named goodput values out of simulator output.
//
// Each metric is one entry of a Grammar: a literal label followed by a colon,
// a number and the unit. Adding a metric means adding a Pattern, not code.
package metric

import (
	"regexp"
	"strconv"

	"codeberg.org/iklabib/nssweep/model"
	"github.com/pkg/errors"
)

// Version of the built-in grammar. Bump it whenever a label or the number
// syntax changes so persisted runs can tell which parser produced them.
const Version = 1

const (
	AggregateGoodput = "aggregate_goodput"
	Dest1Goodput     = "dest1_goodput"
	Dest2Goodput     = "dest2_goodput"
)

// number accepts "0.734521" as well as C++ stream scientific output "1.2e-05".
const number = `([0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`

type Pattern struct {
	Name   string // key in model.Metrics
	Column string // table header
	Label  string // literal text before the colon
	Unit   string

	re *regexp.Regexp
}

func NewPattern(name, column, label, unit string) Pattern {
	p := Pattern{Name: name, Column: column, Label: label, Unit: unit}
	p.re = regexp.MustCompile(regexp.QuoteMeta(label) + `:\s*` + number + `\s*` + regexp.QuoteMeta(unit))
	return p
}

// Find returns the first match anywhere in text.
func (p Pattern) Find(text string) model.Metric {
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return model.NotFound
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return model.NotFound
	}
	return model.Found(v)
}

func (p Pattern) String() string {
	return p.re.String()
}

type Grammar struct {
	Version  int
	Patterns []Pattern
}

var builtin = Grammar{
	Version: Version,
	Patterns: []Pattern{
		NewPattern(AggregateGoodput, "Aggregate Goodput (Mbps)", "Total Aggregate Goodput", "Mbps"),
		NewPattern(Dest1Goodput, "Avg Goodput Dest 1 (Short RTT)", "Average Goodput (Dest 1 - Short RTT)", "Mbps"),
		NewPattern(Dest2Goodput, "Avg Goodput Dest 2 (Long RTT)", "Average Goodput (Dest 2 - Long RTT)", "Mbps"),
	},
}

func Builtin() Grammar {
	return Grammar{
		Version:  builtin.Version,
		Patterns: append([]Pattern(nil), builtin.Patterns...),
	}
}

// Select narrows the grammar to the named metrics, in the given order.
func (g Grammar) Select(names ...string) (Grammar, error) {
	byName := make(map[string]Pattern, len(g.Patterns))
	for _, p := range g.Patterns {
		byName[p.Name] = p
	}

	out := Grammar{Version: g.Version}
	seen := map[string]bool{}
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return Grammar{}, errors.Errorf("unknown metric '%s'", name)
		}
		if seen[name] {
			return Grammar{}, errors.Errorf("metric '%s' listed twice", name)
		}
		seen[name] = true
		out.Patterns = append(out.Patterns, p)
	}
	return out, nil
}

func (g Grammar) Names() []string {
	names := make([]string, 0, len(g.Patterns))
	for _, p := range g.Patterns {
		names = append(names, p.Name)
	}
	return names
}

func (g Grammar) Columns() []string {
	cols := make([]string, 0, len(g.Patterns))
	for _, p := range g.Patterns {
		cols = append(cols, p.Column)
	}
	return cols
}

// Extract runs every pattern independently over the whole output.
func (g Grammar) Extract(text string) model.Metrics {
	metrics := model.NewMetrics()
	for _, p := range g.Patterns {
		metrics.Set(p.Name, p.Find(text))
	}
	return metrics
}

// Missing is what a failed invocation contributes: every metric not found.
func (g Grammar) Missing() model.Metrics {
	metrics := model.NewMetrics()
	for _, p := range g.Patterns {
		metrics.Set(p.Name, model.NotFound)
	}
	return metrics
}
