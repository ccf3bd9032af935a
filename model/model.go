package model

import (
	"fmt"
	"os"
	"time"
)

type Protocol string

const (
	TcpCubic   Protocol = "TcpCubic"
	TcpNewReno Protocol = "TcpNewReno"
)

func (p Protocol) Valid() bool {
	return p == TcpCubic || p == TcpNewReno
}

// Dimension names the single axis that varies across a sweep besides
// protocol and flow count.
type Dimension string

const (
	DimensionDelay     Dimension = "delay"
	DimensionErrorRate Dimension = "error_rate"
	DimensionNone      Dimension = "none"
)

// ParameterPoint is one simulator configuration. Fixed values of the sweep
// are copied into every point so a point alone is enough to build argv.
type ParameterPoint struct {
	Protocol  Protocol `json:"protocol" yaml:"protocol"`
	Flows     int      `json:"flows" yaml:"flows"`
	DataRate  string   `json:"data_rate" yaml:"data_rate"`
	DelayMs   int      `json:"delay_ms" yaml:"delay_ms"`
	ErrorRate float64  `json:"error_rate" yaml:"error_rate"`
	RunIndex  int      `json:"run,omitempty" yaml:"run,omitempty"` // 0 means no --run flag
}

// Key drops the run index so trials of one configuration compare equal.
func (p ParameterPoint) Key() ParameterPoint {
	p.RunIndex = 0
	return p
}

func (p ParameterPoint) String() string {
	s := fmt.Sprintf("%s flows=%d rate=%s delay=%dms err=%g", p.Protocol, p.Flows, p.DataRate, p.DelayMs, p.ErrorRate)
	if p.RunIndex > 0 {
		s += fmt.Sprintf(" run=%d", p.RunIndex)
	}
	return s
}

type Usage struct {
	Signal   os.Signal     `json:"signal"`
	SysTime  time.Duration `json:"sys_time"`
	UserTime time.Duration `json:"time"`
	Memory   int64         `json:"memory"` // kb
}

// InvocationResult is what one simulator run leaves behind.
type InvocationResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Failed   bool          `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
	Usage    Usage         `json:"usage"`
	Messages []string      `json:"message"`
}

// Metric keeps "not found" apart from a parsed zero.
type Metric struct {
	Value float64 `json:"value"`
	Found bool    `json:"found"`
}

func Found(v float64) Metric {
	return Metric{Value: v, Found: true}
}

var NotFound = Metric{}

// Metrics is an ordered set of named values.
type Metrics struct {
	names  []string
	values map[string]Metric
}

func NewMetrics() Metrics {
	return Metrics{values: map[string]Metric{}}
}

func (m *Metrics) Set(name string, v Metric) {
	if m.values == nil {
		m.values = map[string]Metric{}
	}
	if _, ok := m.values[name]; !ok {
		m.names = append(m.names, name)
	}
	m.values[name] = v
}

// Get returns NotFound for unknown names.
func (m Metrics) Get(name string) Metric {
	return m.values[name]
}

func (m Metrics) Names() []string {
	return append([]string(nil), m.names...)
}

func (m Metrics) Len() int {
	return len(m.names)
}

// Missing lists names whose value was not found, in insertion order.
func (m Metrics) Missing() []string {
	var missing []string
	for _, name := range m.names {
		if !m.values[name].Found {
			missing = append(missing, name)
		}
	}
	return missing
}

// AggregatedRow is one finished table row before rendering.
type AggregatedRow struct {
	Point    ParameterPoint
	Metrics  Metrics
	Trials   int
	Failures int
	// Misses counts, per metric, the trials that did not report it.
	Misses map[string]int
}
