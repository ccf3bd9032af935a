package configs

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/iklabib/nssweep/model"
	"codeberg.org/iklabib/nssweep/rlimit"
	"github.com/elastic/go-seccomp-bpf"
	"github.com/pkg/errors"
)

var ErrInvalid = errors.New("invalid sweep config")

const (
	ModeSingle = "single" // one invocation per point, no --run flag
	ModeTrials = "trials" // runs 1..Trials per point, --run=<i>
)

type Cgroup struct {
	Name      string `config:"name" json:"name" yaml:"name"` // relative to /sys/fs/cgroup, empty disables
	MaxMemory string `config:"max_memory" json:"max_memory" yaml:"max_memory"`
	MaxPids   int    `config:"max_pids" json:"max_pids" yaml:"max_pids"`
	Cpu       `config:"cpu" json:"cpu" yaml:"cpu"`
}

// no-op if default value
type Cpu struct {
	Time   uint `config:"time" json:"time" yaml:"time"`       // cpu.max $MAX
	Period uint `config:"period" json:"period" yaml:"period"` // cpu.max $PERIOD
	Weight uint `config:"weight" json:"weight" yaml:"weight"` // cpu.weight
}

// Sandbox is applied to the sweep process itself once the executable is
// resolved, simulators inherit it.
type Sandbox struct {
	Enabled bool            `config:"enabled" json:"enabled" yaml:"enabled"`
	Files   []string        `config:"files" json:"files" yaml:"files"` // rwxc:/path
	Tty     bool            `config:"tty" json:"tty" yaml:"tty"`
	Shared  bool            `config:"shared" json:"shared" yaml:"shared"`
	Tmp     bool            `config:"tmp" json:"tmp" yaml:"tmp"`
	Dns     bool            `config:"dns" json:"dns" yaml:"dns"`
	VMInfo  bool            `config:"vm_info" json:"vm_info" yaml:"vm_info"`
	Seccomp *seccomp.Policy `config:"seccomp" json:"seccomp,omitempty" yaml:"-"`
}

// Sweep describes one experiment. Options that reach the simulator argv:
//
//	protocols            --transport_prot=<p>, outer loop
//	flows                --nFlows=<n>, second loop
//	data_rate            --dataRate=<s>, every point
//	delays_ms / delay_ms --delay=<n>ms, swept when vary=delay, fixed otherwise
//	error_rates / error_rate
//	                     --errorRate=<f>, swept when vary=error_rate, fixed otherwise
//	mode=trials, trials  --run=<i> for i in 1..trials, innermost loop, needs vary=none
//
// Everything else shapes resolution, invocation limits and output. A list
// given in a sweep file replaces the preset's list, envs are merged by key.
type Sweep struct {
	Name       string `config:"name" json:"name" yaml:"name"`
	Simulator  string `config:"simulator" json:"simulator" yaml:"simulator"`
	Ns3Dir     string `config:"ns3_dir" json:"ns3_dir" yaml:"ns3_dir"`
	Executable string `config:"executable" json:"executable" yaml:"executable"`

	Protocols  []string  `config:"protocols" json:"protocols" yaml:"protocols"`
	Flows      []int     `config:"flows" json:"flows" yaml:"flows"`
	DataRate   string    `config:"data_rate" json:"data_rate" yaml:"data_rate"`
	Vary       string    `config:"vary" json:"vary" yaml:"vary"`
	DelaysMs   []int     `config:"delays_ms" json:"delays_ms" yaml:"delays_ms"`
	ErrorRates []float64 `config:"error_rates" json:"error_rates" yaml:"error_rates"`
	DelayMs    int       `config:"delay_ms" json:"delay_ms" yaml:"delay_ms"`
	ErrorRate  float64   `config:"error_rate" json:"error_rate" yaml:"error_rate"`
	Mode       string    `config:"mode" json:"mode" yaml:"mode"`
	Trials     int       `config:"trials" json:"trials" yaml:"trials"`

	Metrics []string `config:"metrics" json:"metrics" yaml:"metrics"`
	Output  string   `config:"output" json:"output" yaml:"output"`
	Format  string   `config:"format" json:"format" yaml:"format"`

	TimeLimit time.Duration     `config:"time_limit" json:"time_limit" yaml:"time_limit"` // 0 waits forever
	Retries   int               `config:"retries" json:"retries" yaml:"retries"`
	Envs      map[string]string `config:"envs" json:"envs" yaml:"envs"`
	Rlimits   []rlimit.Rlimit   `config:"rlimits" json:"rlimits" yaml:"rlimits"`
	Cgroup    Cgroup            `config:"cgroup" json:"cgroup" yaml:"cgroup"`
	User      string            `config:"user" json:"user" yaml:"user"`
	Group     string            `config:"group" json:"group" yaml:"group"`
	Sandbox   Sandbox           `config:"sandbox" json:"sandbox" yaml:"sandbox"`
}

func (s Sweep) Dimension() model.Dimension {
	return model.Dimension(s.Vary)
}

func (s Sweep) Repeated() bool {
	return s.Mode == ModeTrials
}

func (s Sweep) ProtocolList() []model.Protocol {
	protocols := make([]model.Protocol, 0, len(s.Protocols))
	for _, p := range s.Protocols {
		protocols = append(protocols, model.Protocol(p))
	}
	return protocols
}

// Validate is called by go-ucfg after unpacking and again once CLI
// overrides are applied.
func (s *Sweep) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(s.Simulator) == "" && strings.TrimSpace(s.Executable) == "" {
		add("simulator or executable is required")
	}
	if len(s.Protocols) == 0 {
		add("at least one protocol is required")
	}
	for _, p := range s.Protocols {
		if !model.Protocol(p).Valid() {
			add("unknown protocol '%s'", p)
		}
	}
	if d, ok := duplicate(s.Protocols); ok {
		add("protocol %s listed twice", d)
	}
	if len(s.Flows) == 0 {
		add("at least one flow count is required")
	}
	for _, n := range s.Flows {
		if n <= 0 {
			add("flow count must be positive, got %d", n)
		}
	}
	if d, ok := duplicate(s.Flows); ok {
		add("flow count %d listed twice", d)
	}
	if s.DataRate == "" {
		add("data_rate is required")
	}

	switch s.Dimension() {
	case model.DimensionDelay:
		if len(s.DelaysMs) == 0 {
			add("vary=delay needs delays_ms")
		}
		for _, d := range s.DelaysMs {
			if d < 0 {
				add("delay must not be negative, got %d", d)
			}
		}
		if d, ok := duplicate(s.DelaysMs); ok {
			add("delay %d listed twice", d)
		}
	case model.DimensionErrorRate:
		if len(s.ErrorRates) == 0 {
			add("vary=error_rate needs error_rates")
		}
		for _, r := range s.ErrorRates {
			if r < 0 || r >= 1 {
				add("error rate must be in [0,1), got %g", r)
			}
		}
		if d, ok := duplicate(s.ErrorRates); ok {
			add("error rate %g listed twice", d)
		}
	case model.DimensionNone:
	default:
		add("unknown vary '%s'", s.Vary)
	}
	if s.DelayMs < 0 {
		add("delay_ms must not be negative")
	}
	if s.ErrorRate < 0 || s.ErrorRate >= 1 {
		add("error_rate must be in [0,1), got %g", s.ErrorRate)
	}

	// besides protocol and flows exactly one axis varies, the run index
	// counts as one
	switch s.Mode {
	case ModeSingle:
		if s.Dimension() == model.DimensionNone {
			add("mode=single needs vary=delay or vary=error_rate")
		}
	case ModeTrials:
		if s.Dimension() != model.DimensionNone {
			add("mode=trials needs vary=none, got vary=%s", s.Vary)
		}
	default:
		add("unknown mode '%s'", s.Mode)
	}
	if s.Trials < 0 {
		add("trials must not be negative")
	}
	if len(s.Metrics) == 0 {
		add("at least one metric is required")
	}
	switch s.Format {
	case "", "csv", "xlsx":
	default:
		add("unknown format '%s'", s.Format)
	}
	if s.Retries < 0 {
		add("retries must not be negative")
	}
	if s.TimeLimit < 0 {
		add("time_limit must not be negative")
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func duplicate[T comparable](values []T) (T, bool) {
	seen := make(map[T]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v, true
		}
		seen[v] = true
	}
	var zero T
	return zero, false
}

// Clone copies slices and maps so overrides never leak into presets.
func (s Sweep) Clone() Sweep {
	c := s
	c.Protocols = append([]string(nil), s.Protocols...)
	c.Flows = append([]int(nil), s.Flows...)
	c.DelaysMs = append([]int(nil), s.DelaysMs...)
	c.ErrorRates = append([]float64(nil), s.ErrorRates...)
	c.Metrics = append([]string(nil), s.Metrics...)
	c.Rlimits = append([]rlimit.Rlimit(nil), s.Rlimits...)
	c.Sandbox.Files = append([]string(nil), s.Sandbox.Files...)
	if s.Envs != nil {
		c.Envs = make(map[string]string, len(s.Envs))
		for k, v := range s.Envs {
			c.Envs[k] = v
		}
	}
	return c
}
