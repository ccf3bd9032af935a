package configs

import (
	"sort"

	"github.com/pkg/errors"
)

var defaultProtocols = []string{"TcpCubic", "TcpNewReno"}

var presets = map[string]Sweep{
	// bottleneck delay vs aggregate goodput
	"delay": {
		Name:      "delay",
		Simulator: "lab2-part1",
		Ns3Dir:    ".",
		Protocols: defaultProtocols,
		Flows:     []int{1, 2, 4},
		DataRate:  "1Mbps",
		Vary:      "delay",
		DelaysMs:  []int{50, 100, 150, 200, 250, 300},
		ErrorRate: 0.00001,
		Mode:      ModeSingle,
		Metrics:   []string{"aggregate_goodput"},
		Output:    "part1b_results.csv",
		Format:    "csv",
	},
	// bottleneck error rate vs aggregate goodput
	"error-rate": {
		Name:       "error-rate",
		Simulator:  "lab2-part1",
		Ns3Dir:     ".",
		Protocols:  defaultProtocols,
		Flows:      []int{1, 2, 4},
		DataRate:   "1Mbps",
		Vary:       "error_rate",
		ErrorRates: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		DelayMs:    1,
		Mode:       ModeSingle,
		Metrics:    []string{"aggregate_goodput"},
		Output:     "part1c_results.csv",
		Format:     "csv",
	},
	// short vs long RTT destinations, averaged over seeded runs
	"rtt-fairness": {
		Name:      "rtt-fairness",
		Simulator: "lab2-part2",
		Ns3Dir:    ".",
		Protocols: defaultProtocols,
		Flows:     []int{2, 4, 6, 8},
		DataRate:  "1Mbps",
		Vary:      "none",
		DelayMs:   20,
		ErrorRate: 0.00001,
		Mode:      ModeTrials,
		Trials:    10,
		Metrics:   []string{"dest1_goodput", "dest2_goodput"},
		Output:    "part2_results.csv",
		Format:    "csv",
	},
}

// Preset returns a private copy of a built-in sweep.
func Preset(name string) (Sweep, error) {
	s, ok := presets[name]
	if !ok {
		return Sweep{}, errors.Errorf("unknown preset '%s'", name)
	}
	return s.Clone(), nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the base a config file is unpacked onto when no preset is named.
func Default() Sweep {
	return Sweep{
		Ns3Dir:    ".",
		Protocols: append([]string(nil), defaultProtocols...),
		DataRate:  "1Mbps",
		Vary:      "delay",
		Mode:      ModeSingle,
		Metrics:   []string{"aggregate_goodput"},
		Output:    "results.csv",
		Format:    "csv",
	}
}
