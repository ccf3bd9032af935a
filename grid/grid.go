package grid

import (
	"codeberg.org/iklabib/nssweep/configs"
	"codeberg.org/iklabib/nssweep/model"
)

// Configuration is one table row to be: a point without run index and the
// run indices to invoke it with. Runs is nil for single invocation sweeps.
type Configuration struct {
	Point model.ParameterPoint
	Runs  []int
}

// Points expands the configuration into invocation order.
func (c Configuration) Points() []model.ParameterPoint {
	if c.Runs == nil {
		return []model.ParameterPoint{c.Point}
	}
	points := make([]model.ParameterPoint, 0, len(c.Runs))
	for _, run := range c.Runs {
		p := c.Point
		p.RunIndex = run
		points = append(points, p)
	}
	return points
}

type Grid struct {
	dimension      model.Dimension
	configurations []Configuration
}

// New enumerates protocol -> flows -> varying value, with run indices
// 1..trials innermost when the sweep repeats.
func New(sweep configs.Sweep) (*Grid, error) {
	if err := sweep.Validate(); err != nil {
		return nil, err
	}

	base := model.ParameterPoint{
		DataRate:  sweep.DataRate,
		DelayMs:   sweep.DelayMs,
		ErrorRate: sweep.ErrorRate,
	}

	var variants []model.ParameterPoint
	switch sweep.Dimension() {
	case model.DimensionDelay:
		for _, d := range sweep.DelaysMs {
			p := base
			p.DelayMs = d
			variants = append(variants, p)
		}
	case model.DimensionErrorRate:
		for _, r := range sweep.ErrorRates {
			p := base
			p.ErrorRate = r
			variants = append(variants, p)
		}
	default:
		variants = []model.ParameterPoint{base}
	}

	var runs []int
	if sweep.Repeated() {
		runs = make([]int, 0, sweep.Trials)
		for i := 1; i <= sweep.Trials; i++ {
			runs = append(runs, i)
		}
	}

	g := &Grid{dimension: sweep.Dimension()}
	for _, protocol := range sweep.ProtocolList() {
		for _, flows := range sweep.Flows {
			for _, v := range variants {
				p := v
				p.Protocol = protocol
				p.Flows = flows
				g.configurations = append(g.configurations, Configuration{Point: p, Runs: runs})
			}
		}
	}
	return g, nil
}

func (g *Grid) Dimension() model.Dimension {
	return g.dimension
}

func (g *Grid) Configurations() []Configuration {
	return append([]Configuration(nil), g.configurations...)
}

// Len is the number of table rows the grid produces.
func (g *Grid) Len() int {
	return len(g.configurations)
}

// Invocations is the number of simulator runs the grid needs.
func (g *Grid) Invocations() int {
	n := 0
	for _, c := range g.configurations {
		if c.Runs == nil {
			n++
		} else {
			n += len(c.Runs)
		}
	}
	return n
}

func (g *Grid) Points() []model.ParameterPoint {
	points := make([]model.ParameterPoint, 0, g.Invocations())
	for _, c := range g.configurations {
		points = append(points, c.Points()...)
	}
	return points
}
