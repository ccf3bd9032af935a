package aggregate

import (
	"codeberg.org/iklabib/nssweep/model"
)

// Mean averages every named metric independently over sets. Values not
// found count as 0.0; with no sets at all every mean is 0.0.
func Mean(names []string, sets []model.Metrics) model.Metrics {
	out := model.NewMetrics()
	for _, name := range names {
		if len(sets) == 0 {
			out.Set(name, model.Found(0))
			continue
		}

		sum := 0.0
		found := false
		for _, s := range sets {
			m := s.Get(name)
			if m.Found {
				found = true
				sum += m.Value
			}
		}
		// a mean over nothing but misses stays a miss, the table warns once
		if !found {
			out.Set(name, model.NotFound)
			continue
		}
		out.Set(name, model.Found(sum/float64(len(sets))))
	}
	return out
}

// Trials accumulates the runs of one configuration.
type Trials struct {
	names    []string
	sets     []model.Metrics
	failures int
}

func NewTrials(names []string) *Trials {
	return &Trials{names: append([]string(nil), names...)}
}

func (t *Trials) Add(metrics model.Metrics, failed bool) {
	t.sets = append(t.sets, metrics)
	if failed {
		t.failures++
	}
}

func (t *Trials) Len() int {
	return len(t.sets)
}

func (t *Trials) Failures() int {
	return t.failures
}

func (t *Trials) Row(point model.ParameterPoint) model.AggregatedRow {
	return model.AggregatedRow{
		Point:    point.Key(),
		Metrics:  Mean(t.names, t.sets),
		Trials:   len(t.sets),
		Failures: t.failures,
		Misses:   Misses(t.names, t.sets),
	}
}

// Misses counts the sets lacking each name. Names found everywhere are left
// out, nil when nothing was missed.
func Misses(names []string, sets []model.Metrics) map[string]int {
	var out map[string]int
	for _, name := range names {
		n := 0
		for _, s := range sets {
			if !s.Get(name).Found {
				n++
			}
		}
		if n == 0 {
			continue
		}
		if out == nil {
			out = map[string]int{}
		}
		out[name] = n
	}
	return out
}
