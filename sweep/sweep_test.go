package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"codeberg.org/iklabib/nssweep/configs"
	"codeberg.org/iklabib/nssweep/grid"
	"codeberg.org/iklabib/nssweep/invoker"
	"codeberg.org/iklabib/nssweep/metric"
	"codeberg.org/iklabib/nssweep/model"
	"codeberg.org/iklabib/nssweep/table"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delaySweep(t *testing.T) configs.Sweep {
	t.Helper()
	s, err := configs.Preset("delay")
	require.NoError(t, err)
	s.Flows = []int{1, 2}
	s.DelaysMs = []int{50, 100}
	return s
}

func newGrid(t *testing.T, s configs.Sweep) *grid.Grid {
	t.Helper()
	g, err := grid.New(s)
	require.NoError(t, err)
	return g
}

func grammar(t *testing.T, names ...string) metric.Grammar {
	t.Helper()
	g, err := metric.Builtin().Select(names...)
	require.NoError(t, err)
	return g
}

// goodputFor gives every combination a distinct value.
func goodputFor(p model.ParameterPoint) float64 {
	base := 0.0
	if p.Protocol == model.TcpNewReno {
		base = 10
	}
	return base + float64(p.Flows) + float64(p.DelayMs)/1000
}

func stub(calls *[]model.ParameterPoint) invoker.Func {
	return func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		*calls = append(*calls, p)
		return model.InvocationResult{
			Stdout: fmt.Sprintf("Total Aggregate Goodput: %g Mbps\n", goodputFor(p)),
		}, nil
	}
}

func TestEndToEndStub(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var calls []model.ParameterPoint
	e := &Engine{Invoker: stub(&calls), Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}

	report, err := e.Run(context.Background(), newGrid(t, delaySweep(t)))
	require.NoError(t, err)

	assert.Equal(t, 8, report.Table.Len())
	assert.Equal(t, 8, report.Invocations)
	assert.Zero(t, report.Failures)
	assert.Empty(t, report.Table.Warnings())

	expected := [][]string{{"Protocol", "NFlows", "Delay (ms)", "Aggregate Goodput (Mbps)"}}
	for _, proto := range []model.Protocol{model.TcpCubic, model.TcpNewReno} {
		for _, flows := range []int{1, 2} {
			for _, delay := range []int{50, 100} {
				p := model.ParameterPoint{Protocol: proto, Flows: flows, DelayMs: delay}
				expected = append(expected, []string{
					string(proto), fmt.Sprint(flows), fmt.Sprint(delay), table.FormatFloat(goodputFor(p)),
				})
			}
		}
	}
	assert.Equal(t, expected, report.Table.Records())

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, "warning", e.Level.String(), e.Message)
	}
}

func TestDeterministicOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	run := func() [][]string {
		var calls []model.ParameterPoint
		e := &Engine{Invoker: stub(&calls), Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}
		report, err := e.Run(context.Background(), newGrid(t, delaySweep(t)))
		require.NoError(t, err)
		return report.Table.Records()
	}
	assert.Equal(t, run(), run())
}

func TestFailureAbsorbed(t *testing.T) {
	logger, hook := test.NewNullLogger()
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		if p.Protocol == model.TcpNewReno && p.Flows == 2 && p.DelayMs == 50 {
			return model.InvocationResult{Failed: true, ExitCode: 134, Stderr: "SIGABRT"}, nil
		}
		return model.InvocationResult{Stdout: "Total Aggregate Goodput: 0.5 Mbps"}, nil
	})
	e := &Engine{Invoker: inv, Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}

	report, err := e.Run(context.Background(), newGrid(t, delaySweep(t)))
	require.NoError(t, err)

	records := report.Table.Records()
	require.Len(t, records, 9)
	assert.Equal(t, []string{"TcpNewReno", "2", "50", "0.0"}, records[7])
	assert.Equal(t, []string{"TcpNewReno", "2", "100", "0.5"}, records[8])
	assert.Equal(t, 1, report.Failures)
	assert.Len(t, report.Degraded, 1)
	assert.Len(t, report.Table.Warnings(), 1)

	warned := 0
	for _, e := range hook.AllEntries() {
		if e.Level.String() == "warning" {
			warned++
		}
	}
	assert.Equal(t, 2, warned) // invocation failed + table fallback
}

func TestMissingMetricIsZero(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		return model.InvocationResult{Stdout: "nothing useful"}, nil
	})
	s := delaySweep(t)
	s.Protocols = []string{"TcpCubic"}
	s.Flows = []int{1}
	s.DelaysMs = []int{50}

	report, err := (&Engine{Invoker: inv, Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}).Run(context.Background(), newGrid(t, s))
	require.NoError(t, err)
	assert.Equal(t, []string{"TcpCubic", "1", "50", "0.0"}, report.Table.Records()[1])
	assert.Zero(t, report.Failures)
	assert.Len(t, report.Degraded, 1)
	assert.Len(t, report.Table.Warnings(), 1)
}

func TestTrialAveraging(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := configs.Preset("rtt-fairness")
	require.NoError(t, err)
	s.Protocols = []string{"TcpCubic"}
	s.Flows = []int{2}
	s.Trials = 3

	dest1 := map[int]float64{1: 0.5, 2: 0.7, 3: 0.6}
	var runs []int
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		runs = append(runs, p.RunIndex)
		out := fmt.Sprintf("Average Goodput (Dest 1 - Short RTT): %g Mbps\nAverage Goodput (Dest 2 - Long RTT): %g Mbps\n", dest1[p.RunIndex], 0.1*float64(p.RunIndex))
		return model.InvocationResult{Stdout: out}, nil
	})

	e := &Engine{Invoker: inv, Grammar: grammar(t, metric.Dest1Goodput, metric.Dest2Goodput), Logger: logger}
	report, err := e.Run(context.Background(), newGrid(t, s))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, runs)
	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, 3, row.Trials)
	assert.Equal(t, 0, row.Point.RunIndex)
	assert.InDelta(t, 0.6, row.Metrics.Get(metric.Dest1Goodput).Value, 1e-9)
	assert.InDelta(t, 0.2, row.Metrics.Get(metric.Dest2Goodput).Value, 1e-9)
	assert.Equal(t, []string{"Protocol", "NFlows", "Avg Goodput Dest 1 (Short RTT)", "Avg Goodput Dest 2 (Long RTT)"}, report.Table.Columns())
}

func TestPartialTrialMissWarns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := configs.Preset("rtt-fairness")
	require.NoError(t, err)
	s.Protocols = []string{"TcpNewReno"}
	s.Flows = []int{1}
	s.Trials = 2

	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		out := "Average Goodput (Dest 2 - Long RTT): 0.3 Mbps\n"
		if p.RunIndex == 1 {
			out = "Average Goodput (Dest 1 - Short RTT): 0.8 Mbps\n" + out
		}
		return model.InvocationResult{Stdout: out}, nil
	})

	e := &Engine{Invoker: inv, Grammar: grammar(t, metric.Dest1Goodput, metric.Dest2Goodput), Logger: logger}
	report, err := e.Run(context.Background(), newGrid(t, s))
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.InDelta(t, 0.4, report.Rows[0].Metrics.Get(metric.Dest1Goodput).Value, 1e-9)
	assert.Equal(t, map[string]int{metric.Dest1Goodput: 1}, report.Rows[0].Misses)

	warnings := report.Table.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "missing in 1 of 2 trials")
}

func TestZeroTrialsYieldZeroRows(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := configs.Preset("rtt-fairness")
	require.NoError(t, err)
	s.Trials = 0

	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		t.Fatal("no invocation expected")
		return model.InvocationResult{}, nil
	})
	report, err := (&Engine{Invoker: inv, Grammar: grammar(t, metric.Dest1Goodput, metric.Dest2Goodput), Logger: logger}).Run(context.Background(), newGrid(t, s))
	require.NoError(t, err)

	assert.Equal(t, 8, report.Table.Len())
	assert.Zero(t, report.Invocations)
	for _, r := range report.Table.Records()[1:] {
		assert.Equal(t, []string{"0.0", "0.0"}, r[2:])
	}
	assert.Empty(t, report.Table.Warnings())
}

func TestFatalInvokerError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		return model.InvocationResult{}, fmt.Errorf("%w: /nope", invoker.ErrNotExecutable)
	})
	report, err := (&Engine{Invoker: inv, Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}).Run(context.Background(), newGrid(t, delaySweep(t)))
	assert.ErrorIs(t, err, invoker.ErrNotExecutable)
	assert.Nil(t, report)
}

func TestCanceledStops(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		calls++
		cancel()
		return model.InvocationResult{Failed: true, Messages: []string{"canceled"}}, nil
	})
	_, err := (&Engine{Invoker: inv, Grammar: grammar(t, metric.AggregateGoodput), Logger: logger}).Run(ctx, newGrid(t, delaySweep(t)))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestRetries(t *testing.T) {
	logger, _ := test.NewNullLogger()
	attempts := map[model.ParameterPoint]int{}
	inv := invoker.Func(func(ctx context.Context, p model.ParameterPoint) (model.InvocationResult, error) {
		attempts[p]++
		if attempts[p] == 1 {
			return model.InvocationResult{Failed: true, ExitCode: 1}, nil
		}
		return model.InvocationResult{Stdout: "Total Aggregate Goodput: 0.9 Mbps"}, nil
	})
	e := &Engine{Invoker: inv, Grammar: grammar(t, metric.AggregateGoodput), Retries: 1, Logger: logger}

	report, err := e.Run(context.Background(), newGrid(t, delaySweep(t)))
	require.NoError(t, err)
	assert.Equal(t, 16, report.Invocations)
	assert.Equal(t, 8, report.Retried)
	assert.Zero(t, report.Failures)
	for _, r := range report.Table.Records()[1:] {
		assert.Equal(t, "0.9", r[3])
	}
}
