package sweep

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/iklabib/nssweep/aggregate"
	"codeberg.org/iklabib/nssweep/grid"
	"codeberg.org/iklabib/nssweep/invoker"
	"codeberg.org/iklabib/nssweep/metric"
	"codeberg.org/iklabib/nssweep/model"
	"codeberg.org/iklabib/nssweep/table"
	"github.com/sirupsen/logrus"
)

// Engine walks a grid strictly in order, one simulator at a time.
type Engine struct {
	Invoker invoker.Invoker
	Grammar metric.Grammar
	Retries int // extra attempts for a failed invocation, 0 keeps one attempt
	Logger  logrus.FieldLogger
}

type Report struct {
	Table       *table.Table
	Rows        []model.AggregatedRow
	Invocations int
	Failures    int
	Retried     int
	Degraded    []model.ParameterPoint // failed or metric missing, run index kept
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Report) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run returns an error only for fatal conditions (simulator not executable,
// context done). Per-point failures end up as zero rows.
func (e *Engine) Run(ctx context.Context, g *grid.Grid) (*Report, error) {
	logger := e.logger()

	tb, err := table.New(g.Dimension(), e.Grammar.Names(), e.Grammar.Columns(), logger)
	if err != nil {
		return nil, err
	}

	report := &Report{Table: tb, StartedAt: time.Now()}
	configurations := g.Configurations()

	logger.WithFields(logrus.Fields{
		"configurations": len(configurations),
		"invocations":    g.Invocations(),
		"dimension":      g.Dimension(),
	}).Info("starting sweep")

	for i, c := range configurations {
		scenario := logger.WithFields(invoker.Fields(c.Point)).WithField("scenario", progress(i+1, len(configurations)))
		scenario.Info("running scenario")

		trials := aggregate.NewTrials(e.Grammar.Names())
		points := c.Points()
		for j, p := range points {
			if c.Runs != nil {
				scenario.WithField("run", p.RunIndex).Debugf("trial %s", progress(j+1, len(points)))
			}

			metrics, failed, err := e.runPoint(ctx, p, report)
			if err != nil {
				return nil, err
			}
			trials.Add(metrics, failed)
		}

		row := trials.Row(c.Point)
		report.Rows = append(report.Rows, row)
		tb.Append(row)

		fields := logrus.Fields{"trials": row.Trials}
		for _, name := range row.Metrics.Names() {
			fields[name] = row.Metrics.Get(name).Value
		}
		if row.Failures > 0 {
			fields["failures"] = row.Failures
		}
		scenario.WithFields(fields).Info("scenario done")
	}

	report.FinishedAt = time.Now()
	logger.WithFields(logrus.Fields{
		"rows":        tb.Len(),
		"invocations": report.Invocations,
		"failures":    report.Failures,
		"elapsed":     report.Elapsed().Round(time.Millisecond),
	}).Info("sweep complete")
	return report, nil
}

func (e *Engine) runPoint(ctx context.Context, p model.ParameterPoint, report *Report) (model.Metrics, bool, error) {
	logger := e.logger().WithFields(invoker.Fields(p))

	var result model.InvocationResult
	for attempt := 0; attempt <= e.Retries; attempt++ {
		if attempt > 0 {
			report.Retried++
			logger.WithField("attempt", attempt+1).Info("retrying failed invocation")
		}

		var err error
		result, err = e.Invoker.Invoke(ctx, p)
		report.Invocations++
		if err != nil {
			return model.Metrics{}, false, err
		}
		if ctx.Err() != nil {
			return model.Metrics{}, false, ctx.Err()
		}
		if !result.Failed {
			break
		}
	}

	if result.Failed {
		report.Failures++
		report.Degraded = append(report.Degraded, p)
		logger.WithField("messages", result.Messages).Warn("invocation failed, metrics recorded as 0.0")
		return e.Grammar.Missing(), true, nil
	}

	metrics := e.Grammar.Extract(result.Stdout)
	if missing := metrics.Missing(); len(missing) > 0 {
		report.Degraded = append(report.Degraded, p)
		logger.WithField("missing", missing).Warn("could not find metric in simulator output")
	}
	return metrics, false, nil
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

func progress(i, n int) string {
	return fmt.Sprintf("%d/%d", i, n)
}
