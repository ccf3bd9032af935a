package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"codeberg.org/iklabib/nssweep/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	ColumnProtocol  = "Protocol"
	ColumnFlows     = "NFlows"
	ColumnDelay     = "Delay (ms)"
	ColumnErrorRate = "Error Rate"
)

// Header is the fixed column set of a sweep.
func Header(dim model.Dimension, metricColumns []string) []string {
	header := []string{ColumnProtocol, ColumnFlows}
	switch dim {
	case model.DimensionDelay:
		header = append(header, ColumnDelay)
	case model.DimensionErrorRate:
		header = append(header, ColumnErrorRate)
	}
	return append(header, metricColumns...)
}

// Table holds rows in append order. Cells are string, int or float64.
type Table struct {
	dimension model.Dimension
	columns   []string
	metrics   []string
	rows      [][]any
	warnings  []string
	logger    logrus.FieldLogger
}

// New builds an empty table. metrics are the metric names in column order,
// metricColumns their headers.
func New(dim model.Dimension, metrics, metricColumns []string, logger logrus.FieldLogger) (*Table, error) {
	if len(metrics) != len(metricColumns) {
		return nil, errors.Errorf("%d metrics but %d metric columns", len(metrics), len(metricColumns))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Table{
		dimension: dim,
		columns:   Header(dim, metricColumns),
		metrics:   append([]string(nil), metrics...),
		logger:    logger,
	}, nil
}

// Append renders one row. A metric that was never found becomes 0.0 here,
// and only here, with a warning kept on the table. A metric some trials
// missed is already averaged with zeros and gets a warning of its own.
func (t *Table) Append(row model.AggregatedRow) {
	p := row.Point
	cells := []any{string(p.Protocol), p.Flows}
	switch t.dimension {
	case model.DimensionDelay:
		cells = append(cells, p.DelayMs)
	case model.DimensionErrorRate:
		cells = append(cells, p.ErrorRate)
	}

	for _, name := range t.metrics {
		m := row.Metrics.Get(name)
		if !m.Found {
			msg := fmt.Sprintf("%s: %s not found, recorded as 0.0", p.Key(), name)
			t.warnings = append(t.warnings, msg)
			t.logger.WithFields(logrus.Fields{
				"protocol": p.Protocol,
				"flows":    p.Flows,
				"metric":   name,
			}).Warn("metric missing, recording 0.0")
			cells = append(cells, 0.0)
			continue
		}
		if missed := row.Misses[name]; missed > 0 {
			msg := fmt.Sprintf("%s: %s missing in %d of %d trials, counted as 0.0", p.Key(), name, missed, row.Trials)
			t.warnings = append(t.warnings, msg)
			t.logger.WithFields(logrus.Fields{
				"protocol": p.Protocol,
				"flows":    p.Flows,
				"metric":   name,
				"missed":   missed,
				"trials":   row.Trials,
			}).Warn("metric missing in some trials, counting them as 0.0")
		}
		cells = append(cells, m.Value)
	}
	t.rows = append(t.rows, cells)
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Warnings() []string {
	return append([]string(nil), t.warnings...)
}

// Cells returns row i as typed values.
func (t *Table) Cells(i int) []any {
	return append([]any(nil), t.rows[i]...)
}

// Records is the table as text, header first.
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.rows)+1)
	records = append(records, t.Columns())
	for _, row := range t.rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = FormatCell(cell)
		}
		records = append(records, record)
	}
	return records
}

func FormatCell(cell any) string {
	switch v := cell.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return FormatFloat(v)
	default:
		return fmt.Sprint(v)
	}
}

// FormatFloat prints the shortest round-trip form, fixed notation with a
// trailing ".0" for whole numbers, scientific below 1e-4 and from 1e16.
func FormatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
