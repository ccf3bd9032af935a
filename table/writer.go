package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// Writer encodes a whole table in one go.
type Writer interface {
	Encode(w io.Writer, t *Table) error
	Extension() string
}

type CSVWriter struct{}

func (CSVWriter) Extension() string { return ".csv" }

func (CSVWriter) Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Records()); err != nil {
		return errors.Wrap(err, "failed to write csv")
	}
	return nil
}

type XLSXWriter struct {
	Sheet string
}

func (XLSXWriter) Extension() string { return ".xlsx" }

func (x XLSXWriter) Encode(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := x.Sheet
	if sheet == "" {
		sheet = "Results"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return errors.Wrap(err, "failed to name sheet")
	}

	header := make([]any, 0, len(t.columns))
	for _, c := range t.columns {
		header = append(header, c)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := append([]any(nil), row...)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "failed to write row %d", i+1)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "failed to write xlsx")
	}
	return nil
}

func WriterFor(format string) (Writer, error) {
	switch format {
	case "", "csv":
		return CSVWriter{}, nil
	case "xlsx":
		return XLSXWriter{}, nil
	default:
		return nil, errors.Errorf("unknown table format '%s'", format)
	}
}

// WriteFile persists the table once. The file appears complete or not at all.
func (t *Table) WriteFile(path string, w Writer) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary table file")
	}
	defer os.Remove(tmp.Name())

	if err := w.Encode(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to flush table")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to move table into place")
	}
	return nil
}
