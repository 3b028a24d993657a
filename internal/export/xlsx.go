package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter implements SheetWriter by saving a workbook to a file.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer that replaces the workbook at path on each write.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// Write saves sheets to a temporary file next to the target and renames it
// into place, so readers never see a partial workbook.
func (w *XLSXWriter) Write(_ context.Context, sheets []Sheet) error {
	f, err := Workbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	tmp := w.path + ".tmp"
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("replacing %s: %w", w.path, err)
	}
	slog.Info("report written", "path", w.path, "sheets", len(sheets))
	return nil
}

// WriteTo streams sheets as an XLSX workbook to out.
func WriteTo(out io.Writer, sheets []Sheet) error {
	f, err := Workbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Workbook lays sheets out in a new workbook. The first row of every sheet is
// a header and is set in bold.
func Workbook(sheets []Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook needs at least one sheet")
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	for i, s := range sheets {
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), s.Name)
		} else {
			_, err = f.NewSheet(s.Name)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", s.Name, err)
		}
		if err := fillSheet(f, s, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func fillSheet(f *excelize.File, s Sheet, headerStyle int) error {
	for i, row := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("sheet %s row %d: %w", s.Name, i+1, err)
		}
		if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", s.Name, i+1, err)
		}
	}
	if len(s.Rows) > 0 {
		if err := f.SetRowStyle(s.Name, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("styling header of %s: %w", s.Name, err)
		}
	}
	return nil
}
