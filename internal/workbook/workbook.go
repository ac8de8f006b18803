// Package workbook is the excelize-backed valuation engine: category sheets are addressed
// by cell, slot columns are seeded from a template column, and report sheets are rewritten
// at the end of each run.
package workbook

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// Workbook wraps an excelize file. It is not safe for concurrent use.
type Workbook struct {
	path string
	file *excelize.File
}

// Open loads the workbook at path.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open workbook %s", path)
	}
	return &Workbook{path: path, file: f}, nil
}

// New creates an empty in-memory workbook that Save writes to path.
func New(path string) *Workbook {
	return &Workbook{path: path, file: excelize.NewFile()}
}

// File exposes the underlying excelize file for seeding templates.
func (w *Workbook) File() *excelize.File {
	return w.file
}

// Path returns where Save writes.
func (w *Workbook) Path() string {
	return w.path
}

// Read returns the unformatted value of a cell, evaluating formulas.
func (w *Workbook) Read(sheet, cell string) (string, error) {
	formula, err := w.file.GetCellFormula(sheet, cell)
	if err != nil {
		return "", eris.Wrapf(err, "read formula %s!%s", sheet, cell)
	}
	if formula == "" {
		v, err := w.file.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
		if err != nil {
			return "", eris.Wrapf(err, "read %s!%s", sheet, cell)
		}
		return v, nil
	}
	v, err := w.file.CalcCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", eris.Wrapf(err, "calculate %s!%s", sheet, cell)
	}
	return v, nil
}

// Write stores a literal value in a cell, replacing any formula.
func (w *Workbook) Write(sheet, cell string, value any) error {
	if err := w.file.SetCellFormula(sheet, cell, ""); err != nil {
		return eris.Wrapf(err, "clear formula %s!%s", sheet, cell)
	}
	if err := w.file.SetCellValue(sheet, cell, value); err != nil {
		return eris.Wrapf(err, "write %s!%s", sheet, cell)
	}
	return nil
}

// Formula returns the formula of a cell without the leading '=' (empty for literals).
func (w *Workbook) Formula(sheet, cell string) (string, error) {
	f, err := w.file.GetCellFormula(sheet, cell)
	if err != nil {
		return "", eris.Wrapf(err, "read formula %s!%s", sheet, cell)
	}
	return f, nil
}

// SetFormula replaces the formula of a cell.
func (w *Workbook) SetFormula(sheet, cell, formula string) error {
	if err := w.file.SetCellFormula(sheet, cell, strings.TrimPrefix(formula, "=")); err != nil {
		return eris.Wrapf(err, "set formula %s!%s", sheet, cell)
	}
	return nil
}

// Recompute drops cached formula results so dependent cells are evaluated from the new
// inputs, both by later Reads and by the spreadsheet application when the file is opened.
func (w *Workbook) Recompute() error {
	if err := w.file.UpdateLinkedValue(); err != nil {
		return eris.Wrap(err, "recompute workbook")
	}
	return nil
}

// Save writes the workbook to its path and reloads it. excelize drops written sheets
// from memory on save and later edits to them can be lost, so the handle is replaced
// with a fresh one read back from disk.
func (w *Workbook) Save() error {
	if err := w.file.SaveAs(w.path); err != nil {
		return eris.Wrapf(err, "save workbook %s", w.path)
	}
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return eris.Wrapf(err, "reload workbook %s", w.path)
	}
	_ = w.file.Close()
	w.file = f
	return nil
}

// Close releases the workbook's resources.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// HasSheet reports whether sheet exists.
func (w *Workbook) HasSheet(sheet string) bool {
	idx, err := w.file.GetSheetIndex(sheet)
	return err == nil && idx >= 0
}

// FindMarkerRow returns the 1-based row whose column A equals label, or 0 when absent.
func (w *Workbook) FindMarkerRow(sheet, label string) (int, error) {
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return 0, eris.Wrapf(err, "scan %s", sheet)
	}
	for i, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) == label {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Column returns the column slot columns after start, or ok=false when it would pass last.
func Column(start string, slot int, last string) (col string, ok bool, err error) {
	first, err := excelize.ColumnNameToNumber(start)
	if err != nil {
		return "", false, eris.Wrapf(err, "start column %q", start)
	}
	end, err := excelize.ColumnNameToNumber(last)
	if err != nil {
		return "", false, eris.Wrapf(err, "last column %q", last)
	}
	n := first + slot
	if slot < 0 || n > end {
		return "", false, nil
	}
	col, err = excelize.ColumnNumberToName(n)
	if err != nil {
		return "", false, eris.Wrapf(err, "column %d", n)
	}
	return col, true, nil
}

// SlotCapacity returns how many slot columns fit between start and last inclusive.
func SlotCapacity(start, last string) int {
	first, err1 := excelize.ColumnNameToNumber(start)
	end, err2 := excelize.ColumnNameToNumber(last)
	if err1 != nil || err2 != nil || end < first {
		return 0
	}
	return end - first + 1
}

// ShiftColumn rewrites relative references to column from in formula so they point at to.
// Absolute column references ($B1) and other columns are left alone.
func ShiftColumn(formula, from, to string) string {
	re := regexp.MustCompile(`(^|[^$A-Za-z_])` + regexp.QuoteMeta(from) + `(\$?[0-9]+)`)
	return re.ReplaceAllString(formula, "${1}"+to+"${2}")
}
