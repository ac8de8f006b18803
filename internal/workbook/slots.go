package workbook

import (
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// ClearColumns empties every cell in columns from..to (inclusive) on sheet, formulas included.
func (w *Workbook) ClearColumns(sheet, from, to string) error {
	first, err := excelize.ColumnNameToNumber(from)
	if err != nil {
		return eris.Wrapf(err, "column %q", from)
	}
	last, err := excelize.ColumnNameToNumber(to)
	if err != nil {
		return eris.Wrapf(err, "column %q", to)
	}

	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return eris.Wrapf(err, "scan %s", sheet)
	}
	for r := 1; r <= len(rows); r++ {
		for c := first; c <= last; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return eris.Wrap(err, "cell name")
			}
			if err := w.Write(sheet, cell, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrepareSlot copies the template column into col: literals are copied as-is, formulas
// have their relative template-column references moved to col, and cell styles follow.
func (w *Workbook) PrepareSlot(sheet, template, col string) error {
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return eris.Wrapf(err, "scan %s", sheet)
	}

	for r := 1; r <= len(rows); r++ {
		src := template + itoa(r)
		dst := col + itoa(r)

		formula, err := w.file.GetCellFormula(sheet, src)
		if err != nil {
			return eris.Wrapf(err, "read formula %s!%s", sheet, src)
		}
		if formula != "" {
			if err := w.SetFormula(sheet, dst, ShiftColumn(formula, template, col)); err != nil {
				return err
			}
		} else {
			v, err := w.file.GetCellValue(sheet, src, excelize.Options{RawCellValue: true})
			if err != nil {
				return eris.Wrapf(err, "read %s!%s", sheet, src)
			}
			if err := w.Write(sheet, dst, literal(v)); err != nil {
				return err
			}
		}

		style, err := w.file.GetCellStyle(sheet, src)
		if err != nil {
			return eris.Wrapf(err, "read style %s!%s", sheet, src)
		}
		if style != 0 {
			if err := w.file.SetCellStyle(sheet, dst, dst, style); err != nil {
				return eris.Wrapf(err, "copy style %s!%s", sheet, dst)
			}
		}
	}
	return nil
}
