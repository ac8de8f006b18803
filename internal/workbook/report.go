package workbook

import (
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// Report tab colors.
const (
	TabRed    = "FF0000"
	TabGreen  = "00FF00"
	TabYellow = "FFFF00"
)

// WriteReport rewrites sheet with header in row 1 and rows below it, creating the sheet
// when needed. Everything under the header from a previous run is removed first.
func (w *Workbook) WriteReport(sheet, tabColor string, header []string, rows [][]any) error {
	if !w.HasSheet(sheet) {
		if _, err := w.file.NewSheet(sheet); err != nil {
			return eris.Wrapf(err, "create report sheet %s", sheet)
		}
		if err := w.initReportSheet(sheet, tabColor, len(header)); err != nil {
			return err
		}
	}

	existing, err := w.file.GetRows(sheet)
	if err != nil {
		return eris.Wrapf(err, "scan %s", sheet)
	}
	for r := len(existing); r >= 2; r-- {
		if err := w.file.RemoveRow(sheet, r); err != nil {
			return eris.Wrapf(err, "clear %s row %d", sheet, r)
		}
	}

	if err := w.file.SetSheetRow(sheet, "A1", &header); err != nil {
		return eris.Wrapf(err, "write %s header", sheet)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return eris.Wrap(err, "cell name")
		}
		row := row
		if err := w.file.SetSheetRow(sheet, cell, &row); err != nil {
			return eris.Wrapf(err, "write %s row %d", sheet, i+2)
		}
	}
	return nil
}

func (w *Workbook) initReportSheet(sheet, tabColor string, width int) error {
	if width < 1 {
		return nil
	}
	style, err := w.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"C0C0C0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return eris.Wrap(err, "header style")
	}
	lastCol, err := excelize.ColumnNumberToName(width)
	if err != nil {
		return eris.Wrap(err, "header width")
	}
	if err := w.file.SetCellStyle(sheet, "A1", lastCol+"1", style); err != nil {
		return eris.Wrapf(err, "style %s header", sheet)
	}
	if err := w.file.SetColWidth(sheet, "A", lastCol, 40); err != nil {
		return eris.Wrapf(err, "size %s columns", sheet)
	}
	if err := w.file.SetRowHeight(sheet, 1, 30); err != nil {
		return eris.Wrapf(err, "size %s header", sheet)
	}
	if tabColor != "" {
		color := tabColor
		if err := w.file.SetSheetProps(sheet, &excelize.SheetPropsOptions{TabColorRGB: &color}); err != nil {
			return eris.Wrapf(err, "color %s tab", sheet)
		}
	}
	return nil
}
