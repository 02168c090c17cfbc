package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// renderXLSX writes the report as a styled spreadsheet.
func renderXLSX(report Report, baseName string) (*Result, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Report"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E8F5E9"}},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	title := fmt.Sprintf("%s %d - %s", report.StandardCode, report.Year, report.CompanyName)
	if err := f.SetCellValue(sheet, "A1", title); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}

	headers := []string{"No.", "Question", "Theme", "Category", "Answer", "Status", "Assignees"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 3)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header %s: %w", h, err)
		}
	}
	if err := f.SetCellStyle(sheet, "A3", "G3", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range report.Rows {
		values := []any{row.DisplayNo, row.Question, row.Theme, row.Category, row.Answer, row.Status, row.Assignees}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+4)
			if err != nil {
				return nil, fmt.Errorf("row cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %s: %w", row.DisplayNo, err)
			}
		}
	}

	if err := f.SetColWidth(sheet, "B", "B", 60); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheet, "E", "E", 60); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(baseName) + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}
