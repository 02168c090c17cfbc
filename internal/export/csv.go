package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// renderCSV writes the report rows as a flat CSV table.
func renderCSV(report Report, baseName string) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"No.", "Question", "Theme", "Category", "Answer", "Status", "Assignees", "Year"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	year := strconv.Itoa(report.Year)
	for _, row := range report.Rows {
		record := []string{row.DisplayNo, row.Question, row.Theme, row.Category, row.Answer, row.Status, row.Assignees, year}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", row.DisplayNo, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(baseName) + ".csv",
		MimeType: "text/csv",
	}, nil
}
