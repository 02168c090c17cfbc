package export

import (
	"fmt"
)

// Render produces the report in the requested format.
func Render(report Report, format Format) (*Result, error) {
	baseName := fmt.Sprintf("%s-%d-%s", report.StandardCode, report.Year, report.CompanyName)

	switch format {
	case FormatCSV:
		return renderCSV(report, baseName)
	case FormatXLSX:
		return renderXLSX(report, baseName)
	case FormatPDF, FormatDOCX:
		html, err := RenderReportHTML(report)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		if format == FormatPDF {
			return renderPDF(html, baseName)
		}
		return renderDOCX(html, baseName)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
