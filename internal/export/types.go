// Package export renders an assembled disclosure report into the formats the
// portal offers for download: PDF, DOCX, CSV and XLSX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a requested format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatDOCX, FormatCSV, FormatXLSX:
		return Format(s), nil
	case "":
		return FormatPDF, nil
	default:
		return "", errors.New("unsupported export format: " + s)
	}
}

// Row is one organized question with the company's answer, in hierarchy
// order. DisplayNo carries the "1", "1(a)", "1(a).1" label.
type Row struct {
	DisplayNo string
	Question  string
	Theme     string
	Category  string
	Answer    string
	Status    string
	Assignees string
}

// Report is the fully assembled data handed to a renderer.
type Report struct {
	StandardCode string
	StandardName string
	CompanyName  string
	Year         int
	GeneratedAt  time.Time
	Rows         []Row
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
