package export

import (
	"fmt"
	"strings"
)

// Table is tabular report content with an optional title.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Exporter renders a table into a downloadable document.
type Exporter interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat resolves an exporter by format name ("csv" or "pdf").
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return NewCSVExporter(), nil
	case "pdf":
		return NewPDFExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("table requires at least one header")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Headers))
		}
	}
	return nil
}
