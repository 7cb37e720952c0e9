package report

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

type CSVRenderer struct {
	all bool
}

func NewCSVRenderer(all bool) *CSVRenderer {
	return &CSVRenderer{all: all}
}

func (r *CSVRenderer) SupportedFormat() Format {
	return FormatCSV
}

func (r *CSVRenderer) Render(outcomes []migration.Outcome) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	for _, row := range Rows(outcomes, r.all) {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	return buf.Bytes(), nil
}
