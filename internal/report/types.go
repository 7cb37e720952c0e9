package report

import (
	"fmt"
	"strings"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

type Renderer interface {
	Render(outcomes []migration.Outcome) ([]byte, error)
	SupportedFormat() Format
}

var Columns = []string{"VMName", "SourceCluster", "SourceDatastore", "SourceTag", "SourceNetworks", "VM_size_GB", "Status", "Reason"}

// Rows builds the report table, header first. Unless all is set, only outcomes that
// got as far as network resolution are listed.
func Rows(outcomes []migration.Outcome, all bool) [][]string {
	rows := [][]string{Columns}
	for _, o := range outcomes {
		if !all && !o.Reportable() {
			continue
		}
		rows = append(rows, []string{
			o.VMName,
			o.SourceCluster,
			o.SourceDatastore,
			o.SourceTag,
			strings.Join(o.SourceNetworks, ","),
			fmt.Sprintf("%d", o.SizeGB),
			string(o.Status),
			o.Reason,
		})
	}
	return rows
}

func NewRenderer(format Format, all bool) (Renderer, error) {
	switch format {
	case FormatCSV:
		return NewCSVRenderer(all), nil
	case FormatXLSX:
		return NewXLSXRenderer(all), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}
