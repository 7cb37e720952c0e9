package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const SheetName = "Migration"

// sizeColumn is written as a number so the sheet can sum it.
const sizeColumn = 5

type XLSXRenderer struct {
	all bool
}

func NewXLSXRenderer(all bool) *XLSXRenderer {
	return &XLSXRenderer{all: all}
}

func (r *XLSXRenderer) SupportedFormat() Format {
	return FormatXLSX
}

func (r *XLSXRenderer) Render(outcomes []migration.Outcome) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, row := range Rows(outcomes, r.all) {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			var v any = value
			if i > 0 && j == sizeColumn {
				if n, err := strconv.ParseInt(value, 10, 64); err == nil {
					v = n
				}
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("writing cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
