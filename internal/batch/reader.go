package batch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const (
	ColumnVMName           = "vm_name"
	ColumnOsType           = "os_type"
	ColumnDatastoreCluster = "datastore_cluster_name"
	ColumnCustomerName     = "customer_name"
	ColumnCustomerID       = "customer_id"
)

var requiredColumns = []string{ColumnVMName, ColumnOsType, ColumnDatastoreCluster, ColumnCustomerName, ColumnCustomerID}

// Row is one line of the batch file as read, before it becomes a request.
type Row struct {
	Line                 int    `validate:"-"`
	VMName               string `validate:"required,notblank,single_name"`
	OsType               string `validate:"omitempty,single_name"`
	DatastoreClusterName string `validate:"required,notblank,single_name"`
	CustomerName         string `validate:"required,notblank,single_name"`
	CustomerID           string `validate:"required,tenant_id"`
}

func (r Row) Request() migration.Request {
	return migration.Request{
		VMName:               r.VMName,
		OsClass:              r.OsType,
		DatastoreClusterName: r.DatastoreClusterName,
		TenantName:           r.CustomerName,
		TenantID:             r.CustomerID,
	}
}

type ErrMissingColumn struct {
	error
}

func NewErrMissingColumn(columns []string) *ErrMissingColumn {
	return &ErrMissingColumn{fmt.Errorf("batch file lacks column(s): %s", strings.Join(columns, ", "))}
}

// RowError rejects a single row; the rest of the batch is still usable.
type RowError struct {
	Line   int
	VMName string
	Err    error
}

func (e RowError) Error() string {
	if e.VMName != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.VMName, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Batch holds the accepted requests in file order and the rejected rows.
type Batch struct {
	Requests []migration.Request
	Rejected []RowError
}

// ReadFile picks the format from the extension: .xlsx is a workbook, anything else is CSV.
func ReadFile(path string) (*Batch, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(bytes.NewReader(content))
	}
	return ReadCSV(bytes.NewReader(content))
}

func ReadCSV(r io.Reader) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv batch: %w", err)
	}
	return parseRows(rows)
}

// ReadXLSX reads the first sheet of the workbook.
func ReadXLSX(r io.Reader) (*Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("error opening Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheet")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	return parseRows(rows)
}

func buildColumnMap(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := columns[key]; !seen {
			columns[key] = i
		}
	}
	return columns
}

func columnValue(row []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRows(rows [][]string) (*Batch, error) {
	if len(rows) == 0 {
		return nil, errors.New("batch file is empty")
	}
	columns := buildColumnMap(rows[0])
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, NewErrMissingColumn(missing)
	}

	v := NewValidator()
	batch := &Batch{}
	for i, raw := range rows[1:] {
		line := i + 2
		if isEmpty(raw) {
			continue
		}
		row := Row{
			Line:                 line,
			VMName:               columnValue(raw, columns, ColumnVMName),
			OsType:               columnValue(raw, columns, ColumnOsType),
			DatastoreClusterName: columnValue(raw, columns, ColumnDatastoreCluster),
			CustomerName:         columnValue(raw, columns, ColumnCustomerName),
			CustomerID:           columnValue(raw, columns, ColumnCustomerID),
		}
		if err := v.Struct(row); err != nil {
			batch.Rejected = append(batch.Rejected, RowError{Line: line, VMName: row.VMName, Err: describe(err)})
			continue
		}
		batch.Requests = append(batch.Requests, row.Request())
	}

	zap.S().Named("batch").Infof("batch read: %d request(s), %d rejected row(s)", len(batch.Requests), len(batch.Rejected))
	return batch, nil
}

func isEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// describe turns validator errors into column names a user can find in the file.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", columnOf(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid %s", strings.Join(fields, ", "))
}

func columnOf(field string) string {
	switch field {
	case "VMName":
		return ColumnVMName
	case "OsType":
		return ColumnOsType
	case "DatastoreClusterName":
		return ColumnDatastoreCluster
	case "CustomerName":
		return ColumnCustomerName
	case "CustomerID":
		return ColumnCustomerID
	default:
		return field
	}
}
