// Package sheet reads and writes the tabular files the pipeline consumes and
// produces. Excel workbooks (.xlsx, .xlsm) go through excelize; .csv files are
// handled with encoding/csv.
package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"mepmap/pkg/errs"
)

// Table is a header row plus data rows. Rows may be ragged.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Cell returns the value at (row, col), or "" for cells past the end of a short row.
func (t *Table) Cell(row, col int) string {
	if row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Supported reports whether path has an extension this package can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

// Read loads the first worksheet of a workbook, or a csv file. The first row is
// the header row.
func Read(path string) (*Table, error) {
	var rows [][]string
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, errs.ErrSchema.WithMessage("unsupported spreadsheet format %q for %s", ext, path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.ErrSchema.WithMessage("%s has no header row", path)
	}

	return &Table{Headers: rows[0], Rows: rows[1:]}, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open workbook %s", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.ErrSchema.WithMessage("%s has no worksheets", path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read worksheet %q of %s", sheets[0], path)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse csv file %s", path)
	}
	return rows, nil
}

// Write saves headers and rows to path, choosing the format from the extension.
func Write(path string, headers []string, rows [][]interface{}) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		return writeWorkbook(path, headers, rows)
	case ".csv":
		return writeCSV(path, headers, rows)
	default:
		return errs.ErrConfiguration.WithMessage("unsupported results format %q for %s", ext, path)
	}
}

func writeWorkbook(path string, headers []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := f.GetSheetName(0)
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := setRow(f, sheetName, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, sheetName, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save workbook %s", path)
	}
	return nil
}

func setRow(f *excelize.File, sheetName string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheetName, cell, &values)
}

func writeCSV(path string, headers []string, rows [][]interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	record := make([]string, 0, len(headers))
	for _, row := range rows {
		record = record[:0]
		for _, value := range row {
			record = append(record, format(value))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func format(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return fmt.Sprint(value)
}
