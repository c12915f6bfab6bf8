// Package sheet reads uploaded recipient lists (CSV, XLSX, XLS) into a
// header plus string rows.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	ErrImport        = errors.New("import failed")
	ErrUnsupported   = errors.New("unsupported file type")
	ErrUnknownColumn = errors.New("unknown column")
)

var allowedExtensions = map[string]bool{
	".csv":  true,
	".xls":  true,
	".xlsx": true,
}

// Row maps a column name to the raw cell text.
type Row map[string]string

type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Sample returns at most n leading rows.
func (t *Table) Sample(n int) []Row {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AllowedExtension reports whether the filename has a supported extension.
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Read parses the file at path, picking the reader by extension.
func Read(path string) (*Table, error) {

	var (
		records [][]string
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSVFile(path)
	case ".xlsx":
		records, err = readXLSX(path)
	case ".xls":
		records, err = readXLS(path)
	default:
		return nil, fmt.Errorf("%w: %w: %s", ErrImport, ErrUnsupported, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}

	table, err := buildTable(records)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	return table, nil
}

func readCSVFile(path string) ([][]string, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseCSV(data)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseCSV(data []byte) ([][]string, error) {

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errors.New("csv is not valid UTF-8")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// buildTable turns raw records into a Table. The first record is the header.
func buildTable(records [][]string) (*Table, error) {

	if len(records) == 0 {
		return nil, errors.New("file has no header row")
	}

	columns := normalizeHeader(records[0])
	if len(columns) == 0 {
		return nil, errors.New("header row is empty")
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if blank(record) {
			continue
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

// normalizeHeader names blank header cells and makes duplicates unique.
func normalizeHeader(header []string) []string {

	// trailing empty cells are spreadsheet padding, not columns
	last := len(header)
	for last > 0 && strings.TrimSpace(header[last-1]) == "" {
		last--
	}

	seen := make(map[string]int, last)
	columns := make([]string, 0, last)
	for i, h := range header[:last] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n+1)
		} else {
			seen[h] = 0
		}
		columns = append(columns, h)
	}

	return columns
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
