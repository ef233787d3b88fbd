// Package importer turns uploaded spreadsheets into header-keyed records.
// Column names must match the schema exactly; there is no fuzzy mapping.
package importer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported import format, expected .csv, .xlsx or .json")

// Record is one data row. Row is the 1-based line in the source, counting
// the header as row 1.
type Record struct {
	Row    int
	Values map[string]string
}

func (r Record) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

type Schema struct {
	Columns  []string
	Required []string
}

var (
	ProductSchema = Schema{
		Columns:  []string{"nameEn", "nameHe", "code", "price", "discount", "discountType"},
		Required: []string{"code", "price"},
	}
	ClientSchema = Schema{
		Columns:  []string{"name", "pc", "phone", "email"},
		Required: []string{"name"},
	}
)

// HeaderError reports a header row that does not fit the schema.
type HeaderError struct {
	Column string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}

// Format returns the lower-case extension without the dot.
func Format(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}

// Read picks the reader from the file extension.
func Read(fileName string, r io.Reader, schema Schema) ([]Record, error) {
	switch Format(fileName) {
	case "csv":
		return ReadCSV(r, schema)
	case "xlsx":
		return ReadXLSX(r, schema)
	case "json":
		return ReadJSON(r, schema)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func (s Schema) bindHeader(header []string) ([]string, error) {
	allowed := make(map[string]bool, len(s.Columns))
	for _, column := range s.Columns {
		allowed[column] = true
	}

	bound := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if name == "" {
			continue
		}
		if !allowed[name] {
			return nil, &HeaderError{Column: name, Reason: "unknown column, expected one of " + strings.Join(s.Columns, ", ")}
		}
		if seen[name] {
			return nil, &HeaderError{Column: name, Reason: "duplicate column"}
		}
		seen[name] = true
		bound[i] = name
	}

	for _, column := range s.Required {
		if !seen[column] {
			return nil, &HeaderError{Column: column, Reason: "required column is missing"}
		}
	}
	return bound, nil
}

// records converts raw rows (header first) into records, skipping blank lines.
func (s Schema) records(rows [][]string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, &HeaderError{Column: strings.Join(s.Required, ","), Reason: "header row is missing"}
	}

	columns, err := s.bindHeader(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		values := make(map[string]string, len(s.Columns))
		blank := true
		for j, cell := range row {
			if j >= len(columns) || columns[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				blank = false
			}
			values[columns[j]] = cell
		}
		if blank {
			continue
		}
		records = append(records, Record{Row: i + 2, Values: values})
	}
	return records, nil
}
