package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ReadJSON accepts an array of flat objects keyed by the schema columns.
func ReadJSON(r io.Reader, schema Schema) ([]Record, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var items []map[string]interface{}
	if err := decoder.Decode(&items); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	header := make([]string, 0, len(schema.Columns))
	present := map[string]bool{}
	for _, item := range items {
		for key := range item {
			present[key] = true
		}
	}
	for _, column := range schema.Columns {
		if present[column] {
			header = append(header, column)
			delete(present, column)
		}
	}
	for key := range present {
		header = append(header, key)
	}

	rows := make([][]string, 0, len(items)+1)
	rows = append(rows, header)
	for _, item := range items {
		row := make([]string, len(header))
		for i, column := range header {
			row[i] = stringify(item[column])
		}
		rows = append(rows, row)
	}
	return schema.records(rows)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
