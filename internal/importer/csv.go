package importer

import (
	"encoding/csv"
	"fmt"
	"io"
)

func ReadCSV(r io.Reader, schema Schema) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return schema.records(rows)
}
