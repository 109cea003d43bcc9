package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// CSV flattens a CSV file into text: one line per record, fields joined with
// ", ". Ragged rows are tolerated; empty records are skipped.
func CSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to parse csv: %w", err)
	}

	var lines []string
	for _, record := range records {
		line := strings.Join(record, ", ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
