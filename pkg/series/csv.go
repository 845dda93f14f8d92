package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads an event snapshot exported by the import layer. Expected
// columns: date, region, disease, count and optionally age, sex. A header
// row is detected and skipped.
func LoadCSV(path string) ([]EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses event records from r
func ReadCSV(r io.Reader) ([]EventRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var events []EventRecord
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read events csv: %w", err)
		}
		line++
		if len(record) < 4 {
			return nil, fmt.Errorf("read events csv: line %d has %d columns, want at least 4", line, len(record))
		}
		if line == 1 && isHeader(record) {
			continue
		}
		count, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("read events csv: line %d: bad count %q", line, record[3])
		}
		rec := EventRecord{
			Date:    strings.TrimSpace(record[0]),
			Region:  strings.TrimSpace(record[1]),
			Disease: strings.TrimSpace(record[2]),
			Count:   count,
		}
		if len(record) > 4 {
			if age, err := strconv.Atoi(strings.TrimSpace(record[4])); err == nil {
				rec.Age = age
			}
		}
		if len(record) > 5 {
			rec.Sex = strings.TrimSpace(record[5])
		}
		events = append(events, rec)
	}
	return events, nil
}

// isHeader reports whether the first CSV row looks like column names
func isHeader(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	return err != nil
}
