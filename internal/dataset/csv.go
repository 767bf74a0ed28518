package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"

	"github.com/querypilot/querypilot/internal/failure"
)

var candidateDelimiters = []rune{',', ';', '\t', '|'}

func parseCSV(data []byte) (table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return table{}, failure.New(failure.KindIngestion, "csv file is empty")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return table{}, failure.New(failure.KindIngestion, "csv file is empty")
		}
		return table{}, failure.Wrap(failure.KindIngestion, "read csv header", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		return table{}, failure.Wrap(failure.KindIngestion, "read csv rows", err)
	}
	return fromRecords(header, records)
}

// sniffDelimiter counts candidate delimiters outside quotes on the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, delimiter := range candidateDelimiters {
			if r == delimiter {
				counts[r]++
			}
		}
	}
	best := ','
	bestCount := 0
	for _, delimiter := range candidateDelimiters {
		if counts[delimiter] > bestCount {
			best = delimiter
			bestCount = counts[delimiter]
		}
	}
	return best
}
