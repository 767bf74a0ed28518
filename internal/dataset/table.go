package dataset

import (
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
)

type table struct {
	columns []Column
	rows    [][]any
}

// fromRecords builds a typed table from a header row and text records.
// Short records are padded with NULL; longer ones are rejected.
func fromRecords(header []string, records [][]string) (table, error) {
	if len(header) == 0 {
		return table{}, failure.New(failure.KindIngestion, "dataset has no columns")
	}
	names := NormalizeColumnNames(header)
	width := len(header)

	cells := make([][]string, width)
	kept := make([][]string, 0, len(records))
	for i, record := range records {
		if isBlankRecord(record) {
			continue
		}
		if len(record) > width {
			return table{}, failure.Newf(failure.KindIngestion, "row %d has %d fields, header has %d", i+2, len(record), width)
		}
		kept = append(kept, record)
		for col := 0; col < width; col++ {
			if col < len(record) {
				cells[col] = append(cells[col], record[col])
			}
		}
	}

	columns := make([]Column, width)
	for col := range columns {
		columns[col] = Column{
			Name:   names[col],
			Source: strings.TrimSpace(header[col]),
			Type:   InferType(cells[col]),
		}
	}

	rows := make([][]any, 0, len(kept))
	for _, record := range kept {
		row := make([]any, width)
		for col := 0; col < width; col++ {
			if col < len(record) {
				row[col] = ConvertCell(columns[col].Type, record[col])
			}
		}
		rows = append(rows, row)
	}
	return table{columns: columns, rows: rows}, nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
