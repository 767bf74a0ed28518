package dataset

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/querypilot/querypilot/internal/failure"
)

// parseXLSX reads the first sheet. The first non-blank row is the header.
func parseXLSX(data []byte) (table, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return table{}, failure.Wrap(failure.KindIngestion, "open xlsx workbook", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return table{}, failure.New(failure.KindIngestion, "xlsx workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return table{}, failure.Wrap(failure.KindIngestion, "read xlsx sheet "+sheets[0], err)
	}

	start := 0
	for start < len(rows) && isBlankRecord(rows[start]) {
		start++
	}
	if start == len(rows) {
		return table{}, failure.Newf(failure.KindIngestion, "xlsx sheet %q is empty", sheets[0])
	}
	return fromRecords(trimTrailingBlank(rows[start]), rows[start+1:])
}

func trimTrailingBlank(header []string) []string {
	end := len(header)
	for end > 0 && isBlankRecord(header[end-1:end]) {
		end--
	}
	return header[:end]
}
