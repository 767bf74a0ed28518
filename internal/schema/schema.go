package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/dataset"
)

type ColumnDescription struct {
	Name    string               `json:"name"`
	Type    dataset.SemanticType `json:"type"`
	Samples []any                `json:"samples"`
}

type TableDescription struct {
	Name     string              `json:"name"`
	RowCount int                 `json:"row_count"`
	Columns  []ColumnDescription `json:"columns"`
}

// Description is the read-only structural view of a dataset version used to
// ground generation.
type Description struct {
	Version string             `json:"version"`
	Tables  []TableDescription `json:"tables"`
}

// Table matches names case-insensitively, like the SQL engine does.
func (d Description) Table(name string) (TableDescription, bool) {
	name = strings.Trim(strings.TrimSpace(name), `"`)
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return TableDescription{}, false
}

func (t TableDescription) Column(name string) (ColumnDescription, bool) {
	name = strings.Trim(strings.TrimSpace(name), `"`)
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return ColumnDescription{}, false
}

func (d Description) Text() string {
	var b strings.Builder
	for i, table := range d.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table %q (%d rows)\n", table.Name, table.RowCount)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %q %s", column.Name, column.Type)
			if len(column.Samples) > 0 {
				samples := make([]string, 0, len(column.Samples))
				for _, sample := range column.Samples {
					samples = append(samples, FormatValue(sample))
				}
				fmt.Fprintf(&b, " e.g. %s", strings.Join(samples, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatValue renders a cell the way it would appear as a SQL literal.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return "'" + v.Format("2006-01-02") + "'"
		}
		return "'" + v.Format("2006-01-02 15:04:05") + "'"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
