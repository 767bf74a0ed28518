package dataset

import (
	"time"

	"github.com/google/uuid"
)

const DefaultTableName = "uploaded_table"

type SemanticType string

const (
	TypeInteger  SemanticType = "integer"
	TypeFloat    SemanticType = "float"
	TypeText     SemanticType = "text"
	TypeBoolean  SemanticType = "boolean"
	TypeDatetime SemanticType = "datetime"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
	FormatSample  Format = "sample"
)

type Column struct {
	Name   string       `json:"name"`
	Source string       `json:"source"`
	Type   SemanticType `json:"type"`
}

// Dataset is one loaded table. Row values are int64, float64, bool,
// time.Time, string or nil, matching the column type.
type Dataset struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	Columns   []Column  `json:"columns"`
	Rows      [][]any   `json:"-"`
	Source    string    `json:"source"`
	Format    Format    `json:"format"`
	LoadedAt  time.Time `json:"loaded_at"`
}

func (d *Dataset) RowCount() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) ColumnNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Sample is the built-in employee table used when a session asks before
// uploading anything.
func Sample(tableName string) *Dataset {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &Dataset{
		ID:        uuid.NewString(),
		TableName: tableName,
		Columns: []Column{
			{Name: "ID", Source: "ID", Type: TypeInteger},
			{Name: "Name", Source: "Name", Type: TypeText},
			{Name: "Age", Source: "Age", Type: TypeInteger},
			{Name: "Salary", Source: "Salary", Type: TypeInteger},
		},
		Rows: [][]any{
			{int64(1), "Alice", int64(25), int64(50000)},
			{int64(2), "Bob", int64(30), int64(60000)},
			{int64(3), "Charlie", int64(35), int64(70000)},
			{int64(4), "David", int64(40), int64(80000)},
			{int64(5), "Emma", int64(45), int64(90000)},
		},
		Source:   "sample",
		Format:   FormatSample,
		LoadedAt: time.Now().UTC(),
	}
}
