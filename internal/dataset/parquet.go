package dataset

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/failure"
)

const parquetBatchSize = 256

// parseParquet reads flat parquet files. Nested or repeated columns are
// rejected since they have no single-table mapping.
func parseParquet(data []byte) (table, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return table{}, failure.Wrap(failure.KindIngestion, "open parquet file", err)
	}

	fields := file.Schema().Fields()
	if len(fields) == 0 {
		return table{}, failure.New(failure.KindIngestion, "parquet file has no columns")
	}
	header := make([]string, len(fields))
	kinds := make([]parquetColumn, len(fields))
	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return table{}, failure.Newf(failure.KindIngestion, "parquet column %q is nested; only flat schemas are supported", field.Name())
		}
		header[i] = field.Name()
		kinds[i] = classifyParquetField(field)
	}

	names := NormalizeColumnNames(header)
	columns := make([]Column, len(fields))
	for i := range fields {
		columns[i] = Column{Name: names[i], Source: header[i], Type: kinds[i].semantic}
	}

	rows := make([][]any, 0, file.NumRows())
	buf := make([]parquet.Row, parquetBatchSize)
	for _, group := range file.RowGroups() {
		reader := group.Rows()
		for {
			n, readErr := reader.ReadRows(buf)
			for _, row := range buf[:n] {
				out := make([]any, len(fields))
				for _, value := range row {
					col := value.Column()
					if col < 0 || col >= len(fields) {
						continue
					}
					out[col] = kinds[col].convert(value)
				}
				rows = append(rows, out)
			}
			if readErr != nil {
				_ = reader.Close()
				if errors.Is(readErr, io.EOF) {
					break
				}
				return table{}, failure.Wrap(failure.KindIngestion, "read parquet rows", readErr)
			}
		}
	}
	return table{columns: columns, rows: rows}, nil
}

type parquetColumn struct {
	semantic SemanticType
	kind     parquet.Kind
	date     bool
	unit     time.Duration
}

func classifyParquetField(field parquet.Field) parquetColumn {
	typ := field.Type()
	col := parquetColumn{kind: typ.Kind()}
	if logical := typ.LogicalType(); logical != nil {
		switch {
		case logical.Date != nil:
			col.semantic = TypeDatetime
			col.date = true
			return col
		case logical.Timestamp != nil:
			col.semantic = TypeDatetime
			switch {
			case logical.Timestamp.Unit.Millis != nil:
				col.unit = time.Millisecond
			case logical.Timestamp.Unit.Micros != nil:
				col.unit = time.Microsecond
			default:
				col.unit = time.Nanosecond
			}
			return col
		}
	}
	switch col.kind {
	case parquet.Boolean:
		col.semantic = TypeBoolean
	case parquet.Int32, parquet.Int64:
		col.semantic = TypeInteger
	case parquet.Float, parquet.Double:
		col.semantic = TypeFloat
	default:
		col.semantic = TypeText
	}
	return col
}

func (c parquetColumn) convert(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch c.semantic {
	case TypeDatetime:
		raw := value.Int64()
		if c.kind == parquet.Int32 {
			raw = int64(value.Int32())
		}
		if c.date {
			return time.Unix(raw*86400, 0).UTC()
		}
		return time.Unix(0, raw*int64(c.unit)).UTC()
	case TypeBoolean:
		return value.Boolean()
	case TypeInteger:
		if c.kind == parquet.Int32 {
			return int64(value.Int32())
		}
		return value.Int64()
	case TypeFloat:
		if c.kind == parquet.Float {
			return float64(value.Float())
		}
		return value.Double()
	default:
		return string(value.ByteArray())
	}
}
