package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/storage"
)

const DefaultMaxBytes int64 = 50 << 20

type Input struct {
	Name   string
	Format Format
	Body   io.Reader
}

type Loader struct {
	TableName string
	MaxBytes  int64
	Objects   storage.ObjectStore
	Now       func() time.Time
}

func NewLoader(tableName string, maxBytes int64, objects storage.ObjectStore) *Loader {
	if tableName == "" {
		tableName = DefaultTableName
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{TableName: tableName, MaxBytes: maxBytes, Objects: objects, Now: time.Now}
}

// Load reads one uploaded file into a new Dataset. Every failure is an
// ingestion error; the previous dataset of the caller is left untouched.
func (l *Loader) Load(ctx context.Context, in Input) (*Dataset, error) {
	ds, err := l.load(ctx, in)
	format := string(in.Format)
	if ds != nil {
		format = string(ds.Format)
	}
	if format == "" {
		format = "unknown"
	}
	observability.ObserveDatasetLoad(format, ds.RowCount(), err)
	return ds, err
}

func (l *Loader) load(ctx context.Context, in Input) (*Dataset, error) {
	if in.Body == nil {
		return nil, failure.New(failure.KindIngestion, "dataset body is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.KindIngestion, "load cancelled", err)
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, l.MaxBytes+1))
	if err != nil {
		return nil, failure.Wrap(failure.KindIngestion, "read dataset body", err)
	}
	if int64(len(data)) > l.MaxBytes {
		return nil, failure.Newf(failure.KindIngestion, "dataset exceeds the %d byte upload limit", l.MaxBytes)
	}
	if len(data) == 0 {
		return nil, failure.New(failure.KindIngestion, "dataset file is empty")
	}

	format := in.Format
	if format == "" {
		format = DetectFormat(in.Name, data)
	}

	var parsed table
	switch format {
	case FormatCSV:
		parsed, err = parseCSV(data)
	case FormatXLSX:
		parsed, err = parseXLSX(data)
	case FormatParquet:
		parsed, err = parseParquet(data)
	default:
		return nil, failure.Newf(failure.KindIngestion, "unsupported dataset format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(parsed.columns) == 0 {
		return nil, failure.New(failure.KindIngestion, "dataset has no columns")
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return &Dataset{
		ID:        uuid.NewString(),
		TableName: l.TableName,
		Columns:   parsed.columns,
		Rows:      parsed.rows,
		Source:    in.Name,
		Format:    format,
		LoadedAt:  now().UTC(),
	}, nil
}

// LoadObject loads a dataset from the configured object store. The size is
// checked before the body is downloaded.
func (l *Loader) LoadObject(ctx context.Context, key string, format Format) (*Dataset, error) {
	if l.Objects == nil {
		return nil, failure.New(failure.KindIngestion, "object store is not configured")
	}
	info, err := l.Objects.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, failure.Wrap(failure.KindIngestion, fmt.Sprintf("object %q not found", key), err)
		}
		return nil, failure.Wrap(failure.KindIngestion, "stat object", err)
	}
	if info.Size > l.MaxBytes {
		return nil, failure.Newf(failure.KindIngestion, "object %q is %d bytes, limit is %d", key, info.Size, l.MaxBytes)
	}
	body, err := l.Objects.Get(ctx, key)
	if err != nil {
		return nil, failure.Wrap(failure.KindIngestion, "get object", err)
	}
	defer body.Close()
	return l.Load(ctx, Input{Name: path.Base(key), Format: format, Body: body})
}

// DetectFormat prefers the file extension and falls back to magic bytes.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(path.Ext(strings.TrimSpace(name))) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".parquet", ".pq":
		return FormatParquet
	}
	switch {
	case bytes.HasPrefix(data, []byte("PAR1")):
		return FormatParquet
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return FormatXLSX
	default:
		return FormatCSV
	}
}

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", failure.Newf(failure.KindInvalidRequest, "unsupported format %q", raw)
	}
}
