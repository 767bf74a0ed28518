package schema

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
)

const DefaultSampleRows = 3

// Introspector derives descriptions from datasets without running SQL.
// Results are cached per dataset id and concurrent calls are collapsed.
type Introspector struct {
	sampleRows int

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]Description
}

func NewIntrospector(sampleRows int) *Introspector {
	if sampleRows < 0 {
		sampleRows = DefaultSampleRows
	}
	return &Introspector{sampleRows: sampleRows, cache: make(map[string]Description)}
}

func (i *Introspector) Describe(ds *dataset.Dataset) (Description, error) {
	if ds == nil {
		return Description{}, failure.New(failure.KindIntrospection, "dataset is required")
	}
	if len(ds.Columns) == 0 {
		return Description{}, failure.Newf(failure.KindIntrospection, "table %q has no columns", ds.TableName)
	}
	if ds.ID == "" {
		return describe(ds, i.sampleRows), nil
	}

	i.mu.RLock()
	cached, ok := i.cache[ds.ID]
	i.mu.RUnlock()
	if ok {
		return cached, nil
	}

	value, err, _ := i.group.Do(ds.ID, func() (any, error) {
		desc := describe(ds, i.sampleRows)
		i.mu.Lock()
		i.cache[ds.ID] = desc
		i.mu.Unlock()
		return desc, nil
	})
	if err != nil {
		return Description{}, err
	}
	return value.(Description), nil
}

// Forget drops the cached description of a replaced dataset.
func (i *Introspector) Forget(datasetID string) {
	i.mu.Lock()
	delete(i.cache, datasetID)
	i.mu.Unlock()
}

func describe(ds *dataset.Dataset, sampleRows int) Description {
	columns := make([]ColumnDescription, len(ds.Columns))
	limit := sampleRows
	if limit > len(ds.Rows) {
		limit = len(ds.Rows)
	}
	for col, column := range ds.Columns {
		samples := make([]any, 0, limit)
		for _, row := range ds.Rows[:limit] {
			if col < len(row) && row[col] != nil {
				samples = append(samples, row[col])
			}
		}
		columns[col] = ColumnDescription{Name: column.Name, Type: column.Type, Samples: samples}
	}
	return Description{
		Version: ds.ID,
		Tables: []TableDescription{{
			Name:     ds.TableName,
			RowCount: len(ds.Rows),
			Columns:  columns,
		}},
	}
}
