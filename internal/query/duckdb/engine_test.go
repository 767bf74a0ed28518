package duckdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/query"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "session-1")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func salaries(values ...int64) *dataset.Dataset {
	ds := dataset.Sample("")
	ds.Rows = ds.Rows[:0]
	for i, v := range values {
		ds.Rows = append(ds.Rows, []any{int64(i + 1), "person", int64(30 + i), v})
	}
	return ds
}

func TestExecuteAverageSalary(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Replace(context.Background(), salaries(50000, 55000, 65000, 70000, 90000)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	snapshot, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer snapshot.Release()

	result, err := NewEngine(snapshot).Execute(context.Background(), query.Request{
		SQL:    `SELECT AVG("Salary") AS avg_salary FROM "uploaded_table";`,
		RowCap: 10000,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "avg_salary" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != float64(66000) {
		t.Fatalf("Rows = %#v", result.Rows)
	}
}

func TestExecuteFetchesOneRowPastCap(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Replace(context.Background(), salaries(1, 2, 3, 4, 5)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	snapshot, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer snapshot.Release()

	result, err := NewEngine(snapshot).Execute(context.Background(), query.Request{
		SQL:    "SELECT \"ID\" FROM uploaded_table -- trailing comment",
		RowCap: 2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d, want cap+1", len(result.Rows))
	}
}

func TestExecuteClassifiesErrors(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Replace(context.Background(), dataset.Sample("")); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	snapshot, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer snapshot.Release()
	engine := NewEngine(snapshot)

	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT missing_column FROM uploaded_table"})
	if !failure.Is(err, failure.KindExecution) {
		t.Fatalf("Execute() error = %v, want execution error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)
	_, err = engine.Execute(ctx, query.Request{SQL: "SELECT COUNT(*) FROM range(1000000000) a, range(1000) b"})
	if !failure.Is(err, failure.KindQueryTimeout) {
		t.Fatalf("Execute() error = %v, want timeout", err)
	}
}

func TestSnapshotIsReadOnly(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Replace(context.Background(), dataset.Sample("")); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	snapshot, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer snapshot.Release()

	if _, err := snapshot.DB().Exec(`DELETE FROM uploaded_table`); err == nil {
		t.Fatal("expected read-only snapshot to reject writes")
	}
	if _, err := snapshot.DB().Exec(`SET enable_external_access = true`); err == nil {
		t.Fatal("expected locked configuration")
	}
}

func TestReplaceKeepsOldSnapshotForReaders(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Replace(context.Background(), salaries(1, 2))
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	reader, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if reader != first {
		t.Fatal("Acquire() should return the current snapshot")
	}

	second, err := store.Replace(context.Background(), salaries(1, 2, 3))
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if second.Version() == first.Version() {
		t.Fatal("expected a new version")
	}

	var count int64
	if err := reader.DB().QueryRow(`SELECT COUNT(*) FROM uploaded_table`).Scan(&count); err != nil {
		t.Fatalf("query old snapshot error = %v", err)
	}
	if count != 2 {
		t.Fatalf("old snapshot count = %d", count)
	}
	if _, err := os.Stat(first.path); err != nil {
		t.Fatalf("old snapshot file removed while in use: %v", err)
	}

	reader.Release()
	if _, err := os.Stat(first.path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("old snapshot file still present after last release: %v", err)
	}
	if store.Current().ID != second.Version() {
		t.Fatal("Current() should return the new dataset")
	}
}

func TestAcquireConcurrentWithReplace(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Replace(context.Background(), salaries(1)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				snapshot, err := store.Acquire()
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				var count int64
				if err := snapshot.DB().QueryRow(`SELECT COUNT(*) FROM uploaded_table`).Scan(&count); err != nil {
					t.Errorf("query error = %v", err)
				}
				if count < 1 {
					t.Errorf("count = %d", count)
				}
				snapshot.Release()
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Replace(context.Background(), salaries(1, 2, 3)); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
	}
	wg.Wait()
}

func TestAcquireWithoutDataset(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Acquire(); !failure.Is(err, failure.KindNoDataset) {
		t.Fatalf("Acquire() error = %v, want no dataset", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := store.Replace(context.Background(), dataset.Sample("")); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("Replace() after close error = %v", err)
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := stripTrailingSemicolons(" SELECT 1 ; ; "); got != "SELECT 1" {
		t.Fatalf("stripTrailingSemicolons() = %q", got)
	}
}
