package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
)

var ErrStoreClosed = errors.New("store is closed")

// Store keeps the current dataset of one session as an immutable DuckDB file.
// Replace builds a new file next to the old one and swaps the pointer, so a
// reader either sees the previous complete snapshot or the new one.
type Store struct {
	dir     string
	ownsDir bool

	mu      sync.Mutex
	closed  bool
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store under root/name. An empty root uses the system
// temp directory.
func NewStore(root, name string) (*Store, error) {
	if root == "" {
		root = os.TempDir()
	}
	name = sanitizeFileComponent(name)
	dir := filepath.Join(root, "querypilot-"+name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir %q: %w", dir, err)
	}
	return &Store{dir: dir, ownsDir: true}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Replace(ctx context.Context, ds *dataset.Dataset) (*Snapshot, error) {
	if ds == nil || len(ds.Columns) == 0 {
		return nil, failure.New(failure.KindIngestion, "dataset has no columns")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	path := filepath.Join(s.dir, sanitizeFileComponent(ds.ID)+".duckdb")
	if err := build(ctx, path, ds); err != nil {
		removeDatabaseFiles(path)
		return nil, err
	}
	db, err := openReadOnly(path)
	if err != nil {
		removeDatabaseFiles(path)
		return nil, err
	}

	next := &Snapshot{dataset: ds, db: db, path: path}
	next.refs.Store(1)
	previous := s.current.Swap(next)
	if previous != nil {
		previous.Release()
	}
	return next, nil
}

// Acquire returns the current snapshot with a reference the caller must
// Release.
func (s *Store) Acquire() (*Snapshot, error) {
	for {
		snapshot := s.current.Load()
		if snapshot == nil {
			return nil, failure.New(failure.KindNoDataset, "no dataset is loaded")
		}
		if snapshot.retain() {
			return snapshot, nil
		}
	}
}

func (s *Store) Current() *dataset.Dataset {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil
	}
	return snapshot.dataset
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if previous := s.current.Swap(nil); previous != nil {
		previous.Release()
	}
	if s.ownsDir {
		return os.RemoveAll(s.dir)
	}
	return nil
}

type Snapshot struct {
	dataset *dataset.Dataset
	db      *sql.DB
	path    string
	refs    atomic.Int64
	once    sync.Once
}

func (s *Snapshot) Dataset() *dataset.Dataset {
	return s.dataset
}

func (s *Snapshot) Version() string {
	return s.dataset.ID
}

func (s *Snapshot) DB() *sql.DB {
	return s.db
}

func (s *Snapshot) retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The last release closes and deletes the file.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) > 0 {
		return
	}
	s.once.Do(func() {
		_ = s.db.Close()
		removeDatabaseFiles(s.path)
	})
}

func build(ctx context.Context, path string, ds *dataset.Dataset) error {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return fmt.Errorf("open duckdb writer: %w", err)
	}
	defer func() { _ = connector.Close() }()

	db := sql.OpenDB(connector)
	defer func() { _ = db.Close() }()
	if _, err := db.ExecContext(ctx, createTableSQL(ds)); err != nil {
		return fmt.Errorf("create table %q: %w", ds.TableName, err)
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect duckdb writer: %w", err)
	}
	defer func() { _ = conn.Close() }()

	appender, err := duckdb.NewAppenderFromConn(conn, "", ds.TableName)
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	for i, row := range ds.Rows {
		values := make([]driver.Value, len(ds.Columns))
		for col := range ds.Columns {
			if col < len(row) {
				values[col] = row[col]
			}
		}
		if err := appender.AppendRow(values...); err != nil {
			_ = appender.Close()
			return fmt.Errorf("append row %d: %w", i+1, err)
		}
	}
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}
	return nil
}

func openReadOnly(path string) (*sql.DB, error) {
	dsn := path + "?access_mode=READ_ONLY&enable_external_access=false&lock_configuration=true"
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb snapshot: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb snapshot: %w", err)
	}
	return db, nil
}

func createTableSQL(ds *dataset.Dataset) string {
	columns := make([]string, 0, len(ds.Columns))
	for _, column := range ds.Columns {
		columns = append(columns, quoteIdent(column.Name)+" "+sqlType(column.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(ds.TableName), strings.Join(columns, ", "))
}

func sqlType(typ dataset.SemanticType) string {
	switch typ {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeDatetime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func removeDatabaseFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + ".wal")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "default"
	}
	return value
}
