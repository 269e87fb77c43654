package federation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// The local accelerator is an in-process sqlite database with the engine's
// vector functions registered on every connection.
const acceleratorDriver = "spiced_sqlite"

var registerAcceleratorDriver sync.Once

// NewAccelerator opens a local sqlite-backed accelerator at path (":memory:"
// for a purely in-memory store).
func NewAccelerator(path string) (*Accelerator, error) {
	registerAcceleratorDriver.Do(func() {
		sql.Register(acceleratorDriver, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("cosine_distance", cosineDistanceText, true)
			},
		})
	})

	db, err := sql.Open(acceleratorDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accelerator at %s: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids table-lock
	// contention for the in-memory case.
	db.SetMaxOpenConns(1)

	return &Accelerator{db: db}, nil
}

// cosineDistanceText is the accelerator's cosine_distance scalar: both
// arguments are bracketed vector literals.
func cosineDistanceText(a, b string) (float64, error) {
	va, err := ParseVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVector(b)
	if err != nil {
		return 0, err
	}
	return CosineDistance(va, vb)
}

// Accelerator is a local sqlite store usable as a federated source.
type Accelerator struct {
	db *sql.DB
}

// DB exposes the underlying handle for loading data.
func (a *Accelerator) DB() *sql.DB { return a.db }

// Close releases the store.
func (a *Accelerator) Close() error { return a.db.Close() }

// Source wraps the accelerator as a federated source with the sqlite dialect.
func (a *Accelerator) Source(id, computeContext string) *Source {
	return NewSource(id, SQLite(), computeContext, &SQLExecutor{DB: a.db}, &sqliteSchemaResolver{db: a.db})
}

type sqliteSchemaResolver struct {
	db *sql.DB
}

func (r *sqliteSchemaResolver) GetTableSchema(ctx context.Context, ref TableRef) (*Schema, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", ref.Name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Type: sqliteType(colType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %q not found", ref.Name)
	}
	return &Schema{Fields: fields}, nil
}

func (r *sqliteSchemaResolver) TableNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func sqliteType(colType string) DataType {
	switch strings.ToUpper(colType) {
	case "INTEGER", "INT", "BIGINT":
		return TypeInt64
	case "REAL", "FLOAT", "DOUBLE":
		return TypeFloat64
	case "BOOLEAN":
		return TypeBool
	case "VECTOR":
		return TypeFloat32List
	default:
		return TypeUtf8
	}
}
