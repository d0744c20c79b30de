package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaManager runs the partition DDL of provisioning. It works on
// explicitly qualified names and never depends on a session search_path.
type SchemaManager struct {
	pool   *pgxpool.Pool
	shared string
}

// NewSchemaManager creates a schema manager cloning from sharedSchema.
func NewSchemaManager(pool *pgxpool.Pool, sharedSchema string) *SchemaManager {
	return &SchemaManager{pool: pool, shared: sharedSchema}
}

// CreateSchema creates the partition. Re-running on an existing schema is a no-op.
func (m *SchemaManager) CreateSchema(ctx context.Context, schema string) error {
	if _, err := m.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

// SharedTables lists the base tables of the shared schema.
func (m *SchemaManager) SharedTables(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, m.shared)
	if err != nil {
		return nil, fmt.Errorf("list shared tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list shared tables: %w", err)
	}
	return tables, nil
}

// CloneTable copies the structure of a shared table (columns, defaults,
// constraints, indexes; no rows) into schema. An existing table is kept.
func (m *SchemaManager) CloneTable(ctx context.Context, schema, table string) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)`,
		pgx.Identifier{schema, table}.Sanitize(),
		pgx.Identifier{m.shared, table}.Sanitize())
	if _, err := m.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("clone %s.%s: %w", schema, table, err)
	}
	return nil
}
