// Package partition defines the port for tenant partition DDL.
package partition

import "context"

// Manager creates tenant partitions from the shared schema's structure.
// Every method is idempotent.
type Manager interface {
	CreateSchema(ctx context.Context, schema string) error
	// SharedTables lists the base tables of the shared schema, platform
	// tables included.
	SharedTables(ctx context.Context) ([]string, error)
	// CloneTable copies the structure of one shared table into schema.
	CloneTable(ctx context.Context, schema, table string) error
}
