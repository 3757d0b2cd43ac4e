package store

import (
	"database/sql"
	"fmt"
)

// Dialect captures the differences between the SQL backends of the CVR store
type Dialect struct {
	Name string
	// Collation applied to version and key columns so that string comparison
	// is bytewise
	Collation string
	// LockSuffix is appended to the version re-read inside a flush
	LockSuffix string
	// ReadTxOptions are used by Load
	ReadTxOptions *sql.TxOptions
}

var (
	// PostgresDialect is used with the pgx stdlib driver
	PostgresDialect = Dialect{
		Name:          "postgres",
		Collation:     `COLLATE "C"`,
		LockSuffix:    " FOR UPDATE",
		ReadTxOptions: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	}

	// SQLiteDialect is used with modernc.org/sqlite. SQLite's default
	// collation is already bytewise and a write transaction locks the database.
	SQLiteDialect = Dialect{
		Name: "sqlite",
	}
)

// Schema returns the DDL statements creating the CVR tables
func (d Dialect) Schema() []string {
	c := d.Collation
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cvr_instances (
			client_group_id TEXT PRIMARY KEY,
			version TEXT %[1]s NOT NULL,
			last_active BIGINT NOT NULL,
			replica_version TEXT %[1]s
		)`, c),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cvr_clients (
			client_group_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			patch_version TEXT %[1]s NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (client_group_id, client_id)
		)`, c),
		`CREATE INDEX IF NOT EXISTS cvr_clients_patch_version
			ON cvr_clients (client_group_id, patch_version)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cvr_queries (
			client_group_id TEXT NOT NULL,
			query_hash TEXT NOT NULL,
			client_ast TEXT NOT NULL,
			transformation_hash TEXT,
			transformation_version TEXT %[1]s,
			patch_version TEXT %[1]s,
			internal BOOLEAN NOT NULL DEFAULT FALSE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (client_group_id, query_hash)
		)`, c),
		`CREATE INDEX IF NOT EXISTS cvr_queries_patch_version
			ON cvr_queries (client_group_id, patch_version)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cvr_desires (
			client_group_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			query_hash TEXT NOT NULL,
			patch_version TEXT %[1]s NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (client_group_id, client_id, query_hash)
		)`, c),
		`CREATE INDEX IF NOT EXISTS cvr_desires_patch_version
			ON cvr_desires (client_group_id, patch_version)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cvr_rows (
			client_group_id TEXT NOT NULL,
			schema_name TEXT %[1]s NOT NULL,
			table_name TEXT %[1]s NOT NULL,
			row_key TEXT %[1]s NOT NULL,
			row_version TEXT NOT NULL,
			patch_version TEXT %[1]s NOT NULL,
			ref_counts TEXT,
			PRIMARY KEY (client_group_id, schema_name, table_name, row_key)
		)`, c),
		`CREATE INDEX IF NOT EXISTS cvr_rows_patch_version
			ON cvr_rows (client_group_id, patch_version, schema_name, table_name, row_key)`,
	}
}
