package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// NewSQLiteCVRStore creates a CVR store backed by a SQLite database file.
// SQLite allows a single writer, so the store uses a single connection and
// write transactions take the database lock when they begin.
func NewSQLiteCVRStore(path string, opts Options, logger *zap.Logger) (*SQLCVRStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return NewSQLCVRStore(db, SQLiteDialect, opts, logger), nil
}
