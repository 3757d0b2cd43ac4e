package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// NewPostgresCVRStore creates a CVR store backed by PostgreSQL
func NewPostgresCVRStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	connMaxLifetime time.Duration,
	opts Options,
	logger *zap.Logger,
) (*SQLCVRStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if connMaxLifetime > 0 {
		config.MaxConnLifetime = connMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewSQLCVRStore(stdlib.OpenDBFromPool(pool), PostgresDialect, opts, logger)
	s.onClose = append(s.onClose, pool.Close)
	return s, nil
}
