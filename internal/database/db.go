// Package database persists batch run history in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/timkrebs/image-shrink/internal/metrics"
)

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
	metrics   *metrics.DatabaseMetrics
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new database connection
func New(databaseURL string, maxConns int) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, done: make(chan struct{})}, nil
}

// SetMetrics injects metrics collectors and starts sampling the pool size
// until Close.
func (db *DB) SetMetrics(m *metrics.DatabaseMetrics) {
	db.metrics = m
	if m == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-db.done:
				return
			case <-ticker.C:
				m.ConnectionsActive.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

func (db *DB) observe(operation string, start time.Time, err error) {
	if db.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	db.metrics.QueriesTotal.WithLabelValues(operation, status).Inc()
	db.metrics.QueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// Close closes the database connection
func (db *DB) Close() error {
	db.closeOnce.Do(func() { close(db.done) })
	return db.DB.Close()
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
