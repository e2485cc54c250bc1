// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DriverForURL picks the SQL driver from the configured database URL. Remote
// libsql/turso URLs use the libsql driver, anything else is treated as a
// local sqlite file path.
func DriverForURL(databaseURL string) (driverName, dataSourceName string) {
	if strings.HasPrefix(databaseURL, "libsql://") ||
		strings.HasPrefix(databaseURL, "wss://") ||
		strings.HasPrefix(databaseURL, "https://") {
		return "libsql", databaseURL
	}
	return "sqlite3", databaseURL
}

// WithAuthToken appends an auth token query parameter for remote libsql URLs.
func WithAuthToken(dataSourceName, authToken string) string {
	if authToken == "" {
		return dataSourceName
	}
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	return dataSourceName + sep + "authToken=" + url.QueryEscape(authToken)
}

// NewConnection establishes a new database connection for the specified driver.
func NewConnection(driverName, dataSourceName string, pool PoolConfig) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{db}, nil
}

// NewConnectionWithLogger establishes a new database connection for the specified driver with logging.
func NewConnectionWithLogger(driverName, dataSourceName string, pool PoolConfig, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	logger.Storage().Debug("Creating new database connection", "driverName", driverName)

	db, err := NewConnection(driverName, dataSourceName, pool)
	if err != nil {
		logger.Storage().Error("Failed to open database connection", "error", err.Error(), "driverName", driverName)
		return nil, err
	}

	logger.Storage().Info("Database connection established", "driverName", driverName, "duration", time.Since(start))
	return db, nil
}
