package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/env"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInstanceNotFound = errors.New("instance not found")
)

var (
	configOnce      sync.Once
	configErr       error
	datastoreDriver string
	datastoreDSN    string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error
)

func loadConfig() error {
	configOnce.Do(func() {
		dbType, err := env.GetEnvString("DATASTORE_TYPE")
		if err != nil {
			configErr = fmt.Errorf("error parsing DATASTORE_TYPE: %w", err)
			return
		}

		dbURI, err := env.GetEnvString("DATASTORE_URI")
		if err != nil {
			configErr = fmt.Errorf("error parsing DATASTORE_URI: %w", err)
			return
		}

		datastoreDriver = normalizeDriver(dbType)
		datastoreDSN = normalizeDSN(datastoreDriver, dbURI)
	})
	return configErr
}

// Driver returns the normalized database/sql driver name. The whatsmeow
// sqlstore shares the same driver and DSN so session blobs live next to the
// credential tables.
func Driver() (string, error) {
	if err := loadConfig(); err != nil {
		return "", err
	}
	return datastoreDriver, nil
}

// DSN returns the normalized connection string.
func DSN() (string, error) {
	if err := loadConfig(); err != nil {
		return "", err
	}
	return datastoreDSN, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

func normalizeDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// openDB opens the shared connection pool and applies schema migrations once
// per process.
func openDB() (*sql.DB, error) {
	dbOnce.Do(func() {
		if err := loadConfig(); err != nil {
			dbErr = err
			return
		}
		if datastoreDriver != "pgx" {
			dbErr = fmt.Errorf("unsupported datastore driver: %s", datastoreDriver)
			return
		}
		conn, err := sql.Open(datastoreDriver, datastoreDSN)
		if err != nil {
			dbErr = err
			return
		}
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(10 * time.Minute)
		conn.SetConnMaxIdleTime(3 * time.Minute)
		if err = conn.Ping(); err != nil {
			dbErr = err
			return
		}
		if err = migrate(conn); err != nil {
			dbErr = err
			return
		}
		db = conn
	})
	return db, dbErr
}

// Ping verifies the datastore is reachable.
func Ping(ctx context.Context) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

func migrate(conn *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			first_name VARCHAR(255) NOT NULL,
			last_name VARCHAR(255) NOT NULL,
			whatsapp_number VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			instance_id TEXT PRIMARY KEY,
			user_id INT UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			access_token TEXT UNIQUE NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_user ON instances(user_id)`,
		`CREATE TABLE IF NOT EXISTS instance_routing (
			instance_id TEXT PRIMARY KEY,
			store_jid TEXT,
			is_active BOOLEAN DEFAULT FALSE,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, statement := range statements {
		if _, err := conn.Exec(statement); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
