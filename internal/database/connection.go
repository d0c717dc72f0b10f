package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/config"
)

// PostgresDB wraps the sqlx handle shared by all repositories
type PostgresDB struct {
	*sqlx.DB
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewConnection creates a new database connection on the pgx stdlib driver
func NewConnection(cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	connectionURL := cfg.URL

	// Transaction-mode poolers (PgBouncer/Supavisor on 6543) cannot hold prepared statements
	usingPooler := strings.Contains(connectionURL, ":6543") || strings.Contains(connectionURL, "pgbouncer=true")

	pgxConfig, err := pgx.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if usingPooler {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	logger.WithFields(logrus.Fields{
		"url":             maskPassword(connectionURL),
		"simple_protocol": usingPooler,
	}).Info("Connecting to database")

	connStr := stdlib.RegisterConnConfig(pgxConfig)

	db, err := sqlx.Connect("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// Health pings the database within ctx
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation,
// optionally restricted to one constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
