//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package database provides PostgreSQL connectivity and pgvector search.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
)

// Pool wraps a pgxpool connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a new database connection pool and verifies it with a
// ping.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s@%s:%d: %w",
			cfg.Database, cfg.Host, cfg.Port, err)
	}

	return &Pool{pool: pool}, nil
}

// buildConnectionString constructs a keyword/value connection string.
func buildConnectionString(cfg config.DatabaseConfig) string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}

	add("host", cfg.Host)
	if cfg.Port != 0 {
		add("port", strconv.Itoa(cfg.Port))
	}
	add("dbname", cfg.Database)

	// Username: config > PGUSER > USER
	username := cfg.Username
	if username == "" {
		username = os.Getenv("PGUSER")
	}
	if username == "" {
		username = os.Getenv("USER")
	}
	add("user", username)

	add("password", cfg.Password)
	add("sslmode", cfg.SSLMode)
	add("sslcert", cfg.SSLCert)
	add("sslkey", cfg.SSLKey)
	add("sslrootcert", cfg.SSLRootCA)
	add("application_name", "pgedge-chat-server")

	return strings.Join(parts, " ")
}

// quoteConnValue quotes a value for a keyword/value connection string
// when it contains spaces, quotes or backslashes.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Ping verifies the database connection.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
