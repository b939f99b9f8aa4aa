// Package replaycache persists which handshake cookies have already been
// consumed by a successful Connect, so a restarted server still rejects a
// captured-and-replayed ClientConnectRequest. It is the one piece of
// state naia's connection layer keeps across process restarts — never
// world state, which the engine never persists.
//
// Migration design follows the same discipline as the rest of the
// codebase's sqlite-backed stores: statements live in the ordered
// [migrations] slice and are applied exactly once, tracked in a
// schema_migrations table. Append new entries; never edit or reorder
// existing ones.
package replaycache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — claimed handshake cookies
	`CREATE TABLE IF NOT EXISTS claimed_cookies (
		cookie      BLOB PRIMARY KEY,
		claimed_at  INTEGER NOT NULL
	)`,
	// v2 — index for expiry sweeps
	`CREATE INDEX IF NOT EXISTS idx_claimed_cookies_claimed_at ON claimed_cookies(claimed_at)`,
	// v3 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Cache is a sqlite-backed replay cache for handshake cookies.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// New opens (or creates) the sqlite database at path and applies pending
// migrations. Use ":memory:" for ephemeral storage in tests. ttl bounds
// how long a claimed cookie is retained — it should be at least the
// handshake cookie's own TTL so a legitimately expired-but-unclaimed
// cookie never needs to be looked up again.
func New(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replaycache: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	c := &Cache{db: db, ttl: ttl}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("replaycache: migrate: %w", err)
	}
	return c, nil
}

// Close releases the database connection.
func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := c.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := c.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("replaycache: applied migration", "version", v)
	}
	return nil
}

// Claim records cookie as used if it hasn't been seen before, returning
// false if it was already claimed (a replay). Implements
// handshake.ReplayCache.
func (c *Cache) Claim(cookie []byte, now time.Time) (bool, error) {
	res, err := c.db.Exec(
		`INSERT INTO claimed_cookies(cookie, claimed_at) VALUES(?, ?)
		 ON CONFLICT(cookie) DO NOTHING`,
		cookie, now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("replaycache: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replaycache: claim rows affected: %w", err)
	}
	return n > 0, nil
}

// Sweep deletes claimed-cookie records older than the cache's ttl,
// bounding table growth. Intended to run periodically alongside the
// server's other maintenance loops.
func (c *Cache) Sweep(now time.Time) (int64, error) {
	cutoff := now.Add(-c.ttl).Unix()
	res, err := c.db.Exec(`DELETE FROM claimed_cookies WHERE claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("replaycache: sweep: %w", err)
	}
	return res.RowsAffected()
}
