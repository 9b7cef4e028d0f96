// Package storage persists users, relayed messages and broadcasts.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite (default, no cgo)
//   - "mysql": github.com/go-sql-driver/mysql
//   - "postgres": github.com/jackc/pgx/v5 (database/sql stdlib driver)
//
// All drivers share one SQL implementation; dialect differences are limited
// to placeholders, upsert syntax and id retrieval. Timestamps are stored as
// unix milliseconds.
package storage
