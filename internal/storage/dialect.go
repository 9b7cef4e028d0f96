package storage

import (
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	driverName string
	schema     string // file under migrations/
	// dollar placeholders ($1, $2, ...) instead of '?'
	dollar bool
	// insert returns the id via RETURNING instead of LastInsertId
	returning  bool
	upsertUser string
}

var dialectSQLite = dialect{
	name:       "sqlite",
	driverName: "sqlite",
	schema:     "migrations/sqlite.sql",
	upsertUser: `INSERT INTO users(external_id, username, first_name, last_name, language_code, active, blocked, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(external_id) DO UPDATE SET
			username=excluded.username,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			language_code=excluded.language_code,
			updated_at=excluded.updated_at`,
}

var dialectMySQL = dialect{
	name:       "mysql",
	driverName: "mysql",
	schema:     "migrations/mysql.sql",
	upsertUser: `INSERT INTO users(external_id, username, first_name, last_name, language_code, active, blocked, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			username=VALUES(username),
			first_name=VALUES(first_name),
			last_name=VALUES(last_name),
			language_code=VALUES(language_code),
			updated_at=VALUES(updated_at)`,
}

var dialectPostgres = dialect{
	name:       "postgres",
	driverName: "pgx",
	schema:     "migrations/postgres.sql",
	dollar:     true,
	returning:  true,
	upsertUser: dialectSQLite.upsertUser,
}

// rebind rewrites '?' placeholders for dialects that need numbered ones.
// Queries in this package never contain literal question marks.
func (d dialect) rebind(q string) string {
	if !d.dollar || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
