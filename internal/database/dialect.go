package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect hides what differs between SQLite, PostgreSQL and MySQL. Repositories
// write `?` placeholders and portable SQL; everything else goes through here.
type Dialect interface {
	DriverName() string
	DSN(config DialectConfig) (string, error)
	ConfigureConnection(db *sql.DB) error

	// RewriteQuery adapts `?` placeholders to the driver's syntax.
	RewriteQuery(query string) string
	SupportsLastInsertId() bool
	IsUniqueViolation(err error) bool

	// MigrationsSubdir names the embedded migrations directory for this dialect.
	MigrationsSubdir() string
	CreateMigrationsTableQuery() string
	UpsertSettingQuery() string
}

// DialectConfig locates the store: Path for SQLite, URL for the servers.
type DialectConfig struct {
	Path string
	URL  string
}

// SelectDialect maps a DB_TYPE value to its dialect. An empty type means SQLite.
func SelectDialect(dbType, path, url string) (Dialect, DialectConfig, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "sqlite", "sqlite3", "":
		return NewSQLiteDialect(), DialectConfig{Path: path}, nil
	case "postgres", "postgresql":
		return NewPostgresDialect(), DialectConfig{URL: url}, nil
	case "mysql":
		return NewMySQLDialect(), DialectConfig{URL: url}, nil
	}
	return nil, DialectConfig{}, fmt.Errorf("unsupported database type: %s", dbType)
}

// rewritePlaceholdersToNumbered turns each `?` into $1, $2, ... in order. Question
// marks inside single-quoted literals are left alone.
func rewritePlaceholdersToNumbered(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n, quoted := 0, false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SQLite and PostgreSQL share ON CONFLICT upserts.
const upsertSettingOnConflict = `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = CURRENT_TIMESTAMP`
