package database

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

func TestDialectSQLite(t *testing.T) {
	dialect := NewSQLiteDialect()

	t.Run("DriverName", func(t *testing.T) {
		result := dialect.DriverName()
		expected := "sqlite3"
		if result != expected {
			t.Errorf("DriverName() = %v, want %v", result, expected)
		}
	})

	t.Run("SupportsLastInsertId", func(t *testing.T) {
		result := dialect.SupportsLastInsertId()
		if !result {
			t.Error("SupportsLastInsertId() should return true for SQLite")
		}
	})

	t.Run("MigrationsSubdir", func(t *testing.T) {
		result := dialect.MigrationsSubdir()
		expected := "sqlite"
		if result != expected {
			t.Errorf("MigrationsSubdir() = %v, want %v", result, expected)
		}
	})
}

func TestDialectPostgreSQL(t *testing.T) {
	dialect := NewPostgresDialect()

	t.Run("DriverName", func(t *testing.T) {
		result := dialect.DriverName()
		expected := "postgres"
		if result != expected {
			t.Errorf("DriverName() = %v, want %v", result, expected)
		}
	})

	t.Run("SupportsLastInsertId", func(t *testing.T) {
		result := dialect.SupportsLastInsertId()
		if result {
			t.Error("SupportsLastInsertId() should return false for PostgreSQL")
		}
	})

	t.Run("MigrationsSubdir", func(t *testing.T) {
		result := dialect.MigrationsSubdir()
		expected := "postgres"
		if result != expected {
			t.Errorf("MigrationsSubdir() = %v, want %v", result, expected)
		}
	})
}

func TestDialectMySQL(t *testing.T) {
	dialect := NewMySQLDialect()

	t.Run("DriverName", func(t *testing.T) {
		result := dialect.DriverName()
		expected := "mysql"
		if result != expected {
			t.Errorf("DriverName() = %v, want %v", result, expected)
		}
	})

	t.Run("SupportsLastInsertId", func(t *testing.T) {
		result := dialect.SupportsLastInsertId()
		if !result {
			t.Error("SupportsLastInsertId() should return true for MySQL")
		}
	})

	t.Run("MigrationsSubdir", func(t *testing.T) {
		result := dialect.MigrationsSubdir()
		expected := "mysql"
		if result != expected {
			t.Errorf("MigrationsSubdir() = %v, want %v", result, expected)
		}
	})
}

func TestDialectDSN(t *testing.T) {
	t.Run("SQLite appends pragmas", func(t *testing.T) {
		dsn, err := NewSQLiteDialect().DSN(DialectConfig{Path: "/tmp/carelog.db"})
		if err != nil {
			t.Fatalf("DSN() error = %v", err)
		}
		if !strings.HasPrefix(dsn, "/tmp/carelog.db?") || !strings.Contains(dsn, "_foreign_keys=on") {
			t.Errorf("DSN() = %v, want path with foreign key pragma", dsn)
		}
	})

	t.Run("SQLite requires path", func(t *testing.T) {
		if _, err := NewSQLiteDialect().DSN(DialectConfig{}); err == nil {
			t.Error("DSN() should fail without a path")
		}
	})

	t.Run("MySQL forces parseTime", func(t *testing.T) {
		dsn, err := NewMySQLDialect().DSN(DialectConfig{URL: "user:pass@tcp(localhost:3306)/carelog"})
		if err != nil {
			t.Fatalf("DSN() error = %v", err)
		}
		if !strings.Contains(dsn, "parseTime=true") {
			t.Errorf("DSN() = %v, want parseTime=true", dsn)
		}
	})

	t.Run("Postgres requires URL", func(t *testing.T) {
		if _, err := NewPostgresDialect().DSN(DialectConfig{}); err == nil {
			t.Error("DSN() should fail without a URL")
		}
	})
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
		want    bool
	}{
		{"SQLite unique", NewSQLiteDialect(), sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"SQLite not null", NewSQLiteDialect(), sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"Postgres unique", NewPostgresDialect(), fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"Postgres fk", NewPostgresDialect(), &pq.Error{Code: "23503"}, false},
		{"MySQL duplicate", NewMySQLDialect(), &mysql.MySQLError{Number: 1062}, true},
		{"plain error", NewMySQLDialect(), errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	content := `-- comment
CREATE TABLE a (
    id INTEGER
);

INSERT INTO a (id) VALUES
    (1),
    (2);
`
	stmts := splitStatements(content)
	if len(stmts) != 2 {
		t.Fatalf("splitStatements() returned %d statements, want 2: %q", len(stmts), stmts)
	}
	if strings.HasSuffix(stmts[0], ";") {
		t.Errorf("statement should not keep trailing semicolon: %q", stmts[0])
	}
	if !strings.HasPrefix(stmts[1], "INSERT INTO a") {
		t.Errorf("second statement = %q", stmts[1])
	}
}

func TestRewriteQuery(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		query    string
		expected string
	}{
		{
			name:     "SQLite no change",
			dialect:  NewSQLiteDialect(),
			query:    "SELECT * FROM users WHERE id = ?",
			expected: "SELECT * FROM users WHERE id = ?",
		},
		{
			name:     "PostgreSQL single placeholder",
			dialect:  NewPostgresDialect(),
			query:    "SELECT * FROM users WHERE id = ?",
			expected: "SELECT * FROM users WHERE id = $1",
		},
		{
			name:     "PostgreSQL multiple placeholders",
			dialect:  NewPostgresDialect(),
			query:    "INSERT INTO users (name, email) VALUES (?, ?)",
			expected: "INSERT INTO users (name, email) VALUES ($1, $2)",
		},
		{
			name:     "PostgreSQL quoted question mark",
			dialect:  NewPostgresDialect(),
			query:    "SELECT * FROM logs WHERE title = 'why?' AND child_id = ?",
			expected: "SELECT * FROM logs WHERE title = 'why?' AND child_id = $1",
		},
		{
			name:     "MySQL no change",
			dialect:  NewMySQLDialect(),
			query:    "UPDATE users SET name = ?, email = ? WHERE id = ?",
			expected: "UPDATE users SET name = ?, email = ? WHERE id = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.dialect.RewriteQuery(tt.query)
			if result != tt.expected {
				t.Errorf("RewriteQuery() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSelectDialect(t *testing.T) {
	tests := []struct {
		dbType string
		driver string
		path   string
		url    string
	}{
		{"", "sqlite3", "carelog.db", ""},
		{"SQLite", "sqlite3", "carelog.db", ""},
		{"postgresql", "postgres", "", "postgres://db/carelog"},
		{"mysql", "mysql", "", "postgres://db/carelog"},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			d, cfg, err := SelectDialect(tt.dbType, "carelog.db", "postgres://db/carelog")
			if err != nil {
				t.Fatalf("SelectDialect(%q) error = %v", tt.dbType, err)
			}
			if d.DriverName() != tt.driver {
				t.Errorf("DriverName() = %q, want %q", d.DriverName(), tt.driver)
			}
			if cfg.Path != tt.path || cfg.URL != tt.url {
				t.Errorf("config = %+v", cfg)
			}
		})
	}

	if _, _, err := SelectDialect("oracle", "", ""); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}
