package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

// column is one row of a table description.
type column struct {
	Name     string
	Type     string
	Nullable bool
	Default  sql.NullString
}

type target struct {
	dialect Dialect
	driver  string
	dsn     string
	memory  bool
}

// parseURL maps a database URL onto a driver and DSN. SQLite and DuckDB
// follow the sqlite:///relative and sqlite:////absolute convention; an empty
// path means an in-memory database.
func parseURL(raw string) (target, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return target{}, fmt.Errorf("invalid database url %q: missing scheme", raw)
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch base {
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			return target{dialect: DialectSQLite, driver: "sqlite", dsn: ":memory:", memory: true}, nil
		}
		return target{dialect: DialectSQLite, driver: "sqlite", dsn: sqliteDSN(path)}, nil
	case "duckdb":
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			return target{dialect: DialectDuckDB, driver: "duckdb", dsn: "", memory: true}, nil
		}
		return target{dialect: DialectDuckDB, driver: "duckdb", dsn: path}, nil
	case "postgres", "postgresql":
		parsed, err := url.Parse("postgres://" + rest)
		if err != nil {
			return target{}, fmt.Errorf("invalid database url: %w", err)
		}
		return target{dialect: DialectPostgres, driver: "pgx", dsn: parsed.String()}, nil
	default:
		return target{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (d Dialect) listTablesQuery() string {
	switch d {
	case DialectSQLite:
		return `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	case DialectDuckDB:
		return `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`
	default:
		return `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`
	}
}

func (d Dialect) listTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, d.listTablesQuery())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return tables, nil
}

func (d Dialect) columns(ctx context.Context, conn *sql.Conn, table string) ([]column, error) {
	if d == DialectSQLite {
		return sqliteColumns(ctx, conn, table)
	}
	rows, err := conn.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]column, 0)
	for rows.Next() {
		var (
			item     column
			nullable string
		)
		if err := rows.Scan(&item.Name, &item.Type, &nullable, &item.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		item.Type = strings.ToUpper(item.Type)
		item.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// sqliteColumns reads PRAGMA table_info. Primary-key columns are reported as
// NOT NULL even when SQLite itself would accept a NULL rowid alias.
func sqliteColumns(ctx context.Context, conn *sql.Conn, table string) ([]column, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA table_info(`+quoteIdent(table)+`)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]column, 0)
	for rows.Next() {
		var (
			cid     int
			item    column
			notNull int
			pk      int
		)
		if err := rows.Scan(&cid, &item.Name, &item.Type, &notNull, &item.Default, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		item.Type = strings.ToUpper(strings.TrimSpace(item.Type))
		if item.Type == "" {
			item.Type = "UNKNOWN"
		}
		item.Nullable = notNull == 0 && pk == 0
		columns = append(columns, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
