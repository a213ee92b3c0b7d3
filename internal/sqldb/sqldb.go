package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/storage"
)

// Kind classifies a tool result so callers can tell soft errors apart
// without matching on text.
type Kind string

const (
	KindOK      Kind = "ok"
	KindInvalid Kind = "invalid"
	KindFailed  Kind = "failed"
)

// Result is what every adapter operation returns. Text is the tool-result
// string handed back to the model.
type Result struct {
	Kind Kind
	Text string
}

func resultOK(text string) Result { return Result{Kind: KindOK, Text: text} }
func resultInvalid(text string) Result { return Result{Kind: KindInvalid, Text: text} }
func resultFailed(text string) Result { return Result{Kind: KindFailed, Text: text} }

const defaultSampleRows = 3

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	SampleRows      int
	MaxResultRows   int
	Datasets        []Dataset
}

// DB is the database the agent's tools run against. Every operation takes
// its own connection from the pool and returns it before finishing.
type DB struct {
	db            *sql.DB
	dialect       Dialect
	sampleRows    int
	maxResultRows int
	workDir       string
}

// Open connects to cfg.URL and pings it. objects is only consulted when
// DuckDB datasets are configured.
func Open(ctx context.Context, cfg Config, objects storage.ObjectStore) (*DB, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	tgt, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if len(cfg.Datasets) > 0 && tgt.dialect != DialectDuckDB {
		return nil, fmt.Errorf("datasets require a duckdb database, got %s", tgt.dialect)
	}

	db, err := sql.Open(tgt.driver, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", tgt.dialect, err)
	}
	configurePool(db, cfg, tgt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	out := &DB{
		db:            db,
		dialect:       tgt.dialect,
		sampleRows:    cfg.SampleRows,
		maxResultRows: cfg.MaxResultRows,
	}
	if out.sampleRows <= 0 {
		out.sampleRows = defaultSampleRows
	}
	if len(cfg.Datasets) > 0 {
		workDir, err := mountDatasets(ctx, db, objects, cfg.Datasets)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		out.workDir = workDir
	}
	return out, nil
}

// configurePool applies pool limits. In-memory SQLite lives and dies with a
// single connection, so that pool is pinned to one connection that never
// expires.
func configurePool(db *sql.DB, cfg Config, tgt target) {
	if tgt.memory && tgt.dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s database: %w", d.dialect, err)
	}
	return nil
}

func (d *DB) Close() error {
	err := d.db.Close()
	if d.workDir != "" {
		_ = os.RemoveAll(d.workDir)
	}
	return err
}

// ListTables returns the comma-joined table names.
func (d *DB) ListTables(ctx context.Context) Result {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error retrieving table list: %v", err))
	}
	defer func() { _ = conn.Close() }()

	tables, err := d.dialect.listTables(ctx, conn)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error retrieving table list: %v", err))
	}
	if len(tables) == 0 {
		return resultOK("No tables found in the database.")
	}
	return resultOK(strings.Join(tables, ", "))
}

// Schema describes each comma-separated table with its columns and a few
// sample rows. Unknown tables are reported per table.
func (d *DB) Schema(ctx context.Context, tables string) Result {
	requested := splitTables(tables)
	if len(requested) == 0 {
		return resultInvalid("No tables specified.")
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error retrieving schema information: %v", err))
	}
	defer func() { _ = conn.Close() }()

	existing, err := d.dialect.listTables(ctx, conn)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error retrieving schema information: %v", err))
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}

	parts := make([]string, 0, len(requested))
	found := 0
	for _, table := range requested {
		if !known[table] {
			parts = append(parts, fmt.Sprintf("Table '%s' does not exist.", table))
			continue
		}
		found++
		part, err := d.describeTable(ctx, conn, table)
		if err != nil {
			return resultFailed(fmt.Sprintf("Error retrieving schema information: %v", err))
		}
		parts = append(parts, part)
	}

	text := strings.Join(parts, "\n\n")
	if found == 0 {
		return resultInvalid(text)
	}
	return resultOK(text)
}

func (d *DB) describeTable(ctx context.Context, conn *sql.Conn, table string) (string, error) {
	columns, err := d.dialect.columns(ctx, conn, table)
	if err != nil {
		return "", fmt.Errorf("describe table %q: %w", table, err)
	}

	lines := []string{"\nTable: " + table, "Columns:"}
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		nullable := "NOT NULL"
		if col.Nullable {
			nullable = "NULL"
		}
		def := ""
		if col.Default.Valid {
			def = " DEFAULT " + col.Default.String
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s %s%s", col.Name, col.Type, nullable, def))
		names = append(names, col.Name)
	}

	lines = append(lines, d.sampleRowsBlock(ctx, conn, table, names))
	return strings.Join(lines, "\n"), nil
}

func (d *DB) sampleRowsBlock(ctx context.Context, conn *sql.Conn, table string, names []string) string {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), d.sampleRows))
	if err != nil {
		return fmt.Sprintf("\nError retrieving sample rows: %v", err)
	}
	defer func() { _ = rows.Close() }()

	_, values, _, err := scanRows(rows, 0)
	if err != nil {
		return fmt.Sprintf("\nError retrieving sample rows: %v", err)
	}
	if len(values) == 0 {
		return "\nNo sample rows available (table is empty)."
	}
	return "\nSample rows:\n" + renderTable(names, values)
}

// CheckQuery validates a query lexically without executing it.
func (d *DB) CheckQuery(_ context.Context, query string) Result {
	return checkQuery(query)
}

func checkQuery(query string) Result {
	if strings.TrimSpace(query) == "" {
		return resultInvalid("Error: Empty query provided.")
	}
	stmt, err := analyze(query)
	if err != nil {
		return resultInvalid(fmt.Sprintf("Error: Unable to parse the SQL query: %v.", err))
	}
	if stmt.keyword == "" {
		return resultInvalid("Error: Unable to determine query type - invalid SQL syntax.")
	}
	return resultOK("✓ Query syntax is valid.")
}

// Query executes one statement. Known mutating and DDL statements run through
// Exec and report the affected row count. Everything else runs as a query and
// renders as a pipe table when the driver reports columns.
func (d *DB) Query(ctx context.Context, query string) Result {
	if strings.TrimSpace(query) == "" {
		return resultInvalid("Error executing query: empty query")
	}
	stmt, err := analyze(query)
	if err != nil {
		return resultInvalid(fmt.Sprintf("Error executing query: %v", err))
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error executing query: %v", err))
	}
	defer func() { _ = conn.Close() }()

	if !stmt.returnsRows() {
		result, err := conn.ExecContext(ctx, query)
		if err != nil {
			return resultFailed(fmt.Sprintf("Error executing query: %v", err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			affected = -1
		}
		return resultOK(fmt.Sprintf("Query executed successfully. %d row(s) affected.", affected))
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error executing query: %v", err))
	}
	defer func() { _ = rows.Close() }()

	columns, values, truncated, err := scanRows(rows, d.maxResultRows)
	if err != nil {
		return resultFailed(fmt.Sprintf("Error executing query: %v", err))
	}
	// Statements run as queries but without a result set have no row count.
	if len(columns) == 0 {
		return resultOK("Query executed successfully. -1 row(s) affected.")
	}
	if len(values) == 0 {
		return resultOK("No rows returned.")
	}
	text := renderTable(columns, values)
	if truncated {
		text += fmt.Sprintf("\n... (showing first %d rows)", d.maxResultRows)
	}
	return resultOK(text)
}

func splitTables(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
