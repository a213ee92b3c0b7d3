//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckmesh/sqlagent/internal/conversation"
	"github.com/duckmesh/sqlagent/internal/migrations"
)

func TestStoreRoundTripAgainstPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("SQLAGENT_TEST_POSTGRES_DSN"))
	if adminDSN == "" {
		t.Skip("SQLAGENT_TEST_POSTGRES_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	db, err := Open(ctx, DBConfig{DSN: testDSN})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}

	store := NewStore(db)
	first, err := store.GetOrCreate(ctx, "thread-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("GetOrCreate() = %+v, want empty", first)
	}

	transcript := []conversation.Message{
		conversation.SystemMessage("sys"),
		conversation.UserMessage("how many orders?"),
		conversation.AssistantToolCalls([]conversation.ToolCall{{
			ID:       "call-1",
			Type:     conversation.ToolCallTypeFunction,
			Function: conversation.FunctionCall{Name: "sql_db_query", Arguments: `{"query":"SELECT COUNT(*) FROM orders"}`},
		}}),
		conversation.ToolResult("call-1", "count\n-----\n3"),
		conversation.AssistantMessage("There are 3 orders."),
	}
	if err := store.Replace(ctx, "thread-a", transcript); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	loaded, err := store.GetOrCreate(ctx, "thread-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(loaded) != len(transcript) {
		t.Fatalf("len(loaded) = %d, want %d", len(loaded), len(transcript))
	}
	if loaded[2].ToolCalls[0].Function.Arguments != transcript[2].ToolCalls[0].Function.Arguments {
		t.Fatalf("tool call arguments = %q", loaded[2].ToolCalls[0].Function.Arguments)
	}

	evicted, err := store.EvictIdle(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("EvictIdle() error = %v", err)
	}
	if evicted != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", evicted)
	}
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("sqlagent_it_threads_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testURL.String(), cleanup
}
