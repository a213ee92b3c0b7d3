package sqldb

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/sqlagent/internal/storage"
)

type eventRow struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

func TestParseDatasets(t *testing.T) {
	datasets, err := ParseDatasets(" events = data/a.parquet | data/b.parquet , users=u.parquet ")
	if err != nil {
		t.Fatalf("ParseDatasets() error = %v", err)
	}
	if len(datasets) != 2 {
		t.Fatalf("len(datasets) = %d", len(datasets))
	}
	if datasets[0].Name != "events" || strings.Join(datasets[0].Keys, ",") != "data/a.parquet,data/b.parquet" {
		t.Fatalf("datasets[0] = %+v", datasets[0])
	}
	if datasets[1].Name != "users" || len(datasets[1].Keys) != 1 {
		t.Fatalf("datasets[1] = %+v", datasets[1])
	}

	if none, err := ParseDatasets(""); err != nil || none != nil {
		t.Fatalf("ParseDatasets(\"\") = %v, %v", none, err)
	}
}

func TestParseDatasetsRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"events", "bad-name=a.parquet", "e=a.parquet,e=b.parquet", "e= | "} {
		if _, err := ParseDatasets(raw); err == nil {
			t.Fatalf("ParseDatasets(%q) expected error", raw)
		}
	}
}

func TestDuckDBDatasetsAreQueryableViews(t *testing.T) {
	first, err := buildParquet([]eventRow{{ID: 1, Value: "a"}, {ID: 2, Value: "b"}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	second, err := buildParquet([]eventRow{{ID: 3, Value: "c"}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	objects := &memoryStore{objects: map[string][]byte{
		"datasets/events/part-0.parquet": first,
		"datasets/events/part-1.parquet": second,
	}}

	ctx := context.Background()
	db, err := Open(ctx, Config{
		URL:      "duckdb://",
		Datasets: []Dataset{{Name: "events", Keys: []string{"datasets/events/part-0.parquet", "datasets/events/part-1.parquet"}}},
	}, objects)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	workDir := db.workDir

	if got := db.ListTables(ctx); got.Text != "events" {
		t.Fatalf("ListTables() = %+v", got)
	}
	if got := db.Query(ctx, "SELECT COUNT(*) AS c FROM events"); got.Text != "c\n-\n3" {
		t.Fatalf("Query() = %+v", got)
	}
	schema := db.Schema(ctx, "events")
	if !strings.Contains(schema.Text, "  - id: BIGINT") || !strings.Contains(schema.Text, "  - value: VARCHAR") {
		t.Fatalf("Schema() = %q", schema.Text)
	}
	if !strings.Contains(schema.Text, "\nSample rows:\nid | value\n") {
		t.Fatalf("Schema() = %q", schema.Text)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir %q still present: %v", workDir, err)
	}
}

func TestDuckDBDatasetsFailOnMissingObject(t *testing.T) {
	objects := &memoryStore{objects: map[string][]byte{}}
	_, err := Open(context.Background(), Config{
		URL:      "duckdb://",
		Datasets: []Dataset{{Name: "events", Keys: []string{"missing.parquet"}}},
	}, objects)
	if err == nil {
		t.Fatal("expected error for missing dataset object")
	}
}

func buildParquet(rows []eventRow) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[eventRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}

func (m *memoryStore) List(context.Context, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}
