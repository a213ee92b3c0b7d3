package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/duckmesh/sqlagent/internal/storage"
)

var datasetNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// Dataset is a DuckDB view over one or more parquet objects.
type Dataset struct {
	Name string
	Keys []string
}

// ParseDatasets reads "name=key|key,name=key". Blank input yields nil.
func ParseDatasets(raw string) ([]Dataset, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	seen := map[string]bool{}
	var datasets []Dataset
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, keyList, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !found {
			return nil, fmt.Errorf("invalid dataset %q: expected name=key", entry)
		}
		if !datasetNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid dataset name %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate dataset %q", name)
		}
		seen[name] = true

		var keys []string
		for _, key := range strings.Split(keyList, "|") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("dataset %q has no objects", name)
		}
		datasets = append(datasets, Dataset{Name: name, Keys: keys})
	}
	return datasets, nil
}

// mountDatasets downloads every dataset object into a fresh work dir and
// creates one read_parquet view per dataset. The caller removes the returned
// directory once the database is closed.
func mountDatasets(ctx context.Context, db *sql.DB, objects storage.ObjectStore, datasets []Dataset) (string, error) {
	if objects == nil {
		return "", fmt.Errorf("object store is required for datasets")
	}
	workDir, err := os.MkdirTemp("", "sqlagent-datasets-")
	if err != nil {
		return "", fmt.Errorf("create dataset work dir: %w", err)
	}

	for _, dataset := range datasets {
		localPaths := make([]string, 0, len(dataset.Keys))
		for index, key := range dataset.Keys {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", dataset.Name, index))
			if err := download(ctx, objects, key, localPath); err != nil {
				_ = os.RemoveAll(workDir)
				return "", fmt.Errorf("fetch dataset %q: %w", dataset.Name, err)
			}
			localPaths = append(localPaths, localPath)
		}

		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(dataset.Name), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			_ = os.RemoveAll(workDir)
			return "", fmt.Errorf("create view for dataset %q: %w", dataset.Name, err)
		}
	}
	return workDir, nil
}

func download(ctx context.Context, objects storage.ObjectStore, key, localPath string) error {
	reader, err := objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %q: %w", localPath, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("write local file %q: %w", localPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close local file %q: %w", localPath, err)
	}
	return nil
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
