package agent

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/duckmesh/sqlagent/internal/sqldb"
)

const defaultTopK = 5

//go:embed system_prompt.tmpl
var systemPromptSource string

var systemPromptTemplate = template.Must(template.New("system_prompt").Parse(systemPromptSource))

type promptData struct {
	Dialect      string
	TopK         int
	ListTables   string
	Schema       string
	QueryChecker string
	Query        string
}

func renderSystemPrompt(dialect sqldb.Dialect, topK int) (string, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	var out strings.Builder
	err := systemPromptTemplate.Execute(&out, promptData{
		Dialect:      dialectName(dialect),
		TopK:         topK,
		ListTables:   ToolListTables,
		Schema:       ToolSchema,
		QueryChecker: ToolQueryChecker,
		Query:        ToolQuery,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func dialectName(dialect sqldb.Dialect) string {
	switch dialect {
	case sqldb.DialectPostgres:
		return "PostgreSQL"
	case sqldb.DialectDuckDB:
		return "DuckDB"
	case sqldb.DialectSQLite:
		return "SQLite"
	default:
		return "SQL"
	}
}
