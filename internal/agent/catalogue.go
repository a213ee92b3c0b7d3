package agent

import "github.com/duckmesh/sqlagent/internal/llm"

const (
	ToolListTables   = "sql_db_list_tables"
	ToolSchema       = "sql_db_schema"
	ToolQueryChecker = "sql_db_query_checker"
	ToolQuery        = "sql_db_query"
)

var catalogue = []llm.Tool{
	{
		Name:        ToolListTables,
		Description: "List all available tables in the database",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"empty_input": map[string]any{
					"type":        "string",
					"description": "Empty string input (not used)",
				},
			},
			"required": []string{},
		},
	},
	{
		Name:        ToolSchema,
		Description: "Get table structure and sample data for specified tables",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tables": map[string]any{
					"type":        "string",
					"description": "Comma-separated list of table names",
				},
			},
			"required": []string{"tables"},
		},
	},
	{
		Name:        ToolQueryChecker,
		Description: "Validate SQL queries before execution",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "SQL query to validate",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolQuery,
		Description: "Execute SQL queries against the database",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Valid SQL query to execute",
				},
			},
			"required": []string{"query"},
		},
	},
}

// Tools returns a deep copy of the fixed tool catalogue offered to the model.
func Tools() []llm.Tool {
	out := make([]llm.Tool, len(catalogue))
	for i, tool := range catalogue {
		out[i] = tool
		out[i].Parameters = cloneSchema(tool.Parameters)
	}
	return out
}

func cloneSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		out[key] = cloneSchemaValue(value)
	}
	return out
}

func cloneSchemaValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneSchema(v)
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneSchemaValue(item)
		}
		return out
	default:
		return v
	}
}
