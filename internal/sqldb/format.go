package sqldb

import (
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const nullLiteral = "NULL"

// renderTable formats a header, a dash separator as wide as the header line,
// and one pipe-delimited line per row.
func renderTable(columns []string, rows [][]string) string {
	header := strings.Join(columns, " | ")
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, header, strings.Repeat("-", len(header)))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

// scanRows reads up to limit rows (limit <= 0 reads all) as display strings.
// truncated is true when rows were left unread.
func scanRows(rows *sql.Rows, limit int) (columns []string, values [][]string, truncated bool, err error) {
	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}
	values = make([][]string, 0)
	for rows.Next() {
		if limit > 0 && len(values) >= limit {
			truncated = true
			break
		}
		raw := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range raw {
			targets[i] = &raw[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		line := make([]string, len(raw))
		for i, value := range raw {
			line[i] = formatValue(value)
		}
		values = append(values, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, values, truncated, nil
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return nullLiteral
	case []byte:
		return string(typed)
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(typed)
	case time.Time:
		if typed.Nanosecond() == 0 {
			return typed.Format(time.DateTime)
		}
		return typed.Format("2006-01-02 15:04:05.999999")
	case *big.Int:
		if typed == nil {
			return nullLiteral
		}
		return typed.String()
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
