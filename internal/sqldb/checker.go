package sqldb

import (
	"errors"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
	tokenIdent
	tokenNumber
	tokenParam
	tokenSymbol
)

type token struct {
	kind  tokenKind
	text  string
	depth int
}

var (
	errUnterminatedString  = errors.New("unterminated string literal")
	errUnterminatedIdent   = errors.New("unterminated quoted identifier")
	errUnterminatedComment = errors.New("unterminated block comment")
	errUnbalancedParens    = errors.New("unbalanced parentheses")
)

// statementKeywords are the leading keywords of statements the checker
// accepts. Anything else is reported as an undeterminable query type.
var statementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "TABLE": true, "FROM": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true, "REPLACE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "COMMENT": true, "RENAME": true,
	"EXPLAIN": true, "DESCRIBE": true, "DESC": true, "SHOW": true, "PRAGMA": true, "SUMMARIZE": true,
	"ANALYZE": true, "VACUUM": true, "REINDEX": true, "CALL": true, "COPY": true,
	"BEGIN": true, "START": true, "COMMIT": true, "END": true, "ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true,
	"GRANT": true, "REVOKE": true, "SET": true, "RESET": true, "ATTACH": true, "DETACH": true, "USE": true,
	"INSTALL": true, "LOAD": true, "EXPORT": true, "IMPORT": true, "CHECKPOINT": true,
	"PIVOT": true, "UNPIVOT": true,
}

// execKeywords lead statements that never yield a result set unless they
// carry a RETURNING clause. Everything else, including statements the lexer
// cannot classify, runs as a query and is rendered when it has columns.
var execKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true, "REPLACE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "COMMENT": true, "RENAME": true,
	"VACUUM": true, "REINDEX": true, "ANALYZE": true,
	"BEGIN": true, "START": true, "COMMIT": true, "END": true, "ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true,
	"GRANT": true, "REVOKE": true, "SET": true, "RESET": true, "ATTACH": true, "DETACH": true, "USE": true,
	"INSTALL": true, "LOAD": true, "CHECKPOINT": true,
}

// cteBodyKeywords can follow a WITH clause at the top level.
var cteBodyKeywords = map[string]bool{
	"SELECT": true, "VALUES": true, "TABLE": true, "FROM": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
}

type statement struct {
	keyword   string
	returning bool
}

// returnsRows reports whether the statement may yield a result set.
func (s statement) returnsRows() bool {
	return !execKeywords[s.keyword] || s.returning
}

// analyze lexes the first statement of a query. An empty keyword means no
// statement type could be determined.
func analyze(query string) (statement, error) {
	tokens, err := tokenize(query)
	if err != nil {
		return statement{}, err
	}

	var stmt statement
	for i, tok := range tokens {
		if tok.kind == tokenSymbol && tok.text == ";" && tok.depth == 0 {
			tokens = tokens[:i]
			break
		}
	}
	for _, tok := range tokens {
		if tok.kind == tokenWord && strings.EqualFold(tok.text, "RETURNING") {
			stmt.returning = true
		}
	}

	lead := firstWord(tokens, func(token) bool { return true })
	if lead == "" || !statementKeywords[lead] {
		return stmt, nil
	}
	stmt.keyword = lead
	if lead == "WITH" {
		stmt.keyword = firstWord(tokens[1:], func(tok token) bool { return tok.depth == 0 && cteBodyKeywords[strings.ToUpper(tok.text)] })
	}
	return stmt, nil
}

func firstWord(tokens []token, accept func(token) bool) string {
	for _, tok := range tokens {
		if tok.kind == tokenSymbol && tok.text == "(" {
			continue
		}
		if tok.kind != tokenWord {
			if accept(tok) {
				return ""
			}
			continue
		}
		if accept(tok) {
			return strings.ToUpper(tok.text)
		}
	}
	return ""
}

// tokenize splits SQL into words, literals and symbols, dropping whitespace
// and comments. It understands single-quoted strings, double-quoted,
// backtick and bracket identifiers, and Postgres dollar quoting.
func tokenize(query string) ([]token, error) {
	runes := []rune(query)
	var (
		tokens []token
		depth  int
	)
	emit := func(kind tokenKind, text string) {
		tokens = append(tokens, token{kind: kind, text: text, depth: depth})
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := indexFrom(runes, i+2, []rune("*/"))
			if end < 0 {
				return nil, errUnterminatedComment
			}
			i = end + 2
		case r == '\'':
			end, err := scanQuoted(runes, i, '\'', errUnterminatedString)
			if err != nil {
				return nil, err
			}
			emit(tokenString, string(runes[i:end]))
			i = end
		case r == '"' || r == '`':
			end, err := scanQuoted(runes, i, r, errUnterminatedIdent)
			if err != nil {
				return nil, err
			}
			emit(tokenIdent, string(runes[i:end]))
			i = end
		case r == '[':
			end := indexFrom(runes, i+1, []rune("]"))
			if end < 0 {
				return nil, errUnterminatedIdent
			}
			emit(tokenIdent, string(runes[i:end+1]))
			i = end + 1
		case r == '$':
			if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				j := i + 1
				for j < len(runes) && unicode.IsDigit(runes[j]) {
					j++
				}
				emit(tokenParam, string(runes[i:j]))
				i = j
				continue
			}
			if tag, ok := dollarTag(runes, i); ok {
				end := indexFrom(runes, i+len(tag), tag)
				if end < 0 {
					return nil, errUnterminatedString
				}
				emit(tokenString, string(runes[i:end+len(tag)]))
				i = end + len(tag)
				continue
			}
			emit(tokenSymbol, "$")
			i++
		case r == '(':
			emit(tokenSymbol, "(")
			depth++
			i++
		case r == ')':
			depth--
			if depth < 0 {
				return nil, errUnbalancedParens
			}
			emit(tokenSymbol, ")")
			i++
		case isWordStart(r):
			j := i + 1
			for j < len(runes) && isWordPart(runes[j]) {
				j++
			}
			emit(tokenWord, string(runes[i:j]))
			i = j
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E') {
				j++
			}
			emit(tokenNumber, string(runes[i:j]))
			i = j
		default:
			emit(tokenSymbol, string(r))
			i++
		}
	}
	if depth != 0 {
		return nil, errUnbalancedParens
	}
	return tokens, nil
}

// scanQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote.
func scanQuoted(runes []rune, start int, quote rune, unterminated error) (int, error) {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1, nil
	}
	return 0, unterminated
}

// dollarTag recognises $$ and $tag$ openers.
func dollarTag(runes []rune, start int) ([]rune, bool) {
	for j := start + 1; j < len(runes); j++ {
		switch {
		case runes[j] == '$':
			return runes[start : j+1], true
		case j == start+1 && !isWordStart(runes[j]):
			return nil, false
		case !isWordPart(runes[j]):
			return nil, false
		}
	}
	return nil, false
}

func indexFrom(runes []rune, from int, needle []rune) int {
	for i := from; i+len(needle) <= len(runes); i++ {
		match := true
		for k := range needle {
			if runes[i+k] != needle[k] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
