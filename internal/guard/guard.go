// Package guard statically checks generated SQL before it reaches the
// engine: one read-only statement, no file access, and only relations and
// qualified columns that exist in the dataset description.
package guard

import (
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/schema"
)

// Write keywords are rejected wherever they appear unquoted, which catches
// data-modifying CTEs. Utility commands such as SET, LOAD or PRAGMA cannot
// appear inside a single SELECT, so the leading-keyword check covers them and
// they stay usable as aliases and column names.
var writeKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
	"TRUNCATE": {}, "MERGE": {}, "ATTACH": {}, "DETACH": {}, "COPY": {},
}

var queryStarts = map[string]struct{}{"SELECT": {}, "WITH": {}, "FROM": {}}

var fileFunctions = map[string]struct{}{
	"READ_CSV": {}, "READ_CSV_AUTO": {}, "SNIFF_CSV": {},
	"READ_PARQUET": {}, "PARQUET_SCAN": {}, "PARQUET_METADATA": {}, "PARQUET_SCHEMA": {},
	"READ_JSON": {}, "READ_JSON_AUTO": {}, "READ_JSON_OBJECTS": {}, "READ_NDJSON": {},
	"READ_NDJSON_AUTO": {}, "READ_NDJSON_OBJECTS": {},
	"READ_TEXT": {}, "READ_BLOB": {}, "READ_XLSX": {}, "ST_READ": {},
	"GLOB": {}, "QUERY": {}, "QUERY_TABLE": {},
	"SQLITE_SCAN": {}, "POSTGRES_SCAN": {}, "MYSQL_SCAN": {}, "ICEBERG_SCAN": {}, "DELTA_SCAN": {},
}

// Words that end a relation reference instead of naming its alias.
var clauseKeywords = map[string]struct{}{
	"WHERE": {}, "JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {}, "OUTER": {},
	"CROSS": {}, "NATURAL": {}, "ON": {}, "USING": {}, "GROUP": {}, "ORDER": {}, "LIMIT": {},
	"OFFSET": {}, "HAVING": {}, "UNION": {}, "EXCEPT": {}, "INTERSECT": {}, "WINDOW": {},
	"QUALIFY": {}, "SAMPLE": {}, "TABLESAMPLE": {}, "POSITIONAL": {}, "ASOF": {}, "ANTI": {},
	"SEMI": {}, "LATERAL": {}, "PIVOT": {}, "UNPIVOT": {}, "SELECT": {}, "FROM": {}, "FETCH": {},
	"AS": {}, "WITH": {}, "VALUES": {},
}

// Validate returns nil for statements that may run, an unsafe_statement error
// for anything that could write or escape the dataset, and an unknown_schema
// error for references to tables or columns that do not exist.
func Validate(sql string, desc schema.Description) error {
	tokens, err := lex(sql)
	if err != nil {
		return err
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].punct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return failure.New(failure.KindUnsafeStatement, "statement is empty")
	}
	if err := checkSafety(tokens); err != nil {
		return err
	}
	return checkSchema(tokens, desc)
}

func checkSafety(tokens []token) error {
	first := 0
	for first < len(tokens) && tokens[first].punct("(") {
		first++
	}
	if first == len(tokens) {
		return failure.New(failure.KindUnsafeStatement, "statement is empty")
	}
	if _, ok := queryStarts[tokens[first].upper]; !ok || tokens[first].kind != tokenIdent {
		return failure.Newf(failure.KindUnsafeStatement,
			"%s statements are not allowed; write one read-only query starting with SELECT, WITH or FROM",
			strings.ToUpper(tokens[first].text))
	}
	for i, tok := range tokens {
		if tok.punct(";") {
			return failure.New(failure.KindUnsafeStatement, "multiple statements are not allowed")
		}
		if tok.kind != tokenIdent {
			continue
		}
		if i > 0 && tokens[i-1].punct(".") {
			continue
		}
		if _, ok := writeKeywords[tok.upper]; ok {
			return failure.Newf(failure.KindUnsafeStatement, "%s modifies data and is not allowed; only read-only queries may run", tok.upper)
		}
		if _, ok := fileFunctions[tok.upper]; ok && i+1 < len(tokens) && tokens[i+1].punct("(") {
			return failure.Newf(failure.KindUnsafeStatement, "%s reads external files and is not allowed", strings.ToLower(tok.text))
		}
		if (tok.is("FROM") || tok.is("JOIN")) && i+1 < len(tokens) && tokens[i+1].kind == tokenString {
			return failure.New(failure.KindUnsafeStatement, "reading files by path is not allowed")
		}
	}
	return nil
}

type binding struct {
	table     string
	ambiguous bool
}

func checkSchema(tokens []token, desc schema.Description) error {
	ctes := collectCTEs(tokens)
	aliases := map[string]*binding{}
	consumed := make([]bool, len(tokens))

	bind := func(alias, table string) {
		key := strings.ToUpper(alias)
		if existing, ok := aliases[key]; ok {
			if existing.table != table {
				existing.ambiguous = true
			}
			return
		}
		aliases[key] = &binding{table: table}
	}

	// sawSelect[depth] tells whether the current parenthesis level is a
	// query; FROM inside EXTRACT(... FROM ...) is not a relation list.
	sawSelect := []bool{false}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.punct("("):
			sawSelect = append(sawSelect, false)
			continue
		case tok.punct(")"):
			if len(sawSelect) > 1 {
				sawSelect = sawSelect[:len(sawSelect)-1]
			}
			continue
		case tok.is("SELECT"):
			sawSelect[len(sawSelect)-1] = true
			continue
		}
		// FROM-first queries put the relation list before any SELECT.
		leading := i == 0 || tokens[i-1].punct("(")
		isFrom := tok.is("FROM") && (sawSelect[len(sawSelect)-1] || leading)
		if !isFrom && !tok.is("JOIN") {
			continue
		}

		j := i + 1
		for {
			next, err := readRelation(tokens, j, desc, ctes, consumed, bind)
			if err != nil {
				return err
			}
			j = next
			if !isFrom || j >= len(tokens) || !tokens[j].punct(",") {
				break
			}
			j++
		}
	}

	for i := 0; i+2 < len(tokens); i++ {
		if consumed[i] || !tokens[i].name() || !tokens[i+1].punct(".") || !tokens[i+2].name() {
			continue
		}
		if i > 0 && tokens[i-1].punct(".") {
			continue
		}
		if i+3 < len(tokens) && tokens[i+3].punct("(") {
			continue
		}
		qualifier := strings.ToUpper(tokens[i].text)
		tableName := ""
		if b, ok := aliases[qualifier]; ok {
			if b.ambiguous || b.table == "" {
				continue
			}
			tableName = b.table
		} else if _, isCTE := ctes[qualifier]; isCTE {
			continue
		} else if table, ok := desc.Table(tokens[i].text); ok {
			tableName = table.Name
		} else {
			continue
		}
		table, ok := desc.Table(tableName)
		if !ok {
			continue
		}
		if _, ok := table.Column(tokens[i+2].text); !ok {
			return failure.Newf(failure.KindUnknownSchema, "unknown column %q on table %q; columns are %s",
				tokens[i+2].text, table.Name, strings.Join(columnNames(table), ", "))
		}
	}
	return nil
}

// readRelation consumes one relation reference plus its alias starting at
// tokens[i] and returns the index after it.
func readRelation(tokens []token, i int, desc schema.Description, ctes map[string]struct{}, consumed []bool, bind func(alias, table string)) (int, error) {
	if i < len(tokens) && tokens[i].is("LATERAL") {
		i++
	}
	if i >= len(tokens) {
		return i, nil
	}

	bound := ""
	switch {
	case tokens[i].punct("("):
		i = skipParens(tokens, i)
	case tokens[i].name():
		start := i
		for i+2 < len(tokens) && tokens[i+1].punct(".") && tokens[i+2].name() {
			i += 2
		}
		for k := start; k <= i; k++ {
			consumed[k] = true
		}
		if i+1 < len(tokens) && tokens[i+1].punct("(") {
			// Table function; its arguments are scanned by the caller.
			return i + 1, nil
		}
		name := tokens[i].text
		upper := strings.ToUpper(name)
		if _, isCTE := ctes[upper]; isCTE {
			bind(name, "")
		} else if table, ok := desc.Table(name); ok {
			bound = table.Name
			bind(name, bound)
		} else {
			return i, failure.Newf(failure.KindUnknownSchema, "unknown table %q; available tables are %s", name, strings.Join(tableNames(desc), ", "))
		}
		i++
	default:
		return i, nil
	}

	if i < len(tokens) && tokens[i].is("AS") {
		i++
	}
	if i < len(tokens) && tokens[i].name() {
		if _, reserved := clauseKeywords[tokens[i].upper]; !reserved || tokens[i].kind == tokenQuoted {
			consumed[i] = true
			alias := tokens[i].text
			i++
			if i < len(tokens) && tokens[i].punct("(") {
				// A column alias list renames the columns, so qualified
				// references through this alias are not checked.
				bind(alias, "")
				i = skipParens(tokens, i)
			} else {
				bind(alias, bound)
			}
		}
	}
	return i, nil
}

func skipParens(tokens []token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch {
		case tokens[i].punct("("):
			depth++
		case tokens[i].punct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(tokens)
}

// collectCTEs finds names introduced by WITH name [(cols)] AS [NOT] [MATERIALIZED] (.
func collectCTEs(tokens []token) map[string]struct{} {
	ctes := map[string]struct{}{}
	for i := 1; i < len(tokens); i++ {
		prev := tokens[i-1]
		if !(prev.is("WITH") || prev.is("RECURSIVE") || prev.punct(",")) || !tokens[i].name() {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].punct("(") {
			j = skipParens(tokens, j)
		}
		if j >= len(tokens) || !tokens[j].is("AS") {
			continue
		}
		j++
		if j < len(tokens) && tokens[j].is("NOT") {
			j++
		}
		if j < len(tokens) && tokens[j].is("MATERIALIZED") {
			j++
		}
		if j < len(tokens) && tokens[j].punct("(") {
			ctes[strings.ToUpper(tokens[i].text)] = struct{}{}
		}
	}
	return ctes
}

func tableNames(desc schema.Description) []string {
	names := make([]string, 0, len(desc.Tables))
	for _, table := range desc.Tables {
		names = append(names, table.Name)
	}
	sort.Strings(names)
	return names
}

func columnNames(table schema.TableDescription) []string {
	names := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		names = append(names, column.Name)
	}
	return names
}
