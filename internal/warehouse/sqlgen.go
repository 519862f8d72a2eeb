package warehouse

import (
	"fmt"
	"strings"

	"github.com/hughy603/aws-entityresolution/internal/matching"
)

// Standard columns present on every target table, independent of the
// matching schema.
const (
	keyColumn        = "ID"
	matchIDColumn    = "MATCH_ID"
	matchScoreColumn = "MATCH_SCORE"
	auditColumn      = "LAST_UPDATED"
)

// The SQL builders below are pure and deterministic so the statements they
// emit, which are an operational contract against the warehouse, can be unit
// tested without a database.

// MapAttributeType maps a matching-schema attribute type to a Snowflake
// column type. Unknown types fall back to VARCHAR rather than failing the
// load; matched output is stringly typed at the wire level anyway.
func MapAttributeType(attrType string) string {
	switch strings.ToUpper(attrType) {
	case "STRING", "NAME", "ADDRESS",
		"EMAIL", "EMAIL_ADDRESS",
		"PHONE", "PHONE_NUMBER",
		"ID", "UNIQUE_ID", "PROVIDER_ID":
		return "VARCHAR"
	case "NUMBER":
		return "FLOAT"
	case "DATE":
		return "TIMESTAMP_NTZ"
	default:
		return "VARCHAR"
	}
}

// QualifiedTable renders "DB"."SCHEMA"."TABLE" with each part upper-cased
// and quoted. Empty parts are omitted, so a bare table name stays usable
// against the connection's current database and schema.
func QualifiedTable(database, schema, table string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{database, schema, table} {
		if p != "" {
			parts = append(parts, quoteIdent(p))
		}
	}
	return strings.Join(parts, ".")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(strings.ToUpper(s), `"`, `""`) + `"`
}

// BuildCreateTableSQL builds the idempotent target-table DDL.
//
// Columns are the standard set (ID primary key, match metadata, audit
// timestamp) plus one column per schema attribute, type-mapped via
// MapAttributeType. Attributes named like a standard column are skipped
// instead of duplicated.
func BuildCreateTableSQL(table string, attrs []matching.SchemaAttribute) string {
	cols := []string{
		quoteIdent(keyColumn) + " VARCHAR NOT NULL",
		quoteIdent(matchIDColumn) + " VARCHAR",
		quoteIdent(matchScoreColumn) + " FLOAT",
	}

	seen := map[string]struct{}{
		keyColumn: {}, matchIDColumn: {}, matchScoreColumn: {}, auditColumn: {},
	}

	for _, a := range attrs {
		name := NormalizeColumnName(a.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cols = append(cols, quoteIdent(name)+" "+MapAttributeType(a.Type))
	}

	cols = append(cols,
		quoteIdent(auditColumn)+" TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()",
		"PRIMARY KEY ("+quoteIdent(keyColumn)+")",
	)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", table, strings.Join(cols, ",\n    "))
}

// StageTable derives the staging identifier for a target name by suffixing
// the final name part inside its quoting:
// "DW"."PUBLIC"."GOLDEN" -> "DW"."PUBLIC"."GOLDEN_STAGE". An unquoted name
// gets a plain suffix. Appending outside the quotes would produce a bare
// token after a quoted identifier, which Snowflake rejects.
func StageTable(target string) string {
	if strings.HasSuffix(target, `"`) {
		return strings.TrimSuffix(target, `"`) + `_STAGE"`
	}
	return target + "_STAGE"
}

// BuildStageCreateSQL builds the session-scoped staging table the load path
// batch-inserts into before merging. OR REPLACE guarantees an empty stage
// even when the same session loads twice.
func BuildStageCreateSQL(stage, target string) string {
	return fmt.Sprintf("CREATE OR REPLACE TEMPORARY TABLE %s LIKE %s", stage, target)
}

// BuildStageInsertSQL builds one multi-row INSERT into the staging table.
// rowCount rows of len(cols) placeholders each; the caller flattens values in
// the same order.
func BuildStageInsertSQL(stage string, cols []string, rowCount int) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	oneRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	rows := make([]string, rowCount)
	for i := range rows {
		rows[i] = oneRow
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		stage, strings.Join(quoted, ", "), strings.Join(rows, ", "))
}

// BuildMergeSQL builds the upsert from stage into target, keyed on ID.
//
// Matched rows update every non-key column plus the audit timestamp;
// unmatched rows insert with a server-side timestamp. MERGE keyed on ID is
// what makes re-loading the same output object idempotent: the second pass
// updates rows in place instead of appending duplicates.
func BuildMergeSQL(target, stage string, cols []string) string {
	var set, insertCols, values []string
	for _, c := range cols {
		q := quoteIdent(c)
		insertCols = append(insertCols, q)
		values = append(values, "source."+q)
		if !strings.EqualFold(c, keyColumn) {
			set = append(set, fmt.Sprintf("%s = source.%s", q, q))
		}
	}

	audit := quoteIdent(auditColumn)
	set = append(set, audit+" = CURRENT_TIMESTAMP()")
	insertCols = append(insertCols, audit)
	values = append(values, "CURRENT_TIMESTAMP()")

	return fmt.Sprintf(`MERGE INTO %s target
USING %s source
ON target.%s = source.%s
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)`,
		target, stage,
		quoteIdent(keyColumn), quoteIdent(keyColumn),
		strings.Join(set, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(values, ", "))
}
