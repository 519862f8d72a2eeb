package warehouse

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hughy603/aws-entityresolution/internal/records"
)

// NormalizeColumnName converts an incoming record key to the target schema's
// upper-snake form: "matchId" -> "MATCH_ID", "match score" -> "MATCH_SCORE",
// "MATCH_ID" -> "MATCH_ID".
//
// Matched output arrives camelCased while Snowflake columns are upper-snake;
// this single function is the explicit bridge between the two. Both sides of
// every column comparison must go through it.
func NormalizeColumnName(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)

	runes := []rune(strings.TrimSpace(key))
	for i, r := range runes {
		switch {
		case r == ' ' || r == '-' || r == '.':
			r = '_'
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			// Boundary before "Id" in "matchId" and before "Server" in
			// "HTTPServer"; none inside an all-caps run.
			if unicode.IsLower(prev) || unicode.IsDigit(prev) ||
				(unicode.IsUpper(prev) && unicode.IsLower(next)) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	// Collapse runs introduced by mixed separators ("match - id").
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// ColumnMapping binds target columns to the record keys that feed them.
type ColumnMapping struct {
	// Bound maps target column -> source record key.
	Bound map[string]string

	// Unmapped lists source keys that matched no target column, sorted.
	// These values are dropped from the load; the loader logs them and
	// surfaces them on the loading result so the drop is observable.
	Unmapped []string
}

// Columns returns the bound target columns in a stable order.
func (m ColumnMapping) Columns() []string {
	cols := make([]string, 0, len(m.Bound))
	for c := range m.Bound {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// ResolveColumns matches the union of record keys against targetCols.
//
// Matching is by normalized name, so "matchId", "MATCHID" is not assumed:
// "matchId" binds MATCH_ID, "MatchScore" binds MATCH_SCORE, and an exact
// upper-snake key binds itself. When two source keys normalize to the same
// column the first seen in sorted key order wins and the loser is reported
// as unmapped.
func ResolveColumns(targetCols []string, recs []records.Record) ColumnMapping {
	byNormalized := make(map[string]string, len(targetCols))
	for _, c := range targetCols {
		byNormalized[NormalizeColumnName(c)] = c
	}

	keySet := map[string]struct{}{}
	for _, rec := range recs {
		for k := range rec {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := ColumnMapping{Bound: make(map[string]string, len(keys))}
	for _, k := range keys {
		col, ok := byNormalized[NormalizeColumnName(k)]
		if !ok {
			m.Unmapped = append(m.Unmapped, k)
			continue
		}
		if _, taken := m.Bound[col]; taken {
			m.Unmapped = append(m.Unmapped, k)
			continue
		}
		m.Bound[col] = k
	}
	return m
}

// ValueFor extracts the scalarized value bound to col from rec, or nil when
// the record lacks the source key.
func (m ColumnMapping) ValueFor(rec records.Record, col string) any {
	key, ok := m.Bound[col]
	if !ok {
		return nil
	}
	v, ok := rec[key]
	if !ok {
		return nil
	}
	return records.Scalar(v)
}
