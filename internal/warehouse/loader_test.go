package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/records"
)

// recordingConn is a driver connection that logs every executed statement and
// answers DESC TABLE with a canned column list, so the load path can run
// end to end without a warehouse.
type recordingConn struct {
	descCols []string
	execs    []execCall
}

type execCall struct {
	stmt string
	args []driver.Value
}

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *recordingConn) Close() error               { return nil }
func (c *recordingConn) Begin() (driver.Tx, error)  { return nil, errors.New("tx not supported") }
func (c *recordingConn) Ping(context.Context) error { return nil }

func (c *recordingConn) ExecContext(_ context.Context, stmt string, args []driver.NamedValue) (driver.Result, error) {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.execs = append(c.execs, execCall{stmt: stmt, args: vals})
	return driver.RowsAffected(0), nil
}

func (c *recordingConn) QueryContext(_ context.Context, stmt string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.HasPrefix(stmt, "DESC TABLE") {
		return nil, errors.New("unexpected query: " + stmt)
	}
	rows := make([][]driver.Value, len(c.descCols))
	for i, col := range c.descCols {
		rows[i] = []driver.Value{col}
	}
	return &valueRows{cols: []string{"name"}, rows: rows}, nil
}

type valueRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *valueRows) Columns() []string { return r.cols }
func (r *valueRows) Close() error      { return nil }
func (r *valueRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

type recordingConnector struct{ conn *recordingConn }

func (c recordingConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c recordingConnector) Driver() driver.Driver                        { return nopDriver{} }

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nil, errors.New("open not supported") }

func recordingService(t *testing.T, descCols []string) (*Service, *recordingConn) {
	t.Helper()
	conn := &recordingConn{descCols: descCols}
	s := New(config.SnowflakeConfig{
		Account: "acc", Username: "u", Password: "p",
		Database: "dw", Schema: "public",
	}, nil)
	s.openDB = func(_, _ string) (*sqlx.DB, error) {
		return sqlx.NewDb(sql.OpenDB(recordingConnector{conn: conn}), "snowflake"), nil
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, conn
}

func TestLoadMatchedRecords_ExecutesStageAndMerge(t *testing.T) {
	s, conn := recordingService(t, []string{"ID", "EMAIL", "MATCH_ID", "LAST_UPDATED"})

	recs := []records.Record{
		{"id": "1", "email": "a@example.com", "legacyField": "x"},
		{"id": "2", "email": "b@example.com"},
	}

	table := QualifiedTable("dw", "public", "golden")
	stats, err := s.LoadMatchedRecords(context.Background(), table, recs)
	if err != nil {
		t.Fatalf("LoadMatchedRecords: %v", err)
	}
	if stats.Loaded != 2 {
		t.Errorf("Loaded = %d, want 2", stats.Loaded)
	}
	if len(stats.DroppedColumns) != 1 || stats.DroppedColumns[0] != "legacyField" {
		t.Errorf("DroppedColumns = %v, want [legacyField]", stats.DroppedColumns)
	}

	if len(conn.execs) != 3 {
		t.Fatalf("executed %d statements, want create/insert/merge", len(conn.execs))
	}

	if want := `CREATE OR REPLACE TEMPORARY TABLE "DW"."PUBLIC"."GOLDEN_STAGE" LIKE "DW"."PUBLIC"."GOLDEN"`; conn.execs[0].stmt != want {
		t.Errorf("stage DDL = %q, want %q", conn.execs[0].stmt, want)
	}

	insert := conn.execs[1]
	if want := `INSERT INTO "DW"."PUBLIC"."GOLDEN_STAGE" ("EMAIL", "ID") VALUES (?, ?), (?, ?)`; insert.stmt != want {
		t.Errorf("insert = %q, want %q", insert.stmt, want)
	}
	if len(insert.args) != 4 {
		t.Errorf("insert args = %d, want 4", len(insert.args))
	}

	merge := conn.execs[2].stmt
	for _, want := range []string{
		`MERGE INTO "DW"."PUBLIC"."GOLDEN" target`,
		`USING "DW"."PUBLIC"."GOLDEN_STAGE" source`,
		`ON target."ID" = source."ID"`,
	} {
		if !strings.Contains(merge, want) {
			t.Errorf("merge missing %q:\n%s", want, merge)
		}
	}

	// Identifiers stay inside their quoting; a bare token after a closing
	// quote is a Snowflake syntax error.
	for _, e := range conn.execs {
		if strings.Contains(e.stmt, `"_STAGE`) {
			t.Errorf("malformed staging identifier in %q", e.stmt)
		}
	}
}

func TestLoadMatchedRecords_CollapsesDuplicateIDs(t *testing.T) {
	s, conn := recordingService(t, []string{"ID", "EMAIL"})

	recs := []records.Record{
		{"id": "1", "email": "old@example.com"},
		{"id": "2", "email": "two@example.com"},
		{"id": "1", "email": "new@example.com"},
	}

	stats, err := s.LoadMatchedRecords(context.Background(), `"GOLDEN"`, recs)
	if err != nil {
		t.Fatalf("LoadMatchedRecords: %v", err)
	}
	if stats.Loaded != 2 {
		t.Errorf("Loaded = %d, want 2 after collapsing duplicates", stats.Loaded)
	}

	insert := conn.execs[1]
	if len(insert.args) != 4 {
		t.Fatalf("insert args = %d, want 4 (two staged rows)", len(insert.args))
	}

	var staged []string
	for _, a := range insert.args {
		if v, ok := a.(string); ok {
			staged = append(staged, v)
		}
	}
	joined := strings.Join(staged, " ")
	if strings.Contains(joined, "old@example.com") {
		t.Errorf("stale duplicate staged: %v", staged)
	}
	if !strings.Contains(joined, "new@example.com") {
		t.Errorf("last occurrence not staged: %v", staged)
	}
}

func TestEnsureTargetTable_UsesQualifiedName(t *testing.T) {
	s, conn := recordingService(t, nil)

	table := QualifiedTable("dw", "public", "golden")
	if err := s.EnsureTargetTable(context.Background(), table, nil); err != nil {
		t.Fatalf("EnsureTargetTable: %v", err)
	}
	if len(conn.execs) != 1 || !strings.Contains(conn.execs[0].stmt, `CREATE TABLE IF NOT EXISTS "DW"."PUBLIC"."GOLDEN"`) {
		t.Errorf("DDL = %v", conn.execs)
	}
}
