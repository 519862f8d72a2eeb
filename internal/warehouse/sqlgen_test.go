package warehouse

import (
	"strings"
	"testing"

	"github.com/hughy603/aws-entityresolution/internal/matching"
)

func TestMapAttributeType(t *testing.T) {
	cases := []struct {
		attr string
		want string
	}{
		{"STRING", "VARCHAR"},
		{"NAME", "VARCHAR"},
		{"EMAIL", "VARCHAR"},
		{"EMAIL_ADDRESS", "VARCHAR"},
		{"PHONE", "VARCHAR"},
		{"PHONE_NUMBER", "VARCHAR"},
		{"UNIQUE_ID", "VARCHAR"},
		{"NUMBER", "FLOAT"},
		{"DATE", "TIMESTAMP_NTZ"},
		{"number", "FLOAT"}, // case-insensitive
		{"SOMETHING_NEW", "VARCHAR"},
		{"", "VARCHAR"},
	}
	for _, tc := range cases {
		if got := MapAttributeType(tc.attr); got != tc.want {
			t.Errorf("MapAttributeType(%q) = %q, want %q", tc.attr, got, tc.want)
		}
	}
}

func TestQualifiedTable(t *testing.T) {
	if got, want := QualifiedTable("analytics", "public", "golden"), `"ANALYTICS"."PUBLIC"."GOLDEN"`; got != want {
		t.Errorf("QualifiedTable = %s, want %s", got, want)
	}
	if got, want := QualifiedTable("", "", "golden"), `"GOLDEN"`; got != want {
		t.Errorf("QualifiedTable bare = %s, want %s", got, want)
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	attrs := []matching.SchemaAttribute{
		{Name: "email", Type: "EMAIL"},
		{Name: "signupDate", Type: "DATE"},
		{Name: "accountBalance", Type: "NUMBER"},
		{Name: "id", Type: "UNIQUE_ID"}, // collides with the standard key column
	}

	sql := BuildCreateTableSQL(`"GOLDEN"`, attrs)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS",
		`"ID" VARCHAR NOT NULL`,
		`"MATCH_ID" VARCHAR`,
		`"MATCH_SCORE" FLOAT`,
		`"EMAIL" VARCHAR`,
		`"SIGNUP_DATE" TIMESTAMP_NTZ`,
		`"ACCOUNT_BALANCE" FLOAT`,
		`"LAST_UPDATED" TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()`,
		`PRIMARY KEY ("ID")`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}

	if n := strings.Count(sql, `"ID" `); n != 1 {
		t.Errorf("ID column declared %d times, want 1:\n%s", n, sql)
	}
}

func TestStageTable(t *testing.T) {
	cases := []struct {
		target string
		want   string
	}{
		{`"DW"."PUBLIC"."GOLDEN"`, `"DW"."PUBLIC"."GOLDEN_STAGE"`},
		{`"GOLDEN"`, `"GOLDEN_STAGE"`},
		{"GOLDEN", "GOLDEN_STAGE"},
	}
	for _, tc := range cases {
		if got := StageTable(tc.target); got != tc.want {
			t.Errorf("StageTable(%s) = %s, want %s", tc.target, got, tc.want)
		}
	}
}

func TestBuildStageCreateSQL(t *testing.T) {
	target := QualifiedTable("dw", "public", "golden")
	got := BuildStageCreateSQL(StageTable(target), target)
	want := `CREATE OR REPLACE TEMPORARY TABLE "DW"."PUBLIC"."GOLDEN_STAGE" LIKE "DW"."PUBLIC"."GOLDEN"`
	if got != want {
		t.Errorf("BuildStageCreateSQL = %s, want %s", got, want)
	}
}

func TestBuildStageInsertSQL(t *testing.T) {
	got := BuildStageInsertSQL(StageTable(`"DW"."PUBLIC"."GOLDEN"`), []string{"ID", "EMAIL"}, 2)
	want := `INSERT INTO "DW"."PUBLIC"."GOLDEN_STAGE" ("ID", "EMAIL") VALUES (?, ?), (?, ?)`
	if got != want {
		t.Errorf("BuildStageInsertSQL = %s, want %s", got, want)
	}
}

func TestBuildMergeSQL(t *testing.T) {
	sql := BuildMergeSQL(`"GOLDEN"`, StageTable(`"GOLDEN"`), []string{"ID", "EMAIL", "MATCH_ID"})

	for _, want := range []string{
		`MERGE INTO "GOLDEN" target`,
		`USING "GOLDEN_STAGE" source`,
		`ON target."ID" = source."ID"`,
		`"EMAIL" = source."EMAIL"`,
		`"MATCH_ID" = source."MATCH_ID"`,
		`"LAST_UPDATED" = CURRENT_TIMESTAMP()`,
		`INSERT ("ID", "EMAIL", "MATCH_ID", "LAST_UPDATED")`,
		`VALUES (source."ID", source."EMAIL", source."MATCH_ID", CURRENT_TIMESTAMP())`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("MERGE missing %q:\n%s", want, sql)
		}
	}

	// The key column never appears in the UPDATE SET list.
	if strings.Contains(sql, `"ID" = source."ID",`) {
		t.Errorf("MERGE updates the key column:\n%s", sql)
	}
}
