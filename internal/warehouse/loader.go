package warehouse

import (
	"context"
	"fmt"

	"github.com/hughy603/aws-entityresolution/internal/matching"
	"github.com/hughy603/aws-entityresolution/internal/records"
)

// loadBatchSize bounds one staging INSERT. Matched outputs can run to
// millions of rows; 1000 keeps statement size and bind-array memory flat.
const loadBatchSize = 1000

// LoadStats reports what one load actually did.
type LoadStats struct {
	// Loaded is the number of records merged into the target.
	Loaded int

	// DroppedColumns lists source record keys that matched no target column.
	// Their values were not loaded.
	DroppedColumns []string
}

// EnsureTargetTable creates the target table when missing, deriving columns
// from attrs. Idempotent: existing tables are left untouched.
func (s *Service) EnsureTargetTable(ctx context.Context, table string, attrs []matching.SchemaAttribute) error {
	if _, err := s.Exec(ctx, BuildCreateTableSQL(table, attrs)); err != nil {
		return fmt.Errorf("create target table %s: %w", table, err)
	}
	s.log.Info("target_table_ready", "table", table)
	return nil
}

// LoadMatchedRecords upserts recs into table via a temporary staging table
// and a MERGE keyed on ID.
//
// Steps:
//  1. read the target's columns and resolve the record-key -> column mapping
//  2. batch-insert normalized rows into a session-scoped staging table
//  3. MERGE stage into target (update on ID match, insert otherwise)
//
// Loading the same output twice leaves the target row count unchanged.
// Records sharing an ID collapse to the last occurrence before staging.
// Source keys that bind no column are logged and reported, never silently
// dropped.
func (s *Service) LoadMatchedRecords(ctx context.Context, table string, recs []records.Record) (LoadStats, error) {
	if len(recs) == 0 {
		s.log.Info("no_records_to_load", "table", table)
		return LoadStats{}, nil
	}

	targetCols, err := s.TargetColumns(ctx, table)
	if err != nil {
		return LoadStats{}, err
	}

	mapping := ResolveColumns(targetCols, recs)
	if len(mapping.Bound) == 0 {
		return LoadStats{}, fmt.Errorf("load %s: no record keys map onto target columns %v", table, targetCols)
	}
	if len(mapping.Unmapped) > 0 {
		s.log.Warn("unmapped_record_keys_dropped",
			"table", table, "keys", mapping.Unmapped)
	}

	if idKey, ok := mapping.Bound[keyColumn]; ok {
		deduped, dupes := dedupeByKey(recs, idKey)
		if dupes > 0 {
			s.log.Warn("duplicate_ids_collapsed", "table", table, "duplicates", dupes)
		}
		recs = deduped
	}

	stage := StageTable(table)
	if _, err := s.Exec(ctx, BuildStageCreateSQL(stage, table)); err != nil {
		return LoadStats{}, fmt.Errorf("create staging table %s: %w", stage, err)
	}

	cols := mapping.Columns()
	for start := 0; start < len(recs); start += loadBatchSize {
		end := min(start+loadBatchSize, len(recs))
		batch := recs[start:end]

		args := make([]any, 0, len(batch)*len(cols))
		for _, rec := range batch {
			for _, c := range cols {
				args = append(args, mapping.ValueFor(rec, c))
			}
		}

		if _, err := s.Exec(ctx, BuildStageInsertSQL(stage, cols, len(batch)), args...); err != nil {
			return LoadStats{}, fmt.Errorf("stage batch %d-%d into %s: %w", start, end, stage, err)
		}
	}

	if _, err := s.Exec(ctx, BuildMergeSQL(table, stage, cols)); err != nil {
		return LoadStats{}, fmt.Errorf("merge %s into %s: %w", stage, table, err)
	}

	s.log.Info("records_loaded",
		"table", table, "records", len(recs), "columns", len(cols))

	return LoadStats{Loaded: len(recs), DroppedColumns: mapping.Unmapped}, nil
}

// dedupeByKey collapses records sharing one key value, keeping the last
// occurrence. Duplicate IDs inside a single staged batch would make the MERGE
// a nondeterministic-update error.
func dedupeByKey(recs []records.Record, key string) ([]records.Record, int) {
	last := make(map[any]int, len(recs))
	for i, rec := range recs {
		last[records.Scalar(rec[key])] = i
	}
	if len(last) == len(recs) {
		return recs, 0
	}
	out := make([]records.Record, 0, len(last))
	for i, rec := range recs {
		if last[records.Scalar(rec[key])] == i {
			out = append(out, rec)
		}
	}
	return out, len(recs) - len(out)
}
