// Package pipeline composes the extract, process, and load stages into one
// sequential run, and defines the immutable result records each stage hands
// back to the CLI.
//
// Stages depend on narrow interfaces (object store, matching client, record
// querier, target loader) so test doubles implement an explicit contract
// instead of duck-typing the real services.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hughy603/aws-entityresolution/internal/matching"
	"github.com/hughy603/aws-entityresolution/internal/records"
	"github.com/hughy603/aws-entityresolution/internal/warehouse"
)

// ErrNoInputData signals an empty pipeline: no object matched under the input
// prefix. This is an expected, recoverable condition (fresh bucket, dry
// season), distinct from real failures; callers treat it as a clean stop.
var ErrNoInputData = errors.New("no input data found")

// RecordQuerier is what the extract stage needs from the source warehouse.
type RecordQuerier interface {
	QueryRecords(ctx context.Context, query string) ([]records.Record, error)
}

// TargetLoader is what the load stage needs from the target warehouse.
type TargetLoader interface {
	EnsureTargetTable(ctx context.Context, table string, attrs []matching.SchemaAttribute) error
	LoadMatchedRecords(ctx context.Context, table string, recs []records.Record) (warehouse.LoadStats, error)
}

// RunJournal is the optional run/job bookkeeping sink. A nil journal turns
// every call into a no-op via the journalOrNop helper.
type RunJournal interface {
	BeginRun(ctx context.Context, runID, stage string) error
	FinishRun(ctx context.Context, runID, status, detail string) error
	GuardSubmission(ctx context.Context, workflow, inputURI string) error
	// InFlightJob returns the id of the non-terminal job recorded for
	// workflow+inputURI, or "" when none exists.
	InFlightJob(ctx context.Context, workflow, inputURI string) (string, error)
	RecordSubmission(ctx context.Context, runID, jobID, workflow, inputURI, outputPrefix string) error
	MarkJobStatus(ctx context.Context, jobID, status string, terminal bool) error
}

// ExtractionResult reports one extract stage run. Immutable once returned.
type ExtractionResult struct {
	Success      bool
	OutputPath   string // s3 URI of the written NDJSON object; empty when no rows
	RecordCount  int
	ErrorMessage string
	Duration     time.Duration
	DryRun       bool
}

// ProcessingResult reports one process stage run. Immutable once returned.
type ProcessingResult struct {
	Success        bool
	JobID          string
	Status         string // success | submitted | dry_run | error
	InputRecords   int
	MatchedRecords int
	OutputPath     string // job output location as reported by the service
	ErrorMessage   string
	Duration       time.Duration
	DryRun         bool
}

// LoadingResult reports one load stage run. Immutable once returned.
type LoadingResult struct {
	Success        bool
	TargetTable    string
	RecordsLoaded  int
	DroppedColumns []string // record keys whose values were not loaded
	ErrorMessage   string
	Duration       time.Duration
	DryRun         bool
}

// PipelineResult aggregates one end-to-end run. A stage left nil was never
// reached.
type PipelineResult struct {
	RunID      string
	Extraction *ExtractionResult
	Processing *ProcessingResult
	Loading    *LoadingResult
	Success    bool
}

type nopJournal struct{}

func (nopJournal) BeginRun(context.Context, string, string) error                  { return nil }
func (nopJournal) FinishRun(context.Context, string, string, string) error        { return nil }
func (nopJournal) GuardSubmission(context.Context, string, string) error          { return nil }
func (nopJournal) InFlightJob(context.Context, string, string) (string, error)   { return "", nil }
func (nopJournal) RecordSubmission(context.Context, string, string, string, string, string) error {
	return nil
}
func (nopJournal) MarkJobStatus(context.Context, string, string, bool) error { return nil }

func journalOrNop(j RunJournal) RunJournal {
	if j == nil {
		return nopJournal{}
	}
	return j
}
