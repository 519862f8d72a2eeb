package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/metrics"
	"github.com/hughy603/aws-entityresolution/internal/records"
	"github.com/hughy603/aws-entityresolution/internal/storage"
)

// Extractor pulls entity rows from the source warehouse and ships them to
// object storage as NDJSON under a fresh timestamped prefix.
type Extractor struct {
	Settings *config.Settings
	Source   RecordQuerier
	Store    storage.ObjectStore
	Log      *slog.Logger

	// now is a test seam for the timestamped output key.
	now func() time.Time
}

// Run executes the extract stage.
//
// This method is the stage's single error boundary: inner helpers return
// errors, Run converts them into a failed result and passes the error up for
// control flow. Zero source rows is a success with RecordCount 0 and no
// object written.
func (e *Extractor) Run(ctx context.Context, dryRun bool) (ExtractionResult, error) {
	start := time.Now()
	log := e.logger()

	if dryRun {
		log.Info("extract_dry_run", "source_table", e.Settings.SourceTable)
		return ExtractionResult{Success: true, DryRun: true, Duration: time.Since(start)}, nil
	}

	res, err := e.run(ctx, log)
	res.Duration = time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		res.Success = false
		res.ErrorMessage = err.Error()
		log.Error("extract_failed", "error", err)
	}
	metrics.ObserveStage("extract", status, res.Duration)
	metrics.CountRecords("extracted", res.RecordCount)

	return res, err
}

func (e *Extractor) run(ctx context.Context, log *slog.Logger) (ExtractionResult, error) {
	query := buildExtractionQuery(e.Settings.SourceTable, e.Settings.EntityResolution.EntityAttributes)
	log.Debug("extract_query", "query", query)

	recs, err := e.Source.QueryRecords(ctx, query)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("extract from %s: %w", e.Settings.SourceTable, err)
	}

	if len(recs) == 0 {
		log.Info("extract_complete", "records", 0)
		return ExtractionResult{Success: true}, nil
	}

	var buf bytes.Buffer
	if err := records.EncodeNDJSON(&buf, recs); err != nil {
		return ExtractionResult{}, err
	}

	nowFn := e.now
	if nowFn == nil {
		nowFn = time.Now
	}
	key := storage.TimestampedKey(e.Settings.S3.Prefix, nowFn().UTC(), "entity_data.json")

	if err := e.Store.Write(ctx, key, buf.Bytes()); err != nil {
		return ExtractionResult{}, fmt.Errorf("write extraction output: %w", err)
	}

	uri := e.Store.URI(key)
	log.Info("extract_complete", "records", len(recs), "output", uri, "bytes", buf.Len())

	return ExtractionResult{Success: true, OutputPath: uri, RecordCount: len(recs)}, nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.New(slog.DiscardHandler)
}

// buildExtractionQuery selects the configured entity attributes, or the whole
// table when none are configured. Attribute names are quoted upper-case to
// match warehouse identifier rules.
func buildExtractionQuery(table string, attrs []string) string {
	if len(attrs) == 0 {
		return "SELECT * FROM " + table
	}
	quoted := make([]string, len(attrs))
	for i, a := range attrs {
		quoted[i] = `"` + strings.ToUpper(strings.TrimSpace(a)) + `"`
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), table)
}
