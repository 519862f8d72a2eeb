package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Runner executes the three stages in order, feeding each stage's output
// location into the next.
type Runner struct {
	Extract *Extractor
	Process *Processor
	Load    *Loader
	Journal RunJournal // optional
	Log     *slog.Logger
}

// Run executes one end-to-end pipeline run.
//
// Stage outputs chain: the extractor's object URI becomes the matching job
// input, the job's output location becomes the loader's source. A pipeline
// over an empty source short-circuits after processing reports ErrNoInputData
// and still counts as success.
func (r *Runner) Run(ctx context.Context, dryRun bool) (PipelineResult, error) {
	runID := uuid.NewString()
	log := r.logger().With("run_id", runID)
	journal := journalOrNop(r.Journal)

	if err := journal.BeginRun(ctx, runID, "pipeline"); err != nil {
		log.Warn("journal_write_failed", "error", err)
	}

	res, err := r.run(ctx, runID, dryRun, log)
	res.RunID = runID

	status, detail := "success", ""
	if err != nil {
		status, detail = "failed", err.Error()
	}
	if jerr := journal.FinishRun(ctx, runID, status, detail); jerr != nil {
		log.Warn("journal_write_failed", "error", jerr)
	}

	return res, err
}

func (r *Runner) run(ctx context.Context, runID string, dryRun bool, log *slog.Logger) (PipelineResult, error) {
	var res PipelineResult

	log.Info("pipeline_started", "dry_run", dryRun)

	extraction, err := r.Extract.Run(ctx, dryRun)
	res.Extraction = &extraction
	if err != nil {
		return res, fmt.Errorf("extract stage: %w", err)
	}
	if !dryRun && extraction.RecordCount == 0 {
		log.Info("pipeline_complete", "reason", "no source records")
		res.Success = true
		return res, nil
	}

	processing, err := r.Process.Run(ctx, ProcessOptions{
		RunID:    runID,
		DryRun:   dryRun,
		InputURI: extraction.OutputPath,
	})
	res.Processing = &processing
	if err != nil {
		if errors.Is(err, ErrNoInputData) {
			log.Info("pipeline_complete", "reason", "no input data")
			res.Success = true
			return res, nil
		}
		return res, fmt.Errorf("process stage: %w", err)
	}

	loading, err := r.Load.Run(ctx, LoadOptions{
		DryRun: dryRun,
		S3Path: processing.OutputPath,
	})
	res.Loading = &loading
	if err != nil {
		return res, fmt.Errorf("load stage: %w", err)
	}

	log.Info("pipeline_complete",
		"extracted", extraction.RecordCount,
		"matched", processing.MatchedRecords,
		"loaded", loading.RecordsLoaded)

	res.Success = true
	return res, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.New(slog.DiscardHandler)
}
