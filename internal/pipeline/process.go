package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hughy603/aws-entityresolution/internal/config"
	journaldb "github.com/hughy603/aws-entityresolution/internal/journal"
	"github.com/hughy603/aws-entityresolution/internal/matching"
	"github.com/hughy603/aws-entityresolution/internal/metrics"
	"github.com/hughy603/aws-entityresolution/internal/storage"
)

// Processor locates the latest extracted input, submits one matching job and
// (optionally) blocks until it reaches a terminal state.
type Processor struct {
	Settings *config.Settings
	Store    storage.ObjectStore
	Matcher  matching.Client
	Journal  RunJournal // optional
	Log      *slog.Logger

	// Wait tunes the polling loop; zero values take the package defaults.
	Wait matching.WaitOptions

	// now is a test seam for the timestamped output prefix.
	now func() time.Time
}

// ProcessOptions carries per-invocation overrides.
type ProcessOptions struct {
	RunID  string
	DryRun bool

	// InputURI skips latest-input discovery when set.
	InputURI string

	// NoWait returns right after submission with status "submitted".
	NoWait bool

	// OutputName overrides the timestamp segment of the output prefix.
	OutputName string
}

// Run executes the process stage. Single error boundary, same discipline as
// the extract stage.
//
// An empty input prefix returns ErrNoInputData with a failed result; callers
// decide whether that ends the run cleanly (it does, for run-pipeline).
func (p *Processor) Run(ctx context.Context, opts ProcessOptions) (ProcessingResult, error) {
	start := time.Now()
	log := p.logger()

	if opts.DryRun {
		log.Info("process_dry_run", "workflow", p.Settings.EntityResolution.WorkflowName)
		return ProcessingResult{Success: true, DryRun: true, Status: "dry_run", JobID: "dry-run-job-id", Duration: time.Since(start)}, nil
	}

	res, err := p.run(ctx, opts, log)
	res.Duration = time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		res.Success = false
		res.Status = "error"
		res.ErrorMessage = err.Error()
		if !errors.Is(err, ErrNoInputData) {
			log.Error("process_failed", "error", err)
		}
	}
	metrics.ObserveStage("process", status, res.Duration)
	metrics.CountRecords("matched", res.MatchedRecords)

	return res, err
}

func (p *Processor) run(ctx context.Context, opts ProcessOptions, log *slog.Logger) (ProcessingResult, error) {
	journal := journalOrNop(p.Journal)
	er := p.Settings.EntityResolution

	inputURI := opts.InputURI
	if inputURI == "" {
		key, ok, err := storage.FindLatestPath(ctx, p.Store, p.Settings.S3.Prefix, ".json")
		if err != nil {
			return ProcessingResult{}, fmt.Errorf("locate latest input: %w", err)
		}
		if !ok {
			log.Info("no_input_data", "prefix", p.Settings.S3.Prefix)
			return ProcessingResult{}, ErrNoInputData
		}
		inputURI = p.Store.URI(key)
	}

	nowFn := p.now
	if nowFn == nil {
		nowFn = time.Now
	}
	outputName := opts.OutputName
	if outputName == "" {
		outputName = nowFn().UTC().Format(storage.TimestampLayout)
	}
	outputPrefix := p.Settings.S3.Prefix + "output/" + outputName + "/"

	if err := journal.GuardSubmission(ctx, er.WorkflowName, inputURI); err != nil {
		if !errors.Is(err, journaldb.ErrJobInFlight) {
			return ProcessingResult{}, err
		}
		if err := p.releaseFinishedJob(ctx, journal, er.WorkflowName, inputURI, log); err != nil {
			return ProcessingResult{}, err
		}
	}

	jobID, err := p.Matcher.StartMatchingJob(ctx, matching.StartJobRequest{
		WorkflowName: er.WorkflowName,
		InputURI:     inputURI,
		OutputPrefix: outputPrefix,
	})
	if err != nil {
		return ProcessingResult{}, err
	}

	log.Info("matching_job_submitted",
		"job_id", jobID, "workflow", er.WorkflowName, "input", inputURI, "output_prefix", outputPrefix)

	if err := journal.RecordSubmission(ctx, opts.RunID, jobID, er.WorkflowName, inputURI, outputPrefix); err != nil {
		log.Warn("journal_write_failed", "error", err)
	}

	if opts.NoWait {
		return ProcessingResult{
			Success:    true,
			Status:     "submitted",
			JobID:      jobID,
			OutputPath: outputPrefix,
		}, nil
	}

	waitOpts := p.Wait
	waitOpts.Logger = log
	info, err := matching.WaitForJob(ctx, p.Matcher, jobID, waitOpts)
	if err != nil {
		terminalStatus := ""
		var failed *matching.JobFailedError
		if errors.As(err, &failed) {
			terminalStatus = string(failed.Status)
		}
		if terminalStatus != "" {
			if jerr := journal.MarkJobStatus(ctx, jobID, terminalStatus, true); jerr != nil {
				log.Warn("journal_write_failed", "error", jerr)
			}
		}
		return ProcessingResult{JobID: jobID}, err
	}

	if jerr := journal.MarkJobStatus(ctx, jobID, string(matching.StatusSucceeded), true); jerr != nil {
		log.Warn("journal_write_failed", "error", jerr)
	}

	outputPath := info.OutputLocation
	if outputPath == "" {
		outputPath = outputPrefix
	}
	if !strings.HasPrefix(outputPath, "s3://") {
		outputPath = p.Store.URI(outputPath)
	}

	return ProcessingResult{
		Success:        true,
		Status:         "success",
		JobID:          jobID,
		InputRecords:   info.Statistics.InputRecords,
		MatchedRecords: info.Statistics.MatchedRecords,
		OutputPath:     outputPath,
	}, nil
}

// releaseFinishedJob re-verifies the journal's blocking job against the
// service. The journal holds a stale SUBMITTED or RUNNING row whenever no
// process waited the job out (a --no-wait submission, a crash mid-wait); once
// the service reports the job terminal its real status is recorded and the
// guard releases. A job the service still reports as running keeps the guard
// in place.
func (p *Processor) releaseFinishedJob(ctx context.Context, journal RunJournal, workflow, inputURI string, log *slog.Logger) error {
	jobID, err := journal.InFlightJob(ctx, workflow, inputURI)
	if err != nil {
		return err
	}
	if jobID == "" {
		return nil
	}

	info, err := p.Matcher.GetJobStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("re-verify in-flight job %s: %w", jobID, err)
	}
	if !info.Status.Terminal() {
		return fmt.Errorf("%w (job %s is %s)", journaldb.ErrJobInFlight, jobID, info.Status)
	}

	if jerr := journal.MarkJobStatus(ctx, jobID, string(info.Status), true); jerr != nil {
		log.Warn("journal_write_failed", "error", jerr)
	}
	log.Info("stale_in_flight_job_released", "job_id", jobID, "status", string(info.Status))
	return nil
}

func (p *Processor) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.New(slog.DiscardHandler)
}
