package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/hughy603/aws-entityresolution/internal/metrics"
)

// WaitOptions tunes the polling loop.
//
// The interval grows by Multiplier after every non-terminal poll, capped at
// MaxInterval; matching jobs routinely run for minutes, and a fixed short
// interval just burns API calls against a job that is nowhere near done.
type WaitOptions struct {
	// CheckInterval is the first sleep between polls. Defaults to 30s.
	CheckInterval time.Duration

	// MaxInterval caps backoff growth. Defaults to 4*CheckInterval.
	MaxInterval time.Duration

	// Multiplier grows the interval after each non-terminal poll.
	// Defaults to 1.5; values < 1 are treated as 1 (fixed interval).
	Multiplier float64

	// Timeout bounds the whole wait. Zero means no deadline beyond ctx.
	Timeout time.Duration

	// Logger receives per-poll progress events. Nil discards them.
	Logger *slog.Logger

	// Unexported test seams (clock and sleep), following the same pattern as
	// the metrics backend: production never sets them.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (o *WaitOptions) fill() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 4 * o.CheckInterval
	}
	if o.Multiplier < 1 {
		o.Multiplier = 1.5
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForJob polls jobID until it reaches a terminal state, the deadline
// expires, or ctx is cancelled.
//
// Returns:
//   - SUCCEEDED: the final JobInfo, with output location and statistics
//   - FAILED / CANCELLED: *JobFailedError
//   - deadline exceeded: *DeadlineError (the remote job keeps running)
//   - ctx cancelled: ctx.Err()
//
// Status-read errors propagate immediately; every poll is at-most-once and
// transient service errors are the caller's decision to retry.
func WaitForJob(ctx context.Context, c Client, jobID string, opts WaitOptions) (JobInfo, error) {
	opts.fill()

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = opts.now().Add(opts.Timeout)
	}

	interval := opts.CheckInterval
	lastStatus := StatusSubmitted

	for {
		info, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			return JobInfo{}, err
		}
		lastStatus = info.Status
		metrics.IncCounter(metrics.MetricJobPollsTotal, 1, metrics.Labels{"status": string(info.Status)})

		switch info.Status {
		case StatusSucceeded:
			opts.Logger.Info("matching_job_success",
				"job_id", jobID,
				"output_location", info.OutputLocation,
				"input_records", info.Statistics.InputRecords,
				"matched_records", info.Statistics.MatchedRecords,
			)
			return info, nil

		case StatusFailed, StatusCancelled:
			err := &JobFailedError{JobID: jobID, Status: info.Status, Errors: info.Errors}
			opts.Logger.Error("matching_job_terminal_failure",
				"job_id", jobID, "status", string(info.Status), "error", err.Error())
			return JobInfo{}, err
		}

		if !deadline.IsZero() && !opts.now().Add(interval).Before(deadline) {
			return JobInfo{}, &DeadlineError{JobID: jobID, LastStatus: lastStatus}
		}

		opts.Logger.Debug("matching_job_poll",
			"job_id", jobID, "status", string(info.Status), "next_check_in", interval.String())

		if err := opts.sleep(ctx, interval); err != nil {
			return JobInfo{}, err
		}

		interval = time.Duration(float64(interval) * opts.Multiplier)
		if interval > opts.MaxInterval {
			interval = opts.MaxInterval
		}
	}
}
