// Package matching drives one Entity Resolution matching job from submission
// to a terminal state.
//
// The external workflow (schema + rules) is managed by infrastructure; this
// package only references it by name. The orchestrator re-reads job status
// but never writes it; a job mutates only on the service side.
package matching

import (
	"context"
	"fmt"
)

// Status is the lifecycle state of a matching job.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the job will not transition further.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Statistics are the record counts the service reports for a finished job.
type Statistics struct {
	InputRecords   int
	MatchedRecords int
}

// JobInfo is one observation of a matching job.
//
// OutputLocation is set only once the job has SUCCEEDED; Errors is populated
// on FAILED.
type JobInfo struct {
	JobID          string
	Status         Status
	OutputLocation string
	Statistics     Statistics
	Errors         []string
}

// StartJobRequest names the workflow and the locations travelling with the
// run. Entity Resolution binds input and output locations on the workflow
// definition itself; InputURI and OutputPrefix are carried for journaling and
// result reporting.
type StartJobRequest struct {
	WorkflowName string
	InputURI     string
	OutputPrefix string
}

// Client is the narrow contract against the matching service. The AWS
// implementation lives in matching/entityres; tests use fakes.
type Client interface {
	// StartMatchingJob submits one job and returns its id synchronously.
	// Submission is fail-fast: no retry, no idempotency key. A transient
	// submission error must surface to the caller rather than risk a
	// duplicate job.
	StartMatchingJob(ctx context.Context, req StartJobRequest) (string, error)

	// GetJobStatus returns the current observation of the job.
	GetJobStatus(ctx context.Context, jobID string) (JobInfo, error)
}

// JobFailedError reports a job that reached FAILED or CANCELLED. It carries
// the first service-reported error message, or a generic message when the
// service reports none.
type JobFailedError struct {
	JobID  string
	Status Status
	Errors []string
}

func (e *JobFailedError) Error() string {
	if e.Status == StatusCancelled {
		return fmt.Sprintf("matching job %s was cancelled", e.JobID)
	}
	msg := "unknown error"
	if len(e.Errors) > 0 && e.Errors[0] != "" {
		msg = e.Errors[0]
	}
	return fmt.Sprintf("matching job %s failed: %s", e.JobID, msg)
}

// DeadlineError reports that the wait loop gave up before the job reached a
// terminal state. The job keeps running on the service side.
type DeadlineError struct {
	JobID      string
	LastStatus Status
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("timed out waiting for matching job %s (last status %s)", e.JobID, e.LastStatus)
}
