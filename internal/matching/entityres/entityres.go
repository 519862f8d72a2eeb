// Package entityres implements matching.Client and matching.SchemaProvider on
// AWS Entity Resolution.
package entityres

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/entityresolution"
	"github.com/aws/aws-sdk-go-v2/service/entityresolution/types"

	"github.com/hughy603/aws-entityresolution/internal/matching"
)

// api is the slice of the Entity Resolution SDK surface this package uses.
type api interface {
	StartMatchingJob(ctx context.Context, params *entityresolution.StartMatchingJobInput, optFns ...func(*entityresolution.Options)) (*entityresolution.StartMatchingJobOutput, error)
	GetMatchingJob(ctx context.Context, params *entityresolution.GetMatchingJobInput, optFns ...func(*entityresolution.Options)) (*entityresolution.GetMatchingJobOutput, error)
	GetSchemaMapping(ctx context.Context, params *entityresolution.GetSchemaMappingInput, optFns ...func(*entityresolution.Options)) (*entityresolution.GetSchemaMappingOutput, error)
}

// Client drives matching jobs for one workflow.
//
// GetMatchingJob requires the workflow name alongside the job id, so the
// workflow is bound at construction rather than passed per call.
type Client struct {
	api          api
	workflowName string
}

// New wraps an already-configured Entity Resolution client.
func New(client *entityresolution.Client, workflowName string) *Client {
	return &Client{api: client, workflowName: workflowName}
}

// StartMatchingJob submits one job for the bound workflow.
//
// Input and output S3 locations live on the workflow definition, not on the
// submission; req.InputURI and req.OutputPrefix travel with the run for
// journaling only. Submission errors propagate immediately without retry,
// since a blind retry after a transient error could start a duplicate job.
func (c *Client) StartMatchingJob(ctx context.Context, req matching.StartJobRequest) (string, error) {
	workflow := req.WorkflowName
	if workflow == "" {
		workflow = c.workflowName
	}

	out, err := c.api.StartMatchingJob(ctx, &entityresolution.StartMatchingJobInput{
		WorkflowName: aws.String(workflow),
	})
	if err != nil {
		return "", fmt.Errorf("start matching job (workflow %s): %w", workflow, err)
	}
	jobID := aws.ToString(out.JobId)
	if jobID == "" {
		return "", fmt.Errorf("start matching job (workflow %s): service returned empty job id", workflow)
	}
	return jobID, nil
}

// GetJobStatus maps one GetMatchingJob observation into matching.JobInfo.
//
// The output location is taken from the job's output-source config; the first
// configured output path wins (workflows here configure exactly one).
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (matching.JobInfo, error) {
	out, err := c.api.GetMatchingJob(ctx, &entityresolution.GetMatchingJobInput{
		JobId:        aws.String(jobID),
		WorkflowName: aws.String(c.workflowName),
	})
	if err != nil {
		return matching.JobInfo{}, fmt.Errorf("get matching job %s: %w", jobID, err)
	}

	info := matching.JobInfo{
		JobID:  jobID,
		Status: mapStatus(out.Status),
	}

	for _, src := range out.OutputSourceConfig {
		if p := aws.ToString(src.OutputS3Path); p != "" {
			info.OutputLocation = p
			break
		}
	}

	if m := out.Metrics; m != nil {
		info.Statistics = matching.Statistics{
			InputRecords:   int(aws.ToInt32(m.InputRecords)),
			MatchedRecords: int(aws.ToInt32(m.MatchIDs)),
		}
	}

	if d := out.ErrorDetails; d != nil {
		if msg := aws.ToString(d.ErrorMessage); msg != "" {
			info.Errors = append(info.Errors, msg)
		}
	}

	return info, nil
}

// mapStatus folds SDK job statuses onto the pipeline's status enum.
// Unknown values pass through unchanged; they are non-terminal, so the wait
// loop keeps polling them until its deadline.
func mapStatus(s types.JobStatus) matching.Status {
	switch strings.ToUpper(string(s)) {
	case "QUEUED", "PENDING", "SUBMITTED":
		return matching.StatusSubmitted
	case "RUNNING", "IN_PROGRESS":
		return matching.StatusRunning
	case "SUCCEEDED":
		return matching.StatusSucceeded
	case "FAILED":
		return matching.StatusFailed
	case "CANCELLED", "CANCELED", "DELETED":
		return matching.StatusCancelled
	default:
		return matching.Status(s)
	}
}

// GetSchema implements matching.SchemaProvider.
func (c *Client) GetSchema(ctx context.Context, schemaName string) ([]matching.SchemaAttribute, error) {
	out, err := c.api.GetSchemaMapping(ctx, &entityresolution.GetSchemaMappingInput{
		SchemaName: aws.String(schemaName),
	})
	if err != nil {
		return nil, fmt.Errorf("get schema mapping %s: %w", schemaName, err)
	}

	attrs := make([]matching.SchemaAttribute, 0, len(out.MappedInputFields))
	for _, f := range out.MappedInputFields {
		attrs = append(attrs, matching.SchemaAttribute{
			Name:     aws.ToString(f.FieldName),
			Type:     string(f.Type),
			SubType:  aws.ToString(f.SubType),
			MatchKey: aws.ToString(f.MatchKey) != "",
		})
	}
	return attrs, nil
}

var (
	_ matching.Client         = (*Client)(nil)
	_ matching.SchemaProvider = (*Client)(nil)
)
