package config

import "fmt"

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted location inside Settings
// so operators can map the message back to an env var or YAML key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Stage names the pipeline stage being validated. Each stage only requires the
// settings it actually touches, so `extract run` works without a target table.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageProcess  Stage = "process"
	StageLoad     Stage = "load"
	StagePipeline Stage = "pipeline"
)

// Validate checks Settings for the given stage and returns all findings.
// Configuration problems surface here, before any external call is made.
func Validate(s *Settings, stage Stage) []Issue {
	var issues []Issue

	requireString := func(path, v string) {
		if v == "" {
			issues = append(issues, Issue{SeverityError, path, "required value is missing"})
		}
	}

	requireString("aws.region", s.AWS.Region)
	requireString("s3.bucket", s.S3.Bucket)

	if s.S3.Prefix == "" {
		issues = append(issues, Issue{SeverityWarning, "s3.prefix", "empty prefix: objects are written to the bucket root"})
	}

	snowflake := func(path string, c SnowflakeConfig, secretOK bool) {
		requireString(path+".account", c.Account)
		requireString(path+".username", c.Username)
		requireString(path+".warehouse", c.Warehouse)
		requireString(path+".database", c.Database)
		requireString(path+".schema", c.Schema)
		if c.Password == "" {
			if secretOK {
				issues = append(issues, Issue{SeverityWarning, path + ".password", "no password configured; will rely on Secrets Manager at connect time"})
			} else {
				issues = append(issues, Issue{SeverityError, path + ".password", "no password configured and no snowflake_secret_name set"})
			}
		}
	}

	secretOK := s.AWS.SnowflakeSecretName != ""

	switch stage {
	case StageExtract:
		snowflake("snowflake_source", s.SnowflakeSource, secretOK)
		requireString("source_table", s.SourceTable)

	case StageProcess:
		requireString("entity_resolution.workflow_name", s.EntityResolution.WorkflowName)

	case StageLoad:
		snowflake("snowflake_target", s.SnowflakeTarget, secretOK)
		requireString("target_table", s.TargetTable)
		if s.EntityResolution.SchemaName == "" && len(s.EntityResolution.EntityAttributes) == 0 {
			issues = append(issues, Issue{SeverityError, "entity_resolution",
				"either schema_name or entity_attributes must be set to derive target columns"})
		}

	case StagePipeline:
		issues = append(issues, Validate(s, StageExtract)...)
		issues = append(issues, Validate(s, StageProcess)...)
		issues = append(issues, Validate(s, StageLoad)...)
		return dedupeIssues(issues)
	}

	return issues
}

// HasError reports whether any issue is fatal.
func HasError(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// dedupeIssues drops repeated findings produced by the pipeline stage, which
// re-runs the per-stage validators over shared settings (aws.region etc).
func dedupeIssues(issues []Issue) []Issue {
	seen := make(map[Issue]struct{}, len(issues))
	out := issues[:0]
	for _, i := range issues {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}
