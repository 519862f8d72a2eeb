// Package config builds the immutable Settings value object for a pipeline run.
//
// Settings are constructed exactly once at process start and passed by
// parameter to every component constructor. Nothing in this repository reads
// configuration from globals after startup, which keeps tests hermetic.
//
// Source precedence: environment variables > YAML config file > defaults.
// An optional .env file (godotenv) is loaded into the environment first, and
// the Snowflake password can be resolved from AWS Secrets Manager when it is
// absent from both the environment and the file.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SnowflakeConfig holds connection parameters for one Snowflake account.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Warehouse string `yaml:"warehouse"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Role      string `yaml:"role"`
}

// S3Config identifies the bucket and root prefix the pipeline reads and writes.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// AWSConfig holds region and secret lookup configuration.
type AWSConfig struct {
	Region string `yaml:"region"`

	// SnowflakeSecretName names a Secrets Manager secret holding the
	// Snowflake password. Used only when no password is configured directly.
	SnowflakeSecretName string `yaml:"snowflake_secret_name"`
}

// EntityResolutionConfig references the externally managed matching workflow.
// The workflow and schema are created by infrastructure, never by this code.
type EntityResolutionConfig struct {
	WorkflowName string `yaml:"workflow_name"`
	SchemaName   string `yaml:"schema_name"`

	// EntityAttributes lists the source columns fed into matching. When empty
	// the loader derives target columns from the schema definition instead.
	EntityAttributes []string `yaml:"entity_attributes"`
}

// JournalConfig locates the local run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig selects the metrics backend ("datadog" or "none").
type MetricsConfig struct {
	Backend string `yaml:"backend"`
	Tags    string `yaml:"tags"` // comma-separated extra tags
}

// Settings is the nested configuration value object for one pipeline run.
// Treat it as read-only after Load returns.
type Settings struct {
	AWS              AWSConfig              `yaml:"aws"`
	S3               S3Config               `yaml:"s3"`
	SnowflakeSource  SnowflakeConfig        `yaml:"snowflake_source"`
	SnowflakeTarget  SnowflakeConfig        `yaml:"snowflake_target"`
	EntityResolution EntityResolutionConfig `yaml:"entity_resolution"`
	SourceTable      string                 `yaml:"source_table"`
	TargetTable      string                 `yaml:"target_table"`
	Journal          JournalConfig          `yaml:"journal"`
	Logging          LoggingConfig          `yaml:"logging"`
	Metrics          MetricsConfig          `yaml:"metrics"`
}

// SecretFetcher resolves a named secret to its string value.
// The AWS implementation lives in secrets.go; tests use fakes.
type SecretFetcher interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadOptions controls where Load reads configuration from.
type LoadOptions struct {
	// ConfigFile is an optional YAML file path. Missing file is an error when
	// set explicitly; an empty value skips file loading.
	ConfigFile string

	// EnvFile is an optional dotenv path loaded into the process environment
	// before env overlay. A missing default (".env") is silently skipped.
	EnvFile string

	// Secrets resolves AWS.SnowflakeSecretName when no password is configured.
	// Nil skips secret resolution.
	Secrets SecretFetcher
}

// Load builds Settings with precedence env > file > defaults.
//
// Errors:
//   - unreadable or unparsable config file
//   - explicit EnvFile that does not exist
//   - secret resolution failure when it is actually needed
func Load(ctx context.Context, opts LoadOptions) (*Settings, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", opts.EnvFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// Best-effort default; local dev convenience only.
		_ = godotenv.Load(".env")
	}

	s := defaults()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", opts.ConfigFile, err)
		}
	}

	overlayEnv(s)

	if err := resolvePasswords(ctx, s, opts.Secrets); err != nil {
		return nil, err
	}

	return s, nil
}

func defaults() *Settings {
	return &Settings{
		AWS:     AWSConfig{Region: "us-east-1"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Backend: "none"},
	}
}

// overlayEnv applies environment variables on top of whatever the file set.
func overlayEnv(s *Settings) {
	setEnv(&s.AWS.Region, "AWS_REGION")
	setEnv(&s.AWS.SnowflakeSecretName, "SNOWFLAKE_SECRET_NAME")

	setEnv(&s.S3.Bucket, "S3_BUCKET_NAME")
	setEnv(&s.S3.Prefix, "S3_PREFIX")

	overlaySnowflakeEnv(&s.SnowflakeSource, "SNOWFLAKE_SOURCE")
	overlaySnowflakeEnv(&s.SnowflakeTarget, "SNOWFLAKE_TARGET")

	// A single SNOWFLAKE_PASSWORD covers both connections when the
	// per-connection variables are not set.
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		if s.SnowflakeSource.Password == "" {
			s.SnowflakeSource.Password = v
		}
		if s.SnowflakeTarget.Password == "" {
			s.SnowflakeTarget.Password = v
		}
	}

	setEnv(&s.EntityResolution.WorkflowName, "ER_WORKFLOW_NAME")
	setEnv(&s.EntityResolution.SchemaName, "ER_SCHEMA_NAME")
	if v := os.Getenv("ER_ENTITY_ATTRIBUTES"); v != "" {
		s.EntityResolution.EntityAttributes = splitCSV(v)
	}

	setEnv(&s.SourceTable, "SOURCE_TABLE")
	setEnv(&s.TargetTable, "TARGET_TABLE")

	setEnv(&s.Journal.Path, "JOURNAL_PATH")
	setEnv(&s.Logging.Level, "LOG_LEVEL")
	setEnv(&s.Logging.Format, "LOG_FORMAT")
	setEnv(&s.Metrics.Backend, "METRICS_BACKEND")
	setEnv(&s.Metrics.Tags, "METRICS_TAGS")
}

func overlaySnowflakeEnv(c *SnowflakeConfig, prefix string) {
	setEnv(&c.Account, prefix+"_ACCOUNT")
	setEnv(&c.Username, prefix+"_USERNAME")
	setEnv(&c.Password, prefix+"_PASSWORD")
	setEnv(&c.Warehouse, prefix+"_WAREHOUSE")
	setEnv(&c.Database, prefix+"_DATABASE")
	setEnv(&c.Schema, prefix+"_SCHEMA")
	setEnv(&c.Role, prefix+"_ROLE")
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolvePasswords fetches the Snowflake password from Secrets Manager when
// neither env nor file provided one. The secret is fetched once and applied
// to whichever connection is missing a password.
func resolvePasswords(ctx context.Context, s *Settings, secrets SecretFetcher) error {
	if s.SnowflakeSource.Password != "" && s.SnowflakeTarget.Password != "" {
		return nil
	}
	if secrets == nil || s.AWS.SnowflakeSecretName == "" {
		return nil // validation reports the missing password per stage
	}

	v, err := secrets.GetSecret(ctx, s.AWS.SnowflakeSecretName)
	if err != nil {
		return fmt.Errorf("config: resolve secret %s: %w", s.AWS.SnowflakeSecretName, err)
	}
	if s.SnowflakeSource.Password == "" {
		s.SnowflakeSource.Password = v
	}
	if s.SnowflakeTarget.Password == "" {
		s.SnowflakeTarget.Password = v
	}
	return nil
}
