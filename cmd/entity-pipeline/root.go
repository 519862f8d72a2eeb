package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/entityresolution"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/cobra"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/journal"
	"github.com/hughy603/aws-entityresolution/internal/logging"
	"github.com/hughy603/aws-entityresolution/internal/matching/entityres"
	"github.com/hughy603/aws-entityresolution/internal/metrics"
	"github.com/hughy603/aws-entityresolution/internal/metrics/datadog"
	"github.com/hughy603/aws-entityresolution/internal/storage/s3"
	"github.com/hughy603/aws-entityresolution/internal/warehouse"
)

var rootFlags struct {
	configFile     string
	envFile        string
	logLevel       string
	logFormat      string
	metricsBackend string
	dryRun         bool
}

var rootCmd = &cobra.Command{
	Use:           "entity-pipeline",
	Short:         "Snowflake to AWS Entity Resolution ETL pipeline",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configFile, "config", "", "YAML config file path")
	pf.StringVar(&rootFlags.envFile, "env-file", "", "dotenv file loaded before reading the environment")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "log format (console, json)")
	pf.StringVar(&rootFlags.metricsBackend, "metrics-backend", "", "metrics backend (datadog, none)")
	pf.BoolVar(&rootFlags.dryRun, "dry-run", false, "validate and log what would happen without touching external services")
}

// app is the assembled runtime for one command invocation: settings, logger,
// metrics backend and AWS clients, plus the closers to run on the way out.
type app struct {
	settings *config.Settings
	log      *slog.Logger
	journal  *journal.Journal // nil when no journal path is configured

	erClient *entityresolution.Client
	s3Client *awss3.Client

	closers []func()
}

// newApp loads and validates settings for stage, then builds the shared
// runtime. Validation findings print to stderr; any error-severity finding
// aborts before a single external call is made.
func newApp(ctx context.Context, stage config.Stage) (*app, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	settings, err := config.Load(ctx, config.LoadOptions{
		ConfigFile: rootFlags.configFile,
		EnvFile:    rootFlags.envFile,
		Secrets:    config.NewAWSSecrets(secretsmanager.NewFromConfig(awsCfg)),
	})
	if err != nil {
		return nil, err
	}

	// Flags win over env and file.
	if rootFlags.logLevel != "" {
		settings.Logging.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		settings.Logging.Format = rootFlags.logFormat
	}
	if rootFlags.metricsBackend != "" {
		settings.Metrics.Backend = rootFlags.metricsBackend
	}

	issues := config.Validate(settings, stage)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasError(issues) {
		return nil, fmt.Errorf("configuration is invalid for stage %s", stage)
	}

	if settings.AWS.Region != "" && settings.AWS.Region != awsCfg.Region {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(settings.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("aws config (region %s): %w", settings.AWS.Region, err)
		}
	}

	a := &app{
		settings: settings,
		log: logging.New(logging.Config{
			Level:  settings.Logging.Level,
			Format: settings.Logging.Format,
		}),
		erClient: entityresolution.NewFromConfig(awsCfg),
		s3Client: awss3.NewFromConfig(awsCfg),
	}

	a.initMetrics(ctx)

	if settings.Journal.Path != "" {
		j, err := journal.Open(ctx, settings.Journal.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = j
		a.closers = append(a.closers, func() {
			if err := j.Close(); err != nil {
				a.log.Warn("journal_close_failed", "error", err)
			}
		})
	}

	return a, nil
}

// initMetrics selects the metrics backend: flag, env, then config default.
// A backend that fails to initialize logs a warning and leaves the nop
// backend in place; metrics never block the pipeline.
func (a *app) initMetrics(ctx context.Context) {
	switch a.settings.Metrics.Backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			Tags:       datadog.ParseTagsCSV(a.settings.Metrics.Tags),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			a.log.Warn("metrics_init_failed", "backend", "datadog", "error", err)
			return
		}
		metrics.SetBackend(b)
		a.closers = append(a.closers, func() {
			if err := b.Close(); err != nil {
				a.log.Warn("metrics_flush_failed", "error", err)
			}
		})

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		a.log.Warn("metrics_unknown_backend", "backend", a.settings.Metrics.Backend)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) objectStore() *s3.Store {
	return s3.New(a.s3Client, a.settings.S3.Bucket)
}

func (a *app) matcher() *entityres.Client {
	return entityres.New(a.erClient, a.settings.EntityResolution.WorkflowName)
}

func (a *app) sourceWarehouse() *warehouse.Service {
	return warehouse.New(a.settings.SnowflakeSource, a.log)
}

func (a *app) targetWarehouse() *warehouse.Service {
	return warehouse.New(a.settings.SnowflakeTarget, a.log)
}
