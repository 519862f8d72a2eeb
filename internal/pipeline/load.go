package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/matching"
	"github.com/hughy603/aws-entityresolution/internal/metrics"
	"github.com/hughy603/aws-entityresolution/internal/records"
	"github.com/hughy603/aws-entityresolution/internal/storage"
	"github.com/hughy603/aws-entityresolution/internal/warehouse"
)

// Loader materializes a matching job's output into the target warehouse
// table, upserting on ID.
type Loader struct {
	Settings  *config.Settings
	Store     storage.ObjectStore
	Warehouse TargetLoader
	Schema    matching.SchemaProvider // used when no entity attributes are configured
	Log       *slog.Logger
}

// LoadOptions carries per-invocation overrides.
type LoadOptions struct {
	DryRun bool

	// S3Path points at the output object or location to load. Empty means
	// "latest object under the output prefix".
	S3Path string

	// TargetTable overrides Settings.TargetTable.
	TargetTable string
}

// Run executes the load stage. Single error boundary: database and decode
// errors become a failed result here, not deeper in the call tree.
func (l *Loader) Run(ctx context.Context, opts LoadOptions) (LoadingResult, error) {
	start := time.Now()
	log := l.logger()

	table := opts.TargetTable
	if table == "" {
		table = l.Settings.TargetTable
	}
	qualified := warehouse.QualifiedTable(
		l.Settings.SnowflakeTarget.Database, l.Settings.SnowflakeTarget.Schema, table)

	if opts.DryRun {
		log.Info("load_dry_run", "table", qualified)
		return LoadingResult{Success: true, DryRun: true, TargetTable: table, Duration: time.Since(start)}, nil
	}

	res, err := l.run(ctx, opts, qualified, log)
	res.TargetTable = table
	res.Duration = time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		res.Success = false
		res.ErrorMessage = err.Error()
		log.Error("load_failed", "table", table, "error", err)
	}
	metrics.ObserveStage("load", status, res.Duration)
	metrics.CountRecords("loaded", res.RecordsLoaded)

	return res, err
}

func (l *Loader) run(ctx context.Context, opts LoadOptions, table string, log *slog.Logger) (LoadingResult, error) {
	key, ok, err := l.resolveKey(ctx, opts.S3Path)
	if err != nil {
		return LoadingResult{}, err
	}
	if !ok {
		location := opts.S3Path
		if location == "" {
			location = l.Settings.S3.Prefix + "output/"
		}
		log.Info("no_output_data", "location", location)
		return LoadingResult{Success: true}, nil
	}

	attrs, err := l.schemaAttributes(ctx)
	if err != nil {
		return LoadingResult{}, err
	}

	if err := l.Warehouse.EnsureTargetTable(ctx, table, attrs); err != nil {
		return LoadingResult{}, err
	}

	data, err := l.Store.Read(ctx, key)
	if err != nil {
		return LoadingResult{}, fmt.Errorf("read matched output %s: %w", key, err)
	}

	recs, err := records.DecodeBytes(data)
	if err != nil {
		return LoadingResult{}, fmt.Errorf("decode matched output %s: %w", key, err)
	}

	stats, err := l.Warehouse.LoadMatchedRecords(ctx, table, recs)
	if err != nil {
		return LoadingResult{}, err
	}

	return LoadingResult{
		Success:        true,
		RecordsLoaded:  stats.Loaded,
		DroppedColumns: stats.DroppedColumns,
	}, nil
}

// resolveKey turns the configured location into a bucket-relative object key.
//
// Matching jobs report the output location they were configured with, a
// folder the service writes its result files under, never the result object
// itself. Anything that does not name a concrete .json object is therefore
// treated as a prefix and searched for the newest file beneath it. With no
// explicit path at all, the newest object under the conventional output
// prefix wins. "Nothing there" is ok=false, not an error.
func (l *Loader) resolveKey(ctx context.Context, s3Path string) (string, bool, error) {
	if s3Path == "" {
		key, ok, err := storage.FindLatestPath(ctx, l.Store, l.Settings.S3.Prefix+"output/", "")
		if err != nil {
			return "", false, fmt.Errorf("locate latest output: %w", err)
		}
		return key, ok, nil
	}

	key := keyFromLocation(s3Path, l.Settings.S3.Bucket)
	if strings.HasSuffix(key, ".json") {
		return key, true, nil
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	found, ok, err := storage.FindLatestPath(ctx, l.Store, key, "")
	if err != nil {
		return "", false, fmt.Errorf("locate output under %s: %w", s3Path, err)
	}
	return found, ok, nil
}

// keyFromLocation strips an s3://bucket/ prefix from loc when present.
// Matching jobs report output locations in both full-URI and key-only forms.
func keyFromLocation(loc, bucket string) string {
	if !strings.HasPrefix(loc, "s3://") {
		return loc
	}
	rest := strings.TrimPrefix(loc, "s3://")
	if b, key, found := strings.Cut(rest, "/"); found && b == bucket {
		return key
	}
	return rest
}

// schemaAttributes derives the target column source: explicitly configured
// attributes win, otherwise the matching schema definition is fetched.
func (l *Loader) schemaAttributes(ctx context.Context) ([]matching.SchemaAttribute, error) {
	er := l.Settings.EntityResolution

	if len(er.EntityAttributes) > 0 {
		attrs := make([]matching.SchemaAttribute, 0, len(er.EntityAttributes))
		for _, name := range er.EntityAttributes {
			attrs = append(attrs, matching.SchemaAttribute{Name: name, Type: "STRING"})
		}
		return attrs, nil
	}

	if l.Schema == nil || er.SchemaName == "" {
		return nil, fmt.Errorf("no entity attributes configured and no schema to fetch them from")
	}

	attrs, err := l.Schema.GetSchema(ctx, er.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("fetch matching schema %s: %w", er.SchemaName, err)
	}
	return attrs, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.New(slog.DiscardHandler)
}
