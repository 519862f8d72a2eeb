package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hughy603/aws-entityresolution/internal/config"
	"github.com/hughy603/aws-entityresolution/internal/matching"
	"github.com/hughy603/aws-entityresolution/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract entity records from the source Snowflake table to S3",
}

var extractRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the extract stage once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, config.StageExtract)
		if err != nil {
			return err
		}
		defer a.close()

		source := a.sourceWarehouse()
		defer source.Close()

		ext := &pipeline.Extractor{
			Settings: a.settings,
			Source:   source,
			Store:    a.objectStore(),
			Log:      a.log,
		}
		_, err = ext.Run(ctx, rootFlags.dryRun)
		return err
	},
}

var processFlags struct {
	inputURI      string
	outputName    string
	noWait        bool
	checkInterval time.Duration
	timeout       time.Duration
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Submit a matching job for the latest extracted data",
}

var processRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the process stage once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, config.StageProcess)
		if err != nil {
			return err
		}
		defer a.close()

		proc := &pipeline.Processor{
			Settings: a.settings,
			Store:    a.objectStore(),
			Matcher:  a.matcher(),
			Journal:  a.runJournal(),
			Log:      a.log,
			Wait: matching.WaitOptions{
				CheckInterval: processFlags.checkInterval,
				Timeout:       processFlags.timeout,
			},
		}
		_, err = proc.Run(ctx, pipeline.ProcessOptions{
			RunID:      uuid.NewString(),
			DryRun:     rootFlags.dryRun,
			InputURI:   processFlags.inputURI,
			NoWait:     processFlags.noWait,
			OutputName: processFlags.outputName,
		})
		return err
	},
}

var loadFlags struct {
	s3Path string
	table  string
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load matched output from S3 into the target Snowflake table",
}

var loadRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the load stage once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, config.StageLoad)
		if err != nil {
			return err
		}
		defer a.close()

		target := a.targetWarehouse()
		defer target.Close()

		ldr := &pipeline.Loader{
			Settings:  a.settings,
			Store:     a.objectStore(),
			Warehouse: target,
			Schema:    a.matcher(),
			Log:       a.log,
		}
		_, err = ldr.Run(ctx, pipeline.LoadOptions{
			DryRun:      rootFlags.dryRun,
			S3Path:      loadFlags.s3Path,
			TargetTable: loadFlags.table,
		})
		return err
	},
}

var runPipelineFlags struct {
	checkInterval time.Duration
	timeout       time.Duration
}

var runPipelineCmd = &cobra.Command{
	Use:   "run-pipeline",
	Short: "Run extract, process and load end to end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, config.StagePipeline)
		if err != nil {
			return err
		}
		defer a.close()

		source := a.sourceWarehouse()
		defer source.Close()
		target := a.targetWarehouse()
		defer target.Close()

		store := a.objectStore()
		matcher := a.matcher()

		runner := &pipeline.Runner{
			Extract: &pipeline.Extractor{
				Settings: a.settings,
				Source:   source,
				Store:    store,
				Log:      a.log,
			},
			Process: &pipeline.Processor{
				Settings: a.settings,
				Store:    store,
				Matcher:  matcher,
				Journal:  a.runJournal(),
				Log:      a.log,
				Wait: matching.WaitOptions{
					CheckInterval: runPipelineFlags.checkInterval,
					Timeout:       runPipelineFlags.timeout,
				},
			},
			Load: &pipeline.Loader{
				Settings:  a.settings,
				Store:     store,
				Warehouse: target,
				Schema:    matcher,
				Log:       a.log,
			},
			Journal: a.runJournal(),
			Log:     a.log,
		}

		_, err = runner.Run(ctx, rootFlags.dryRun)
		return err
	},
}

// runJournal avoids handing a typed nil *journal.Journal to the pipeline,
// which would defeat its nil-journal check.
func (a *app) runJournal() pipeline.RunJournal {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

func init() {
	extractCmd.AddCommand(extractRunCmd)

	processRunCmd.Flags().StringVar(&processFlags.inputURI, "input-uri", "", "s3 URI of the input object (default: latest under the configured prefix)")
	processRunCmd.Flags().StringVar(&processFlags.outputName, "output-name", "", "output prefix segment (default: current UTC timestamp)")
	processRunCmd.Flags().BoolVar(&processFlags.noWait, "no-wait", false, "submit the job and return without waiting for completion")
	processRunCmd.Flags().DurationVar(&processFlags.checkInterval, "check-interval", 0, "initial poll interval (default 30s)")
	processRunCmd.Flags().DurationVar(&processFlags.timeout, "timeout", 0, "abort waiting after this duration (default: no limit)")
	processCmd.AddCommand(processRunCmd)

	loadRunCmd.Flags().StringVar(&loadFlags.s3Path, "s3-path", "", "object or s3 URI to load (default: latest under the output prefix)")
	loadRunCmd.Flags().StringVar(&loadFlags.table, "table", "", "target table name (default: configured target_table)")
	loadCmd.AddCommand(loadRunCmd)

	runPipelineCmd.Flags().DurationVar(&runPipelineFlags.checkInterval, "check-interval", 0, "initial poll interval (default 30s)")
	runPipelineCmd.Flags().DurationVar(&runPipelineFlags.timeout, "timeout", 0, "abort waiting after this duration (default: no limit)")

	rootCmd.AddCommand(extractCmd, processCmd, loadCmd, runPipelineCmd)
}
