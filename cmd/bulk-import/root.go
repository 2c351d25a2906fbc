package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lychee-technology/bulkingest"
	"github.com/lychee-technology/bulkingest/factory"
	"github.com/lychee-technology/bulkingest/internal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath      string
	backend         string
	dryRun          bool
	reportOut       string
	metricsTextfile string
	verbose         bool
	failOnErrors    bool
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "bulk-import <batch-file>",
		Short: "Create and update repository records from a batch description",
		Long: `bulk-import executes the operations of a JSON or YAML batch description in order,
resolving temp_id references between them, and prints a JSON execution report.
A failing operation is recorded in the report and does not stop the batch.
Use "-" to read the batch from standard input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts, args[0])
		},
	}

	addCommonFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Keep all writes in memory; nothing is persisted")
	cmd.Flags().StringVar(&opts.reportOut, "report-out", "", "Report destination: - (stdout), a file path, or s3://bucket/key")
	cmd.Flags().StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this textfile after the run")
	cmd.Flags().BoolVar(&opts.failOnErrors, "fail-on-errors", false, "Exit with code 2 when any operation failed")

	cmd.AddCommand(newMigrateCmd(&opts))
	return cmd
}

func addCommonFlags(cmd *cobra.Command, opts *rootOptions) {
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Storage backend: memory, sqlite or postgres")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured SQL store and load its seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, closer, err := setup(*opts)
			if err != nil {
				return err
			}
			defer closer.Close()
			return factory.Migrate(cmd.Context(), config)
		},
	}
}

// setup loads configuration, applies flag overrides and installs the global logger.
func setup(opts rootOptions) (*bulkingest.Config, io.Closer, error) {
	config, err := bulkingest.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.backend != "" {
		config.Storage.Backend = opts.backend
	}
	if opts.reportOut != "" {
		config.Report.Output = opts.reportOut
	}
	if opts.metricsTextfile != "" {
		config.Metrics.Enabled = true
		config.Metrics.TextfilePath = opts.metricsTextfile
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	logger, closer, err := internal.NewLogger(config.Logging, opts.verbose)
	if err != nil {
		return nil, nil, &bulkingest.ConfigError{Field: "logging.level", Message: err.Error()}
	}
	zap.ReplaceGlobals(logger)
	return config, closer, nil
}

func runImport(ctx context.Context, opts rootOptions, batchPath string) error {
	config, closer, err := setup(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	ing, err := factory.NewIngestor(ctx, config, factory.Options{DryRun: opts.dryRun})
	if err != nil {
		return err
	}
	defer ing.Close()

	report, err := ing.Ingest(ctx, batchPath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return withCode(exitInterrupted, fmt.Errorf("interrupted: %w", err))
		}
		return err
	}

	zap.S().Infow("import finished",
		"processed", len(report.Processed),
		"errors", len(report.Errors),
		"dryRun", opts.dryRun,
	)
	if opts.failOnErrors && !report.Succeeded() {
		return withCode(exitOpErrors, fmt.Errorf("%d operation(s) failed", len(report.Errors)))
	}
	return nil
}
