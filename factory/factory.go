package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lychee-technology/bulkingest"
	"github.com/lychee-technology/bulkingest/internal"
	"go.uber.org/zap"
)

// Options adjusts how NewIngestor wires the configured components.
type Options struct {
	// DryRun keeps every write in memory on top of the configured store.
	DryRun bool
}

// Ingestor runs batch files end to end: load, execute, report, metrics.
type Ingestor struct {
	config     *bulkingest.Config
	repository bulkingest.EntityRepository
	loader     *internal.BatchLoader
	runner     bulkingest.BatchRunner
	writer     *internal.ReportWriter
	metrics    *internal.MetricsRecorder
	closers    []func() error
}

// NewIngestor opens the configured store (running migrations and seeding as
// configured) and wires the batch runner around it. Callers must Close it.
//
// Usage:
//
//	config, err := bulkingest.LoadConfig("bulkingest.yaml")
//	ing, err := factory.NewIngestor(ctx, config, factory.Options{})
//	defer ing.Close()
//	report, err := ing.Ingest(ctx, "batch.json")
func NewIngestor(ctx context.Context, config *bulkingest.Config, opts Options) (ing *Ingestor, err error) {
	if config == nil {
		return nil, &bulkingest.ConfigError{Field: "config", Message: "config is required"}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ing = &Ingestor{config: config}
	defer func() {
		if err != nil {
			_ = ing.Close()
		}
	}()

	var awsCfg *aws.Config
	if needsAWS(config) {
		loaded, err := internal.LoadAWSConfig(ctx, config.AWS)
		if err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}

	repository, err := ing.openRepository(ctx, awsCfg, opts.DryRun)
	if err != nil {
		return nil, err
	}
	ing.repository = repository

	ing.loader, err = internal.NewBatchLoader(config.Batch.MaxOperations)
	if err != nil {
		return nil, err
	}

	var s3Client *s3.Client
	if awsCfg != nil {
		s3Client = internal.NewS3Client(*awsCfg, config.AWS)
	}

	runnerOpts := internal.RunnerOptions{
		OverwriteTempIDs: config.Batch.DuplicateTempIDs == bulkingest.DuplicateTempIDsOverwrite,
		NodeBundle:       config.Batch.NodeBundle,
	}
	if config.Files.VerifyLocations {
		checker := internal.NewStreamLocationChecker(config.Files.StreamRoots, nil, config.Files.CheckTimeout)
		if s3Client != nil {
			checker = internal.NewStreamLocationChecker(config.Files.StreamRoots, s3Client, config.Files.CheckTimeout)
		}
		runnerOpts.Locations = checker
	}
	if config.Metrics.Enabled {
		ing.metrics = internal.NewMetricsRecorder(config.Metrics.Namespace)
		runnerOpts.Observer = ing.metrics
	}
	ing.runner = internal.NewRunner(repository, runnerOpts)

	var uploader internal.ReportUploader
	if strings.HasPrefix(config.Report.Output, "s3://") {
		bucket, _, err := internal.ParseS3URL(config.Report.Output)
		if err != nil {
			return nil, &bulkingest.ConfigError{Field: "report.output", Message: err.Error()}
		}
		if err := internal.S3HealthCheck(ctx, s3Client, bucket, 0); err != nil {
			return nil, err
		}
		uploader = manager.NewUploader(s3Client)
	}
	ing.writer = internal.NewReportWriter(nil, uploader)

	return ing, nil
}

func needsAWS(config *bulkingest.Config) bool {
	if config.Storage.Backend == bulkingest.BackendPostgres && config.Database.UseIAM {
		return true
	}
	if strings.HasPrefix(config.Report.Output, "s3://") {
		return true
	}
	return config.Files.VerifyLocations && (config.AWS.Region != "" || config.AWS.Endpoint != "")
}

// schemaChecker is implemented by the SQL stores.
type schemaChecker interface {
	SchemaReady(ctx context.Context) (bool, error)
}

// openRepository opens the configured store. A dry run never migrates or
// seeds it: the store is wrapped in an overlay first and seeds land in the
// overlay's memory layer.
func (ing *Ingestor) openRepository(ctx context.Context, awsCfg *aws.Config, dryRun bool) (bulkingest.EntityRepository, error) {
	config := ing.config
	migrateStore := config.Storage.AutoMigrate && !dryRun

	var repository bulkingest.EntityRepository
	switch config.Storage.Backend {
	case bulkingest.BackendMemory:
		repository = internal.NewMemoryRepository()

	case bulkingest.BackendSQLite:
		if dryRun {
			if _, err := os.Stat(config.SQLite.Path); err != nil {
				return nil, &bulkingest.ConfigError{
					Field:   "sqlite.path",
					Message: fmt.Sprintf("dry run needs an existing database at %s; run 'bulk-import migrate' first", config.SQLite.Path),
				}
			}
		}
		db, err := internal.OpenSQLite(ctx, config.SQLite.Path, config.SQLite.BusyTimeout)
		if err != nil {
			return nil, err
		}
		ing.closers = append(ing.closers, db.Close)
		if migrateStore {
			if err := internal.MigrateSQLite(db); err != nil {
				return nil, err
			}
		}
		repository = internal.NewSQLiteRepository(db)

	case bulkingest.BackendPostgres:
		pool, err := internal.NewPostgresPool(ctx, config.Database, awsCfg)
		if err != nil {
			return nil, err
		}
		ing.closers = append(ing.closers, func() error { pool.Close(); return nil })
		if migrateStore {
			db := stdlib.OpenDBFromPool(pool)
			err := internal.MigratePostgres(db)
			_ = db.Close()
			if err != nil {
				return nil, err
			}
		}
		repository = internal.NewPostgresRepository(pool, internal.DefaultPostgresTables)

	default:
		return nil, &bulkingest.ConfigError{Field: "storage.backend", Message: fmt.Sprintf("unsupported backend %q", config.Storage.Backend)}
	}

	if dryRun {
		if checker, ok := repository.(schemaChecker); ok {
			ready, err := checker.SchemaReady(ctx)
			if err != nil {
				return nil, err
			}
			if !ready {
				return nil, &bulkingest.ConfigError{
					Field:   "storage.autoMigrate",
					Message: "dry run needs a migrated schema; run 'bulk-import migrate' first",
				}
			}
		}
		zap.S().Infow("dry run: writes will not be persisted", "backend", config.Storage.Backend)
		repository = internal.NewOverlayRepository(repository)
	}

	seeder, ok := repository.(bulkingest.Seeder)
	if !ok {
		return nil, fmt.Errorf("%s repository cannot be seeded", config.Storage.Backend)
	}
	if err := internal.SeedRepository(ctx, seeder, config.Storage.SeedFile); err != nil {
		return nil, err
	}
	zap.S().Infow("repository ready", "backend", config.Storage.Backend, "dryRun", dryRun)
	return repository, nil
}

// Migrate applies the schema migrations of the configured SQL store and loads
// storage.seedFile into it. The memory backend has nothing to migrate.
func Migrate(ctx context.Context, config *bulkingest.Config) error {
	if config == nil {
		return &bulkingest.ConfigError{Field: "config", Message: "config is required"}
	}
	if config.Storage.Backend == bulkingest.BackendMemory {
		return &bulkingest.ConfigError{Field: "storage.backend", Message: "the memory backend has no schema to migrate"}
	}

	migrated := *config
	migrated.Storage.AutoMigrate = true
	ing := &Ingestor{config: &migrated}
	defer ing.Close()

	var awsCfg *aws.Config
	if needsAWS(&migrated) {
		loaded, err := internal.LoadAWSConfig(ctx, migrated.AWS)
		if err != nil {
			return err
		}
		awsCfg = &loaded
	}
	if _, err := ing.openRepository(ctx, awsCfg, false); err != nil {
		return err
	}
	zap.S().Infow("migrations applied", "backend", migrated.Storage.Backend)
	return nil
}

// Ingest loads the batch at path, runs it and writes the report. Fatal
// errors (unreadable or malformed batch) are returned before any operation runs.
func (ing *Ingestor) Ingest(ctx context.Context, path string) (*bulkingest.Report, error) {
	batch, err := ing.loader.Load(path)
	if err != nil {
		return nil, err
	}

	report, err := ing.runner.Run(ctx, batch)
	if err != nil {
		return nil, err
	}

	if ing.metrics != nil {
		ing.metrics.ObserveReport(report, time.Now())
		if err := ing.metrics.WriteTextfile(ing.config.Metrics.TextfilePath); err != nil {
			zap.S().Warnw("metrics not written", "error", err)
		}
	}

	if err := ing.writer.Write(ctx, report, ing.config.Report.Output); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

// Repository exposes the store the runner writes to.
func (ing *Ingestor) Repository() bulkingest.EntityRepository {
	return ing.repository
}

// Close releases database handles.
func (ing *Ingestor) Close() error {
	var errs []error
	for i := len(ing.closers) - 1; i >= 0; i-- {
		if err := ing.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	ing.closers = nil
	return errors.Join(errs...)
}
