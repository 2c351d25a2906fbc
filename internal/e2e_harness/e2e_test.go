package e2e_harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lychee-technology/bulkingest"
	"github.com/lychee-technology/bulkingest/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE2EPostgresBatchWithS3Locations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	h := &TestHarness{}

	dsn, err := h.StartPostgres(ctx)
	if err != nil {
		t.Skipf("start postgres: %v", err)
	}
	defer h.StopPostgres(ctx)

	endpoint, err := h.StartS3(ctx)
	if err != nil {
		t.Skipf("start minio: %v", err)
	}
	defer h.StopS3(ctx)

	require.NoError(t, UploadToS3(ctx, endpoint, S3AccessKey, S3SecretKey, "masters", "objects/page-1.tif", []byte("tiff")))

	dir := t.TempDir()
	seedPath, err := WriteSeedFile(dir)
	require.NoError(t, err)

	cfg := bulkingest.DefaultConfig()
	cfg.Storage.Backend = bulkingest.BackendPostgres
	cfg.Storage.SeedFile = seedPath
	cfg.Database.URL = dsn
	cfg.AWS = bulkingest.AWSConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     S3AccessKey,
		SecretAccessKey: S3SecretKey,
		UsePathStyle:    true,
	}
	cfg.Files.VerifyLocations = true
	cfg.Report.Output = filepath.Join(dir, "report.json")
	cfg.Metrics.TextfilePath = filepath.Join(dir, "bulkingest.prom")

	ing, err := factory.NewIngestor(ctx, cfg, factory.Options{})
	require.NoError(t, err)
	defer ing.Close()

	batchPath, err := WriteBatchFile(dir, []bulkingest.OperationSpec{
		{Op: "create_node", TempID: "coll", Title: "Postcards", ModelUUID: ModelCollectionUUID},
		{Op: "create_node", TempID: "obj", Title: "Postcard 1", PID: "pc:1", ModelUUID: ModelImageUUID, ParentTempID: "coll"},
		{Op: "create_file", TempID: "f1", Filename: "page-1.tif", URI: "s3://masters/objects/page-1.tif", FileMime: "image/tiff"},
		{Op: "create_file", TempID: "f2", Filename: "missing.tif", URI: "s3://masters/objects/missing.tif", FileMime: "image/tiff"},
		{Op: "create_media", TempID: "m1", Bundle: "image", Name: "page-1.tif", MediaUseUUID: MediaUseOriginal,
			FileTempID: "f1", NodeTempID: "obj", RelationField: "field_media_image"},
		{Op: "update_node", TempID: "obj", Title: "Postcard 1 (front)", PID: "pc:1", ModelUUID: ModelImageUUID},
	})
	require.NoError(t, err)

	report, err := ing.Ingest(ctx, batchPath)
	require.NoError(t, err)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "create_file", report.Errors[0].Op)
	assert.Equal(t, "f2", report.Errors[0].TempID)
	assert.Contains(t, report.Errors[0].Message, "file location not found")

	require.Len(t, report.Processed, 5)
	assert.Equal(t, 6, report.Stats.TotalOperations)
	assert.Equal(t, 2, report.Stats.CreateFile.Count)

	nodes, err := CountRows(ctx, h.PGDB, "entities", bulkingest.EntityTypeNode)
	require.NoError(t, err)
	assert.Equal(t, 2, nodes)

	revisions, err := CountRows(ctx, h.PGDB, "entity_revisions", "")
	require.NoError(t, err)
	assert.Equal(t, 3, revisions, "two node creates plus one update")

	data, err := os.ReadFile(cfg.Report.Output)
	require.NoError(t, err)
	var written bulkingest.Report
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, report.Stats.TotalOperations, written.Stats.TotalOperations)

	metrics, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `bulkingest_operations_total{op="create_file",outcome="error"} 1`)
}
