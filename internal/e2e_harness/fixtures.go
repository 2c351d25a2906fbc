package e2e_harness

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/bulkingest"
	"gopkg.in/yaml.v3"
)

// Well-known taxonomy terms loaded by WriteSeedFile.
const (
	ModelImageUUID      = "0c4f4c3b-8f3a-4ad4-a2bb-6b1b5e0b7a01"
	ModelCollectionUUID = "0c4f4c3b-8f3a-4ad4-a2bb-6b1b5e0b7a02"
	MediaUseOriginal    = "0c4f4c3b-8f3a-4ad4-a2bb-6b1b5e0b7a03"
)

// WriteSeedFile writes a seed file with the model and media-use terms used by
// the E2E batches and returns its path.
func WriteSeedFile(dir string) (string, error) {
	doc := map[string][]bulkingest.SeedRecord{
		"records": {
			{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: ModelImageUUID, Bundle: "islandora_models", Fields: bulkingest.Fields{"name": "Image"}},
			{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: ModelCollectionUUID, Bundle: "islandora_models", Fields: bulkingest.Fields{"name": "Collection"}},
			{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: MediaUseOriginal, Bundle: "islandora_media_use", Fields: bulkingest.Fields{"name": "Original File"}},
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode seed file: %w", err)
	}
	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write seed file: %w", err)
	}
	return path, nil
}

// WriteBatchFile writes ops as a JSON batch description and returns its path.
func WriteBatchFile(dir string, ops []bulkingest.OperationSpec) (string, error) {
	data, err := json.MarshalIndent(bulkingest.BatchDocument{Operations: ops}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}
	path := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write batch: %w", err)
	}
	return path, nil
}

// CountRows returns the number of rows of table matching entity_type, or all
// rows when entityType is empty.
func CountRows(ctx context.Context, db *sql.DB, table string, entityType bulkingest.EntityType) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	var args []any
	if entityType != "" {
		query += " WHERE entity_type = $1"
		args = append(args, string(entityType))
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// UploadToS3 creates bucket when missing and stores body under objectName.
func UploadToS3(ctx context.Context, endpoint, accessKey, secretKey, bucket, objectName string, body []byte) error {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion("us-east-1"), // region required by SDK; endpoint will be used for custom endpoints like MinIO
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, cerr := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); cerr != nil {
			var apiErr smithy.APIError
			if !errors.As(cerr, &apiErr) {
				return fmt.Errorf("create bucket: %w", cerr)
			}
			code := apiErr.ErrorCode()
			if code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return fmt.Errorf("create bucket: %w", cerr)
			}
		}
	}

	uploader := manager.NewUploader(s3Client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}
