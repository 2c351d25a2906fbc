package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/bulkingest"
)

type s3HeadBucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ValidateS3Config performs basic sanity checks on the S3-related settings
// needed to write a report to an s3:// destination.
func ValidateS3Config(cfg bulkingest.AWSConfig) error {
	if cfg.Region == "" && cfg.Endpoint == "" {
		return fmt.Errorf("s3: aws.region or aws.endpoint is required")
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey == "" {
		return fmt.Errorf("accessKeyId provided without secretAccessKey")
	}
	if cfg.SecretAccessKey != "" && cfg.AccessKeyID == "" {
		return fmt.Errorf("secretAccessKey provided without accessKeyId")
	}
	return nil
}

// S3HealthCheck verifies that bucket exists and is reachable with the
// configured credentials. timeout may be 0 to use a default of 5s.
func S3HealthCheck(ctx context.Context, client s3HeadBucketAPI, bucket string, timeout time.Duration) error {
	if bucket == "" {
		return fmt.Errorf("s3 bucket not configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not reachable: %w", bucket, err)
	}
	return nil
}
