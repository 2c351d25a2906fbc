package internal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// ErrLocationNotFound is returned by a LocationChecker when nothing exists at a uri.
var ErrLocationNotFound = errors.New("file location not found")

// LocationChecker verifies that a create_file uri points at existing content.
type LocationChecker interface {
	Check(ctx context.Context, uri string) error
}

// s3HeadAPI is the subset of the S3 client used for existence checks.
type s3HeadAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// StreamLocationChecker resolves stream-wrapper uris (public://, private://)
// against configured local roots and s3:// uris against an object store.
type StreamLocationChecker struct {
	roots   map[string]string
	s3      s3HeadAPI
	timeout time.Duration
	breaker *bucketBreaker
}

// NewStreamLocationChecker creates a checker. s3Client may be nil, in which
// case s3:// uris cannot be verified.
func NewStreamLocationChecker(roots map[string]string, s3Client s3HeadAPI, timeout time.Duration) *StreamLocationChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StreamLocationChecker{
		roots:   roots,
		s3:      s3Client,
		timeout: timeout,
		breaker: newBucketBreaker(5, time.Minute, 30*time.Second),
	}
}

// Check returns nil when content exists at uri, an error wrapping
// ErrLocationNotFound when it does not, and any other error when existence
// could not be determined.
func (c *StreamLocationChecker) Check(ctx context.Context, uri string) error {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return fmt.Errorf("uri %q has no scheme", uri)
	}

	if scheme == "s3" {
		return c.checkS3(ctx, rest)
	}

	root, ok := c.roots[scheme]
	if !ok {
		return fmt.Errorf("no stream root configured for scheme %q", scheme)
	}
	return checkLocal(root, rest)
}

func checkLocal(root, rel string) error {
	clean := filepath.Clean("/" + rel)
	path := filepath.Join(root, clean)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrLocationNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLocationNotFound, path)
	}
	return nil
}

func (c *StreamLocationChecker) checkS3(ctx context.Context, rest string) error {
	if c.s3 == nil {
		return fmt.Errorf("s3 location checks are not configured")
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return fmt.Errorf("s3 uri must be s3://bucket/key")
	}
	if until, paused := c.breaker.suspended(bucket); paused {
		return fmt.Errorf("s3 location checks for bucket %s suspended until %s after repeated failures",
			bucket, until.Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		c.breaker.reached(bucket)
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			c.breaker.reached(bucket)
			return fmt.Errorf("%w: s3://%s/%s", ErrLocationNotFound, bucket, key)
		}
	}

	c.breaker.failed(bucket)
	zap.S().Warnw("s3 head object failed", "bucket", bucket, "key", key, "error", err)
	return fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
}

// ParseS3URL splits an s3://bucket/key url.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url has no object key: %s", raw)
	}
	return u.Host, key, nil
}
