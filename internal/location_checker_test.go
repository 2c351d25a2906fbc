package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeadObject struct {
	objects map[string]bool
	err     error
	calls   int
}

func (f *fakeHeadObject) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.objects[*params.Bucket+"/"+*params.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
}

func TestStreamLocationChecker_Local(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pages", "p1.tif"), []byte("II*"), 0o644))

	checker := NewStreamLocationChecker(map[string]string{"public": root}, nil, 0)

	require.NoError(t, checker.Check(ctx, "public://pages/p1.tif"))

	err := checker.Check(ctx, "public://pages/p2.tif")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	err = checker.Check(ctx, "public://pages")
	assert.ErrorIs(t, err, ErrLocationNotFound, "directories are not files")

	err = checker.Check(ctx, "public://../../etc/passwd")
	assert.ErrorIs(t, err, ErrLocationNotFound, "paths cannot escape the root")

	err = checker.Check(ctx, "private://p1.tif")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocationNotFound)

	err = checker.Check(ctx, "p1.tif")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocationNotFound)
}

func TestStreamLocationChecker_S3(t *testing.T) {
	ctx := context.Background()
	client := &fakeHeadObject{objects: map[string]bool{"ingest/book/p1.tif": true}}
	checker := NewStreamLocationChecker(nil, client, 0)

	require.NoError(t, checker.Check(ctx, "s3://ingest/book/p1.tif"))

	err := checker.Check(ctx, "s3://ingest/book/p2.tif")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	err = checker.Check(ctx, "s3://ingest")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocationNotFound)
	assert.Equal(t, 2, client.calls, "malformed uris never reach S3")

	unconfigured := NewStreamLocationChecker(nil, nil, 0)
	err = unconfigured.Check(ctx, "s3://ingest/book/p1.tif")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocationNotFound)
}

func TestStreamLocationChecker_S3BreakerOpens(t *testing.T) {
	ctx := context.Background()
	client := &fakeHeadObject{err: errors.New("dial tcp: connection refused")}
	checker := NewStreamLocationChecker(nil, client, 0)

	for i := 0; i < 5; i++ {
		err := checker.Check(ctx, "s3://ingest/a.tif")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrLocationNotFound)
	}
	assert.Equal(t, 5, client.calls)

	err := checker.Check(ctx, "s3://ingest/a.tif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suspended")
	assert.Equal(t, 5, client.calls, "open breaker short-circuits the call")

	_ = checker.Check(ctx, "s3://archive/a.tif")
	assert.Equal(t, 6, client.calls, "other buckets are still checked")
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://reports/2024/run.json")
	require.NoError(t, err)
	assert.Equal(t, "reports", bucket)
	assert.Equal(t, "2024/run.json", key)

	for _, raw := range []string{"s3://reports", "s3://reports/", "https://reports/run.json", "s3:///run.json"} {
		_, _, err := ParseS3URL(raw)
		assert.Error(t, err, raw)
	}
}
