package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// StdoutOutput selects standard output as the report destination.
const StdoutOutput = "-"

// ReportUploader is the subset of the S3 upload manager used for s3:// outputs.
type ReportUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ReportWriter delivers the JSON report to stdout, a local file or S3.
type ReportWriter struct {
	stdout   io.Writer
	uploader ReportUploader
}

// NewReportWriter creates a writer. uploader may be nil when no s3://
// destination will be used.
func NewReportWriter(stdout io.Writer, uploader ReportUploader) *ReportWriter {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &ReportWriter{stdout: stdout, uploader: uploader}
}

// EncodeReport renders report as indented JSON terminated by a newline.
func EncodeReport(report *bulkingest.Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// Write renders report and sends it to output: "-" for stdout, an
// s3://bucket/key url, or a local path.
func (w *ReportWriter) Write(ctx context.Context, report *bulkingest.Report, output string) error {
	data, err := EncodeReport(report)
	if err != nil {
		return err
	}

	switch {
	case output == "" || output == StdoutOutput:
		if _, err := w.stdout.Write(data); err != nil {
			return fmt.Errorf("write report to stdout: %w", err)
		}
		return nil

	case strings.HasPrefix(output, "s3://"):
		if w.uploader == nil {
			return fmt.Errorf("s3 report output requires an s3 client")
		}
		bucket, key, err := ParseS3URL(output)
		if err != nil {
			return err
		}
		if _, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		}); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		zap.S().Infow("report uploaded", "bucket", bucket, "key", key)
		return nil

	default:
		if dir := filepath.Dir(output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report directory: %w", err)
			}
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("write report file: %w", err)
		}
		zap.S().Infow("report written", "path", output)
		return nil
	}
}
