package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"saas_template/internal/models"
	"saas_template/internal/utils"
)

// S3WriterConfig configures the S3 archive target
type S3WriterConfig struct {
	Bucket   string
	Region   string
	Prefix   string
	PodName  string
	Endpoint string // optional, for S3-compatible stores such as MinIO
}

// S3Writer handles writing batches of usage logs to S3
type S3Writer struct {
	client  *s3.Client
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer creates a new S3 writer using the default AWS credential chain
func NewS3Writer(ctx context.Context, cfg S3WriterConfig) (*S3Writer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Writer{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		podName: cfg.PodName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-writer"),
	}, nil
}

// ObjectKey builds the key for a batch written at t.
// Format: usage/2025/11/30/api-0-20251130-143022-123456789.jsonl
func ObjectKey(prefix, podName string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		prefix,
		t.Year(),
		t.Month(),
		t.Day(),
		podName,
		t.Format("20060102-150405"),
		t.Nanosecond(),
	)
}

// EncodeJSONL renders logs as JSON Lines, skipping entries that fail to encode
func EncodeJSONL(logs []*models.UsageLog) ([]byte, int) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	written := 0
	for _, l := range logs {
		if err := encoder.Encode(l); err != nil {
			continue
		}
		written++
	}
	return buf.Bytes(), written
}

// WriteBatch writes a batch of usage logs to S3 as a JSON Lines object
// Returns the S3 key where the data was written
func (w *S3Writer) WriteBatch(ctx context.Context, logs []*models.UsageLog) (string, error) {
	if len(logs) == 0 {
		return "", nil
	}

	key := ObjectKey(w.prefix, w.podName, w.now())
	body, count := EncodeJSONL(logs)

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Wrote usage batch to S3", "key", key, "count", count, "bytes", len(body))
	return key, nil
}
