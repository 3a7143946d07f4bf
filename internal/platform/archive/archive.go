// Package archive stores finalized backfill scan reports in S3/MinIO.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meridian/anchorwatch/internal/backfill"
)

// Config contains object storage connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ScanArchiver writes one JSON object per finalized scan, keyed so the
// history of a (program, event kind) pair lists chronologically under a
// common prefix.
type ScanArchiver struct {
	cfg    Config
	client *minio.Client
	logger *slog.Logger
}

// NewScanArchiver creates a ScanArchiver.
func NewScanArchiver(cfg Config, logger *slog.Logger) (*ScanArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ScanArchiver{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "scan-archiver"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *ScanArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.cfg.Bucket, err)
	}
	return nil
}

// Archive uploads the scan record as a JSON object.
func (a *ScanArchiver) Archive(ctx context.Context, rec *backfill.ScanRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan %s: %w", rec.ScanID, err)
	}

	objectKey := ObjectKey(rec)
	_, err = a.client.PutObject(ctx, a.cfg.Bucket, objectKey,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	if err != nil {
		return fmt.Errorf("put scan %s: %w", rec.ScanID, err)
	}

	a.logger.Debug("scan archived",
		"scan_id", rec.ScanID,
		"bucket", a.cfg.Bucket,
		"key", objectKey,
	)
	return nil
}

// ObjectKey returns the object path for a scan record.
// Format: scans/<program_id>/<event_name>/<started_at>_<scan_id>.json
func ObjectKey(rec *backfill.ScanRecord) string {
	return fmt.Sprintf("scans/%s/%s/%s_%s.json",
		rec.ProgramID,
		rec.EventName,
		rec.StartedAt.UTC().Format("20060102T150405Z"),
		rec.ScanID,
	)
}
