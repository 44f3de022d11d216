// Package storage archives original uploads in MinIO. The archive is
// best-effort: the pipeline works off the local file and a missing bucket
// only costs the remote copy.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/gulfstack/invoice-agent/internal/config"
)

// Archive stores original documents under {tenant}/YYYY/MM/.
type Archive struct {
	client *minio.Client
	bucket string
	tenant string
}

// New connects to MinIO and verifies the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig) (*Archive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("no storage endpoint configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "invoices"
	}
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "default"
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &Archive{client: client, bucket: bucket, tenant: tenant}, nil
}

// Upload stores a document copy and returns its object path. A timestamp
// plus uuid fragment keeps repeated uploads of the same filename apart.
func (a *Archive) Upload(ctx context.Context, originalName string, reader io.Reader, size int64, contentType string) (string, error) {
	now := time.Now()
	objectName := fmt.Sprintf("%s/%d/%02d/%s_%s_%s",
		a.tenant,
		now.Year(),
		now.Month(),
		now.Format("20060102_150405"),
		uuid.NewString()[:8],
		originalName,
	)

	_, err := a.client.PutObject(ctx, a.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return fmt.Sprintf("%s/%s", a.bucket, objectName), nil
}

// PresignedURL generates a temporary download link for an archived object.
func (a *Archive) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	objectName := a.stripBucket(objectPath)
	url, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes an archived object.
func (a *Archive) Delete(ctx context.Context, objectPath string) error {
	return a.client.RemoveObject(ctx, a.bucket, a.stripBucket(objectPath), minio.RemoveObjectOptions{})
}

func (a *Archive) stripBucket(objectPath string) string {
	prefix := a.bucket + "/"
	if len(objectPath) > len(prefix) && objectPath[:len(prefix)] == prefix {
		return objectPath[len(prefix):]
	}
	return objectPath
}
