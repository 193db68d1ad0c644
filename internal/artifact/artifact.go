// Package artifact archives a run's output files in an S3-compatible
// bucket (MinIO, S3, Ceph RGW).
//
// Uploading is best effort. The local files are the source of truth, so
// callers log upload failures instead of failing the run.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/roach88/churnprobe/internal/config"
)

// ErrDisabled is returned by NewUploader when no endpoint is configured.
var ErrDisabled = errors.New("artifact upload disabled: no endpoint configured")

// ObjectStore is the subset of *minio.Client the uploader needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader copies files to bucket/prefix/<run-id>/<file name>.
type Uploader struct {
	store  ObjectStore
	bucket string
	prefix string
}

// NewUploader connects to the configured endpoint. No request is made
// until Upload.
func NewUploader(cfg config.ArtifactConfig) (*Uploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrDisabled
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact client: %w", err)
	}
	return NewUploaderWithStore(client, cfg.Bucket, cfg.Prefix), nil
}

// NewUploaderWithStore creates an uploader on an existing store.
func NewUploaderWithStore(store ObjectStore, bucket, prefix string) *Uploader {
	return &Uploader{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ObjectName returns the object key for a local file of the run.
func (u *Uploader) ObjectName(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

// Upload uploads files under the run's prefix, creating the bucket if it
// does not exist. Files that do not exist are skipped. It returns the
// object names that were written; the error joins every failed upload.
func (u *Uploader) Upload(ctx context.Context, runID string, files []string) ([]string, error) {
	exists, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.store.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
		slog.Info("created artifact bucket", "bucket", u.bucket)
	}

	var (
		uploaded []string
		errs     []error
	)
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			slog.Debug("skipping missing artifact", "path", f)
			continue
		}
		object := u.ObjectName(runID, f)
		info, err := u.store.FPutObject(ctx, u.bucket, object, f, minio.PutObjectOptions{
			ContentType: contentType(f),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", f, err))
			continue
		}
		slog.Debug("uploaded artifact", "bucket", u.bucket, "object", object, "size", info.Size)
		uploaded = append(uploaded, object)
	}
	return uploaded, errors.Join(errs...)
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".db":
		return "application/vnd.sqlite3"
	default:
		return "application/octet-stream"
	}
}
