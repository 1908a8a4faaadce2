// Package archive copies exported charters to an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("archive not configured")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectStore is the subset of the minio client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Object describes one archived export.
type Object struct {
	Key  string
	Size int64
	ETag string
}

type Archive struct {
	client objectStore
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// New connects to the bucket's endpoint. An empty endpoint yields a nil
// archive, which callers treat as disabled.
func New(cfg Config, logger *zap.Logger) (*Archive, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newArchive(client, cfg.Bucket, logger), nil
}

func newArchive(client objectStore, bucket string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{client: client, bucket: bucket, logger: logger.Named("archive"), now: time.Now}
}

// EnsureBucket creates the bucket if it is missing.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return ErrNotConfigured
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("archive bucket created", zap.String("bucket", a.bucket))
	return nil
}

// Key is the object name an export is stored under.
func (a *Archive) Key(profileID, filename string) string {
	return path.Join("charters", profileID, a.now().UTC().Format("20060102T150405Z")+"-"+path.Base(filename))
}

// Put stores one export.
func (a *Archive) Put(ctx context.Context, profileID, filename, contentType string, data []byte) (Object, error) {
	if a == nil {
		return Object{}, ErrNotConfigured
	}
	key := a.Key(profileID, filename)
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Object{Key: key, Size: info.Size, ETag: info.ETag}, nil
}
