package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"catalog-showcase/internal/config"
	"catalog-showcase/internal/domain"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// KeyPrefix is the top-level folder of every uploaded object
const KeyPrefix = "catalogs"

// Store hosts uploaded product images.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, catalogID, filename string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// objectClient is the subset of *minio.Client the store needs
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// MinioStore keeps images in an S3-compatible bucket and serves them from
// a public base URL.
type MinioStore struct {
	client    objectClient
	bucket    string
	publicURL string
	maxSize   int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewMinioStore connects to the configured endpoint. Without an explicit
// public URL, objects are addressed path-style on the endpoint itself.
func NewMinioStore(cfg config.AssetsConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return newMinioStore(client, cfg.Bucket, publicURL, cfg.MaxUpload, logger), nil
}

func newMinioStore(client objectClient, bucket, publicURL string, maxSize int64, logger *zap.Logger) *MinioStore {
	return &MinioStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		maxSize:   maxSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	found, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if found {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Created asset bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload stores data under the catalog's folder and returns its public URL.
func (s *MinioStore) Upload(ctx context.Context, catalogID, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.NewValidationError(domain.FieldError{Field: "file", Message: "file is empty"})
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", domain.NewValidationError(domain.FieldError{
			Field:   "file",
			Message: fmt.Sprintf("file exceeds %d bytes", s.maxSize),
		})
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", domain.NewValidationError(domain.FieldError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported content type %s", mtype.String()),
		})
	}

	key := ObjectKey(catalogID, filename, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mtype.String(),
	})
	if err != nil {
		return "", domain.NewBackendError("upload image", err)
	}

	s.logger.Info("Image uploaded",
		zap.String("catalog_id", catalogID),
		zap.String("key", key),
		zap.String("content_type", mtype.String()),
	)
	return s.publicURL + "/" + key, nil
}

// Delete removes the object behind url. URLs that do not point into this
// store are skipped.
func (s *MinioStore) Delete(ctx context.Context, url string) error {
	key, ok := s.KeyFromURL(url)
	if !ok {
		s.logger.Debug("Skipping delete of foreign image URL", zap.String("url", url))
		return nil
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return domain.NewBackendError("delete image object", err)
	}
	return nil
}

// KeyFromURL maps a public URL produced by Upload back to its object key.
func (s *MinioStore) KeyFromURL(url string) (string, bool) {
	key, found := strings.CutPrefix(url, s.publicURL+"/")
	if !found || !strings.HasPrefix(key, KeyPrefix+"/") {
		return "", false
	}
	return key, true
}

// ObjectKey builds catalogs/<catalogID>/<unix-ms>-<filename>.
func ObjectKey(catalogID, filename string, at time.Time) string {
	name := unsafeFilenameChars.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s/%d-%s", KeyPrefix, catalogID, at.UnixMilli(), name)
}
