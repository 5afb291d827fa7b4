package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	storagecfg "github.com/jonesrussell/north-cloud/warc-archiver/internal/config/storage"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// warcContentType is the media type registered for WARC files.
const warcContentType = "application/warc"

// S3Backend stores archives in an S3-compatible bucket.
type S3Backend struct {
	client  *miniogo.Client
	bucket  string
	folder  string
	region  string
	timeout time.Duration
}

// NewS3Backend creates an S3 backend from cfg. No request is made until the
// first EnsureDestination or Put.
func NewS3Backend(cfg *storagecfg.S3Config) (*S3Backend, error) {
	if cfg == nil {
		return nil, errors.New("s3 config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: miniogo.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Backend{
		client:  client,
		bucket:  cfg.Bucket,
		folder:  strings.Trim(cfg.Folder, "/"),
		region:  cfg.Region,
		timeout: cfg.RequestTimeout,
	}, nil
}

// EnsureDestination creates the bucket when it does not exist yet.
func (b *S3Backend) EnsureDestination(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}

	err = b.client.MakeBucket(ctx, b.bucket, miniogo.MakeBucketOptions{Region: b.region})
	if err != nil {
		// Another instance may have created it between the two calls.
		code := miniogo.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Put uploads data to <folder>/<name>.
func (b *S3Backend) Put(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.PutObject(
		ctx,
		b.bucket,
		b.ObjectKey(name),
		bytes.NewReader(data),
		int64(len(data)),
		miniogo.PutObjectOptions{ContentType: warcContentType},
	)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// ObjectKey returns the key an archive named name is stored under.
func (b *S3Backend) ObjectKey(name string) string {
	if b.folder == "" {
		return name
	}
	return path.Join(b.folder, name)
}

// Describe returns the bucket and folder.
func (b *S3Backend) Describe() string {
	return "s3://" + path.Join(b.bucket, b.folder)
}
