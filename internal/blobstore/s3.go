package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the MinIO/S3-compatible driver.
type S3Config struct {
	Endpoint           string
	Region             string
	Bucket             string
	AccessKey          string
	SecretKey          string
	UseSSL             bool
	UsePathStyle       bool
	MultipartThreshold int64
	PartSize           int64
	RetryAttempts      int
}

// S3Driver is the production Driver backed by an S3-compatible bucket.
type S3Driver struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	cfg    S3Config
}

// NewS3Driver dials the object store and ensures the configured bucket
// exists, tolerating the AlreadyOwnedByYou race the teacher's driver already
// handled via a BucketExists fallback.
func NewS3Driver(cfg S3Config) (*S3Driver, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("blobstore: dial: %w", err)
	}
	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("blobstore: dial core client: %w", err)
	}

	ctx := context.Background()
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		exists, existsErr := client.BucketExists(ctx, cfg.Bucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("blobstore: ensure bucket %q: %w", cfg.Bucket, err)
		}
	}

	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 64 << 20
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = 8 << 20
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	return &S3Driver{client: client, core: core, bucket: cfg.Bucket, cfg: cfg}, nil
}

func (d *S3Driver) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return withRetry(d.cfg.RetryAttempts, func() error {
		_, err := d.client.PutObject(ctx, d.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
		return err
	})
}

// PutStreaming single-puts when the size is known and at or below the
// threshold; otherwise it drives an explicit multipart upload in part_size
// chunks, aborting
// best-effort if any part fails. Grounded on Rust storage/s3.rs
// put_blob_streaming, which does exactly this size-based branch.
func (d *S3Driver) PutStreaming(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if size >= 0 && size <= d.cfg.MultipartThreshold {
		return d.Put(ctx, key, r, size, contentType)
	}
	return d.putMultipart(ctx, key, r, contentType)
}

func (d *S3Driver) putMultipart(ctx context.Context, key string, r io.Reader, contentType string) error {
	uploadID, err := d.core.NewMultipartUpload(ctx, d.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("blobstore: initiate multipart upload: %w", err)
	}

	var parts []minio.CompletePart
	partNumber := 1
	buf := make([]byte, d.cfg.PartSize)

	abort := func(cause error) error {
		if abortErr := d.core.AbortMultipartUpload(ctx, d.bucket, key, uploadID); abortErr != nil {
			// best-effort: never let an abort failure mask the real error
			log.Printf("blobstore: warning: abort multipart upload %s/%s failed: %v", d.bucket, key, abortErr)
		}
		return cause
	}

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			var part minio.ObjectPart
			putErr := withRetry(d.cfg.RetryAttempts, func() error {
				var innerErr error
				part, innerErr = d.core.PutObjectPart(ctx, d.bucket, key, uploadID, partNumber, bytes.NewReader(buf[:n]), int64(n), minio.PutObjectPartOptions{})
				return innerErr
			})
			if putErr != nil {
				return abort(fmt.Errorf("blobstore: upload part %d: %w", partNumber, putErr))
			}
			parts = append(parts, minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag})
			partNumber++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return abort(fmt.Errorf("blobstore: read stream: %w", readErr))
		}
	}

	if _, err := d.core.CompleteMultipartUpload(ctx, d.bucket, key, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return abort(fmt.Errorf("blobstore: complete multipart upload: %w", err))
	}
	return nil
}

func (d *S3Driver) Get(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	exists, err := d.Exists(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	obj, err := d.client.GetObject(ctx, d.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	return obj, true, nil
}

func (d *S3Driver) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: stat %q: %w", key, err)
	}
	return true, nil
}

func (d *S3Driver) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := d.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if err := d.client.RemoveObject(ctx, d.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("blobstore: delete %q: %w", key, err)
	}
	return true, nil
}

func (d *S3Driver) Stat(ctx context.Context, key string) (Metadata, bool, error) {
	info, err := d.client.StatObject(ctx, d.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("blobstore: stat %q: %w", key, err)
	}
	return Metadata{Size: info.Size, CreatedAt: info.LastModified, ContentType: info.ContentType}, true, nil
}

func (d *S3Driver) Health(ctx context.Context) error {
	_, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("blobstore: health check: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == 404
}

// withRetry retries transient object-store errors with exponential backoff,
// per §4.A's "retried up to retry_attempts with exponential backoff".
func withRetry(attempts int, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		time.Sleep(time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond)
	}
	return err
}

func isTransient(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "ServiceUnavailable", "RequestTimeout", "InternalError":
		return true
	}
	return resp.StatusCode == 0 || resp.StatusCode >= 500 || resp.StatusCode == 429
}
