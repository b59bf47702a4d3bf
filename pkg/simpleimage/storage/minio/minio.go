// Package minio implements simpleimage.BlobStore on the MinIO client for
// S3-compatible servers.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port, no scheme
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string // default us-east-1; set so presigning never asks the server

	// Encryption applied when restoring a version
	SSEAlgorithm string
	SSEKMSKeyID  string

	CreateBucketIfNotExist bool
}

// Backend stores objects through minio-go
type Backend struct {
	client *minio.Client
	bucket string
	config Config
}

// New connects a MinIO client. No request is sent unless
// CreateBucketIfNotExist is set.
func New(config Config) (*Backend, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.SSEAlgorithm == "" {
		config.SSEAlgorithm = string(simpleimage.EncryptionAES256)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	b := &Backend{client: client, bucket: config.Bucket, config: config}

	if config.CreateBucketIfNotExist {
		if err := b.ensureBucket(context.Background()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

var _ simpleimage.BlobStore = (*Backend)(nil)

// Name returns "minio".
func (b *Backend) Name() string {
	return "minio"
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpleimage.StorageError{Backend: b.Name(), Key: key, Op: op, Err: err}
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.config.Region}); err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

func serverSide(enc simpleimage.Encryption) (encrypt.ServerSide, error) {
	switch enc.Mode {
	case simpleimage.EncryptionAES256:
		return encrypt.NewSSE(), nil
	case simpleimage.EncryptionKMS:
		return encrypt.NewSSEKMS(enc.KMSKeyID, nil)
	}
	return nil, fmt.Errorf("unsupported encryption mode %q", enc.Mode)
}

// Put streams body to the bucket. A zero params.Size makes minio-go
// buffer multipart parts.
func (b *Backend) Put(ctx context.Context, body io.Reader, params simpleimage.PutParams) error {
	if err := params.Validate(); err != nil {
		return b.storageError("put", params.Key, err)
	}
	sse, err := serverSide(params.Encryption)
	if err != nil {
		return b.storageError("put", params.Key, err)
	}

	size := params.Size
	if size <= 0 {
		size = -1
	}

	_, err = b.client.PutObject(ctx, b.bucket, params.Key, body, size, minio.PutObjectOptions{
		ContentType:          params.ContentType,
		ServerSideEncryption: sse,
		UserMetadata:         map[string]string{"x-amz-acl": string(params.Access)},
	})
	if err != nil {
		return b.storageError("put", params.Key, fmt.Errorf("failed to upload object: %w", err))
	}
	return nil
}

// Get returns the current version of key. The object is stat'ed first so a
// missing key fails here rather than on the first Read.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapError("get", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, b.mapError("get", key, err)
	}
	return obj, nil
}

func (b *Backend) mapError(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return b.storageError(op, key, simpleimage.ErrObjectNotFound)
	case "NoSuchVersion":
		return b.storageError(op, key, simpleimage.ErrVersionNotFound)
	}
	return b.storageError(op, key, err)
}

// Delete removes key; MinIO reports success for missing keys
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return b.storageError("delete", key, err)
	}
	return nil
}

// DeleteMany feeds keys to RemoveObjects and collects the per-key errors
func (b *Backend) DeleteMany(ctx context.Context, keys []string) ([]simpleimage.KeyFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var failures []simpleimage.KeyFailure
	for rerr := range b.client.RemoveObjects(ctx, b.bucket, objects, minio.RemoveObjectsOptions{}) {
		resp := minio.ToErrorResponse(rerr.Err)
		if resp.Code == "NoSuchKey" {
			continue
		}
		failures = append(failures, simpleimage.KeyFailure{
			Key:     rerr.ObjectName,
			Code:    resp.Code,
			Message: rerr.Err.Error(),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, b.storageError("delete_many", "", err)
	}
	return failures, nil
}

// ListVersions lists every version of key, skipping delete markers
func (b *Backend) ListVersions(ctx context.Context, key string) ([]simpleimage.ObjectVersion, error) {
	var versions []simpleimage.ObjectVersion
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:       key,
		WithVersions: true,
		Recursive:    true,
	}) {
		if obj.Err != nil {
			return nil, b.storageError("list_versions", key, obj.Err)
		}
		if obj.Key != key || obj.IsDeleteMarker {
			continue
		}
		versions = append(versions, simpleimage.ObjectVersion{
			Key:          key,
			VersionID:    obj.VersionID,
			IsLatest:     obj.IsLatest,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return versions, nil
}

// CopyVersion server-side copies versionID over the current version
func (b *Backend) CopyVersion(ctx context.Context, key, versionID string) error {
	sse, err := serverSide(simpleimage.Encryption{
		Mode:     simpleimage.EncryptionMode(b.config.SSEAlgorithm),
		KMSKeyID: b.config.SSEKMSKeyID,
	})
	if err != nil {
		return b.storageError("copy_version", key, err)
	}

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: key, Encryption: sse},
		minio.CopySrcOptions{Bucket: b.bucket, Object: key, VersionID: versionID},
	)
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchVersion" || code == "NoSuchKey" {
			return b.storageError("copy_version", key, simpleimage.ErrVersionNotFound)
		}
		return b.storageError("copy_version", key, err)
	}
	return nil
}

// Presign returns a presigned GET URL valid for ttl
func (b *Backend) Presign(ctx context.Context, key string, ttl time.Duration) (*simpleimage.PresignedURL, error) {
	signedAt := time.Now()
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, ttl, nil)
	if err != nil {
		return nil, b.storageError("presign", key, err)
	}
	return &simpleimage.PresignedURL{URL: u.String(), ExpiresAt: signedAt.Add(ttl)}, nil
}
