package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Encryption applied when a version is restored with CopyObject.
	// Put takes its directive from the caller.
	SSEAlgorithm string // AES256 or aws:kms (default: AES256)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// UploadPartSize is the multipart part size in bytes (default: 5 MiB)
	UploadPartSize int64

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// objectAPI is the subset of *s3.Client the backend calls.
type objectAPI interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Backend is an S3-compatible implementation of the simpleimage.BlobStore interface
type Backend struct {
	client        objectAPI
	uploader      *manager.Uploader
	presignClient *s3.PresignClient
	bucket        string
	config        Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	backend := newBackend(client, s3.NewPresignClient(client), config)

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background(), client); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func newBackend(client objectAPI, presignClient *s3.PresignClient, config Config) *Backend {
	if config.SSEAlgorithm == "" {
		config.SSEAlgorithm = string(simpleimage.EncryptionAES256)
	}
	return &Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if config.UploadPartSize >= manager.MinUploadPartSize {
				u.PartSize = config.UploadPartSize
			}
		}),
		presignClient: presignClient,
		bucket:        config.Bucket,
		config:        config,
	}
}

var _ simpleimage.BlobStore = (*Backend)(nil)

// Name returns "s3".
func (b *Backend) Name() string {
	return "s3"
}

func (b *Backend) storageError(op, key string, err error) error {
	return &simpleimage.StorageError{Backend: b.Name(), Key: key, Op: op, Err: err}
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context, client *s3.Client) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err = client.CreateBucket(ctx, createInput); err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// applyEncryption sets the SSE fields of a put or copy input.
func applyEncryption(enc simpleimage.Encryption, sse *types.ServerSideEncryption, kmsKeyID **string) {
	switch enc.Mode {
	case simpleimage.EncryptionAES256:
		*sse = types.ServerSideEncryptionAes256
	case simpleimage.EncryptionKMS:
		*sse = types.ServerSideEncryptionAwsKms
		if enc.KMSKeyID != "" {
			*kmsKeyID = aws.String(enc.KMSKeyID)
		}
	}
}

// Put uploads body with a private ACL and the requested SSE. Large bodies
// are sent as multipart uploads.
func (b *Backend) Put(ctx context.Context, body io.Reader, params simpleimage.PutParams) error {
	if err := params.Validate(); err != nil {
		return b.storageError("put", params.Key, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(params.Key),
		Body:   body,
		ACL:    types.ObjectCannedACLPrivate,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	if params.Size > 0 {
		input.ContentLength = aws.Int64(params.Size)
	}
	applyEncryption(params.Encryption, &input.ServerSideEncryption, &input.SSEKMSKeyId)

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return b.storageError("put", params.Key, fmt.Errorf("failed to upload to S3: %w", err))
	}
	return nil
}

// Get downloads the current version of key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, b.storageError("get", key, simpleimage.ErrObjectNotFound)
		}
		return nil, b.storageError("get", key, fmt.Errorf("failed to download from S3: %w", err))
	}
	return result.Body, nil
}

// Delete deletes key. S3 reports success for missing keys.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.storageError("delete", key, fmt.Errorf("failed to delete from S3: %w", err))
	}
	return nil
}

// DeleteMany issues one DeleteObjects call in quiet mode, so only failed
// keys come back. S3 caps a call at 1000 keys; callers chunk.
func (b *Backend) DeleteMany(ctx context.Context, keys []string) ([]simpleimage.KeyFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return nil, b.storageError("delete_many", "", fmt.Errorf("failed to delete objects: %w", err))
	}

	var failures []simpleimage.KeyFailure
	for _, e := range out.Errors {
		code := aws.ToString(e.Code)
		if code == "NoSuchKey" {
			continue
		}
		failures = append(failures, simpleimage.KeyFailure{
			Key:     aws.ToString(e.Key),
			Code:    code,
			Message: aws.ToString(e.Message),
		})
	}
	return failures, nil
}

// ListVersions pages through ListObjectVersions for the exact key. Versions
// of other keys sharing the prefix are skipped.
func (b *Backend) ListVersions(ctx context.Context, key string) ([]simpleimage.ObjectVersion, error) {
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(key),
	}

	var versions []simpleimage.ObjectVersion
	for {
		out, err := b.client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, b.storageError("list_versions", key, fmt.Errorf("failed to list object versions: %w", err))
		}
		for _, v := range out.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			versions = append(versions, simpleimage.ObjectVersion{
				Key:          key,
				VersionID:    aws.ToString(v.VersionId),
				IsLatest:     aws.ToBool(v.IsLatest),
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}
	return versions, nil
}

// CopyVersion copies versionID of key onto key, making it current
func (b *Backend) CopyVersion(ctx context.Context, key, versionID string) error {
	source := fmt.Sprintf("%s/%s?versionId=%s", b.bucket, escapeKey(key), url.QueryEscape(versionID))

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(key),
		CopySource: aws.String(source),
		ACL:        types.ObjectCannedACLPrivate,
	}
	applyEncryption(simpleimage.Encryption{
		Mode:     simpleimage.EncryptionMode(b.config.SSEAlgorithm),
		KMSKeyID: b.config.SSEKMSKeyID,
	}, &input.ServerSideEncryption, &input.SSEKMSKeyId)

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchVersion", "NoSuchKey":
				return b.storageError("copy_version", key, simpleimage.ErrVersionNotFound)
			}
		}
		return b.storageError("copy_version", key, fmt.Errorf("failed to copy object version: %w", err))
	}
	return nil
}

// Presign returns a presigned GET URL with X-Amz-Expires set to ttl
func (b *Backend) Presign(ctx context.Context, key string, ttl time.Duration) (*simpleimage.PresignedURL, error) {
	if b.presignClient == nil {
		return nil, b.storageError("presign", key, errors.New("presigning not configured"))
	}
	signedAt := time.Now()
	result, err := b.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return nil, b.storageError("presign", key, fmt.Errorf("failed to generate presigned download URL: %w", err))
	}
	return &simpleimage.PresignedURL{URL: result.URL, ExpiresAt: signedAt.Add(ttl)}, nil
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
