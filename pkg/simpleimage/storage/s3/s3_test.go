package s3

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// fakeClient records calls; methods not overridden panic through the nil
// embedded interface.
type fakeClient struct {
	objectAPI

	mu            sync.Mutex
	puts          []*s3.PutObjectInput
	putBodies     []string
	deleteCalls   []*s3.DeleteObjectsInput
	deleteOut     *s3.DeleteObjectsOutput
	deleteErr     error
	versionPages  []*s3.ListObjectVersionsOutput
	versionInputs []s3.ListObjectVersionsInput
	copies        []*s3.CopyObjectInput
	copyErr       error
	getErr        error
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	f.putBodies = append(f.putBodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("data"))}, nil
}

func (f *fakeClient) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteCalls = append(f.deleteCalls, in)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if f.deleteOut != nil {
		return f.deleteOut, nil
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeClient) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.versionInputs = append(f.versionInputs, *in)
	page := f.versionPages[0]
	f.versionPages = f.versionPages[1:]
	return page, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copies = append(f.copies, in)
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return &s3.CopyObjectOutput{}, nil
}

func TestS3Backend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("StaticCredentials", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "s3", backend.Name())
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, "AES256", backend.config.SSEAlgorithm)
	})
}

func TestS3Backend_PutDirectives(t *testing.T) {
	tests := []struct {
		name    string
		enc     simpleimage.Encryption
		wantSSE types.ServerSideEncryption
		wantKMS string
	}{
		{"AES256", simpleimage.Encryption{Mode: simpleimage.EncryptionAES256}, types.ServerSideEncryptionAes256, ""},
		{"KMS with key", simpleimage.Encryption{Mode: simpleimage.EncryptionKMS, KMSKeyID: "arn:aws:kms:us-east-1:123:key/abc"}, types.ServerSideEncryptionAwsKms, "arn:aws:kms:us-east-1:123:key/abc"},
		{"KMS default key", simpleimage.Encryption{Mode: simpleimage.EncryptionKMS}, types.ServerSideEncryptionAwsKms, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeClient{}
			backend := newBackend(fake, nil, Config{Bucket: "bucket"})

			err := backend.Put(context.Background(), strings.NewReader("payload"), simpleimage.PutParams{
				Key:         "images/a/original",
				Size:        7,
				ContentType: "image/jpeg",
				Access:      simpleimage.AccessPrivate,
				Encryption:  tt.enc,
			})
			require.NoError(t, err)
			require.Len(t, fake.puts, 1)

			in := fake.puts[0]
			assert.Equal(t, "bucket", aws.ToString(in.Bucket))
			assert.Equal(t, "images/a/original", aws.ToString(in.Key))
			assert.Equal(t, types.ObjectCannedACLPrivate, in.ACL)
			assert.Equal(t, tt.wantSSE, in.ServerSideEncryption)
			assert.Equal(t, tt.wantKMS, aws.ToString(in.SSEKMSKeyId))
			assert.Equal(t, "image/jpeg", aws.ToString(in.ContentType))
			assert.Equal(t, "payload", fake.putBodies[0])
		})
	}

	t.Run("missing encryption is rejected before the call", func(t *testing.T) {
		fake := &fakeClient{}
		backend := newBackend(fake, nil, Config{Bucket: "bucket"})
		err := backend.Put(context.Background(), strings.NewReader("x"), simpleimage.PutParams{
			Key:    "k",
			Access: simpleimage.AccessPrivate,
		})
		require.Error(t, err)
		assert.Empty(t, fake.puts)
	})
}

func TestS3Backend_GetMissing(t *testing.T) {
	fake := &fakeClient{getErr: &types.NoSuchKey{}}
	backend := newBackend(fake, nil, Config{Bucket: "bucket"})

	_, err := backend.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, simpleimage.ErrObjectNotFound)
}

func TestS3Backend_DeleteMany(t *testing.T) {
	t.Run("per-key failures", func(t *testing.T) {
		fake := &fakeClient{deleteOut: &s3.DeleteObjectsOutput{
			Errors: []types.Error{
				{Key: aws.String("b"), Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")},
				{Key: aws.String("c"), Code: aws.String("NoSuchKey"), Message: aws.String("gone")},
			},
		}}
		backend := newBackend(fake, nil, Config{Bucket: "bucket"})

		failures, err := backend.DeleteMany(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, "b", failures[0].Key)
		assert.Equal(t, "AccessDenied", failures[0].Code)

		require.Len(t, fake.deleteCalls, 1)
		in := fake.deleteCalls[0]
		assert.True(t, aws.ToBool(in.Delete.Quiet))
		assert.Len(t, in.Delete.Objects, 3)
	})

	t.Run("whole call fails", func(t *testing.T) {
		fake := &fakeClient{deleteErr: errors.New("connection reset")}
		backend := newBackend(fake, nil, Config{Bucket: "bucket"})

		_, err := backend.DeleteMany(context.Background(), []string{"a"})
		var storageErr *simpleimage.StorageError
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, "delete_many", storageErr.Op)
	})

	t.Run("no keys", func(t *testing.T) {
		fake := &fakeClient{}
		backend := newBackend(fake, nil, Config{Bucket: "bucket"})
		failures, err := backend.DeleteMany(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, failures)
		assert.Empty(t, fake.deleteCalls)
	})
}

func TestS3Backend_ListVersions(t *testing.T) {
	modified := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeClient{versionPages: []*s3.ListObjectVersionsOutput{
		{
			Versions: []types.ObjectVersion{
				{Key: aws.String("images/a/original"), VersionId: aws.String("v2"), IsLatest: aws.Bool(true), Size: aws.Int64(10), LastModified: aws.Time(modified)},
				{Key: aws.String("images/a/original-copy"), VersionId: aws.String("x1"), IsLatest: aws.Bool(true)},
			},
			IsTruncated:         aws.Bool(true),
			NextKeyMarker:       aws.String("images/a/original"),
			NextVersionIdMarker: aws.String("v2"),
		},
		{
			Versions: []types.ObjectVersion{
				{Key: aws.String("images/a/original"), VersionId: aws.String("v1"), IsLatest: aws.Bool(false), Size: aws.Int64(8)},
			},
			IsTruncated: aws.Bool(false),
		},
	}}
	backend := newBackend(fake, nil, Config{Bucket: "bucket"})

	versions, err := backend.ListVersions(context.Background(), "images/a/original")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[0].VersionID)
	assert.True(t, versions[0].IsLatest)
	assert.Equal(t, modified, versions[0].LastModified)
	assert.Equal(t, "v1", versions[1].VersionID)

	require.Len(t, fake.versionInputs, 2)
	assert.Equal(t, "v2", aws.ToString(fake.versionInputs[1].VersionIdMarker))
}

func TestS3Backend_CopyVersion(t *testing.T) {
	fake := &fakeClient{}
	backend := newBackend(fake, nil, Config{Bucket: "bucket", SSEAlgorithm: "aws:kms", SSEKMSKeyID: "key-1"})

	require.NoError(t, backend.CopyVersion(context.Background(), "images/a/original", "v1"))
	require.Len(t, fake.copies, 1)
	in := fake.copies[0]
	assert.Equal(t, "bucket/images/a/original?versionId=v1", aws.ToString(in.CopySource))
	assert.Equal(t, types.ObjectCannedACLPrivate, in.ACL)
	assert.Equal(t, types.ServerSideEncryptionAwsKms, in.ServerSideEncryption)
	assert.Equal(t, "key-1", aws.ToString(in.SSEKMSKeyId))

	fake.copyErr = &smithy.GenericAPIError{Code: "NoSuchVersion", Message: "The specified version does not exist."}
	err := backend.CopyVersion(context.Background(), "images/a/original", "nope")
	assert.ErrorIs(t, err, simpleimage.ErrVersionNotFound)
	assert.True(t, simpleimage.IsNotFound(err))
}

func TestS3Backend_PresignEmbedsTTL(t *testing.T) {
	backend, err := New(Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	before := time.Now()
	signed, err := backend.Presign(context.Background(), "images/a/original", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed.URL)
	require.NoError(t, err)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "/test-bucket/images/a/original", u.Path)
	assert.WithinDuration(t, before.Add(10*time.Minute), signed.ExpiresAt, 5*time.Second)
}
