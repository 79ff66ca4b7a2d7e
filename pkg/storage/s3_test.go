package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 records calls and serves objects from a map.
type fakeS3 struct {
	objects        map[string][]byte
	uploadedParts  []int32
	completedParts []types.CompletedPart
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opt ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(input.Key)] = data
	return &s3.PutObjectOutput{ETag: aws.String(`"put-etag"`)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, input *s3.GetObjectInput, opt ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opt ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(input.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opt ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	out.IsTruncated = aws.Bool(false)
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, input *s3.CreateMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("mp-token")}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, input *s3.UploadPartInput, opt ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.uploadedParts = append(f.uploadedParts, aws.ToInt32(input.PartNumber))
	return &s3.UploadPartOutput{ETag: aws.String(`"part-etag"`)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, input *s3.CompleteMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completedParts = input.MultipartUpload.Parts
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, input *s3.AbortMultipartUploadInput, opt ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3StoreWriteChunkWithMultipart(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "bucket")
	ctx := context.Background()

	token, err := s.InitializeUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "mp-token", token)

	res, err := s.WriteChunk(ctx, "u1", 2, []byte("data"), token)
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/chunk_2", res.Key)
	assert.Equal(t, "part-etag", res.ETag)

	// part number is index+1 and the per-chunk object exists alongside
	assert.Equal(t, []int32{3}, fake.uploadedParts)
	assert.Contains(t, fake.objects, "uploads/u1/chunk_2")
}

func TestS3StoreWriteChunkWithoutMultipart(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "bucket")

	res, err := s.WriteChunk(context.Background(), "u1", 0, []byte("data"), "")
	require.NoError(t, err)
	assert.Equal(t, "put-etag", res.ETag)
	assert.Empty(t, fake.uploadedParts)
}

func TestS3StoreCompleteSortsParts(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "bucket")

	err := s.CompleteUpload(context.Background(), "u1", "mp-token", []Part{
		{PartNumber: 3, ETag: "e3"},
		{PartNumber: 1, ETag: "e1"},
		{PartNumber: 2, ETag: "e2"},
	})
	require.NoError(t, err)
	require.Len(t, fake.completedParts, 3)
	for i, part := range fake.completedParts {
		assert.EqualValues(t, i+1, aws.ToInt32(part.PartNumber))
	}
}

func TestS3StoreDeleteMissingKeyIsNotAnError(t *testing.T) {
	fake := newFakeS3()
	fake.objects["uploads/u1/chunk_0"] = []byte("abc")
	s := NewS3Store(fake, "bucket")
	ctx := context.Background()

	require.NoError(t, s.DeleteKey(ctx, "uploads/u1/chunk_0"))
	require.NoError(t, s.DeleteKey(ctx, "uploads/u1/chunk_0"))
	assert.Empty(t, fake.objects)
}

func TestS3StoreReadChunk(t *testing.T) {
	fake := newFakeS3()
	fake.objects["uploads/u1/chunk_0"] = []byte("abc")
	s := NewS3Store(fake, "bucket")

	reader, err := s.ReadChunk(context.Background(), "uploads/u1/chunk_0")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
