package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
)

// mockS3 keeps objects in a map and records presign calls.
type mockS3 struct {
	objects map[string][]byte
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}}
}

type mockNotFound struct{}

func (mockNotFound) Error() string                  { return "NotFound" }
func (mockNotFound) ErrorCode() string              { return "NotFound" }
func (mockNotFound) ErrorMessage() string           { return "not found" }
func (mockNotFound) ErrorFault() smithy.ErrorFault  { return smithy.FaultClient }

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	m.objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, mockNotFound{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := m.objects[aws.ToString(params.Key)]; !ok {
		return nil, mockNotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	prefix := aws.ToString(params.Prefix)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

type mockPresigner struct {
	lastKey string
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	m.lastKey = aws.ToString(params.Key)
	return "https://signed.example.com/get/" + m.lastKey, nil
}

func (m *mockPresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	m.lastKey = aws.ToString(params.Key)
	return "https://signed.example.com/put/" + m.lastKey, nil
}

func newTestStore() (*BlobStore, *mockS3, *mockPresigner) {
	client := newMockS3()
	presigner := &mockPresigner{}
	return NewBlobStoreWithClient(client, presigner, "dealgraph-test"), client, presigner
}

func TestBlobKeyCarriesTenancy(t *testing.T) {
	key := BlobKey("org-1", "deal-1", "doc-1", "cim.pdf")
	assert.Equal(t, "org-1/deal-1/doc-1/cim.pdf", key)
}

func TestBlobUploadDownload(t *testing.T) {
	store, _, _ := newTestStore()
	ctx := context.Background()
	key := BlobKey("org-1", "deal-1", "doc-1", "model.xlsx")

	require.NoError(t, store.Upload(ctx, key, "application/vnd.ms-excel", strings.NewReader("cells")))

	rc, err := store.Download(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "cells", string(body))
}

func TestBlobDownloadMissingIsNotFound(t *testing.T) {
	store, _, _ := newTestStore()
	_, err := store.Download(context.Background(), "org-1/deal-1/doc-x/missing.pdf")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestBlobExists(t *testing.T) {
	store, _, _ := newTestStore()
	ctx := context.Background()
	key := BlobKey("org-1", "deal-1", "doc-1", "a.pdf")
	require.NoError(t, store.Upload(ctx, key, "application/pdf", strings.NewReader("x")))

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, BlobKey("org-1", "deal-1", "doc-2", "b.pdf"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlobPresign(t *testing.T) {
	store, _, presigner := newTestStore()
	ctx := context.Background()

	url, err := store.PresignDownload(ctx, "org-1/deal-1/doc-1/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "signed.example.com/get/")
	assert.Equal(t, "org-1/deal-1/doc-1/a.pdf", presigner.lastKey)

	url, err = store.PresignUpload(ctx, "org-1/deal-1/doc-2/b.pdf", "application/pdf", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "signed.example.com/put/")
}

func TestBlobDeletePrefix(t *testing.T) {
	store, client, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "org-1/deal-1/doc-1/a.pdf", "application/pdf", strings.NewReader("a")))
	require.NoError(t, store.Upload(ctx, "org-1/deal-1/doc-2/b.pdf", "application/pdf", strings.NewReader("b")))
	require.NoError(t, store.Upload(ctx, "org-1/deal-2/doc-3/c.pdf", "application/pdf", strings.NewReader("c")))

	n, err := store.DeletePrefix(ctx, "org-1/deal-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, client.objects, 1)
}
