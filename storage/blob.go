// Package storage provides the object store gateway for document blobs.
//
// Blobs are addressed by a tenant-prefixed key, {org}/{deal}/{document}/{name},
// so every key carries its tenancy and a deal's blobs can be removed with one
// prefix listing. Clients never touch the bucket directly: uploads and
// downloads go through short-lived presigned URLs issued by the API after the
// caller's scope is checked.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"dealgraph.org/common"
	"dealgraph.org/config"
)

// DefaultPresignTTL bounds how long issued URLs stay valid.
const DefaultPresignTTL = 15 * time.Minute

// BlobStore is the object store gateway.
type BlobStore struct {
	client    S3Client
	presigner S3Presigner
	uploader  *manager.Uploader
	bucket    string
}

type sdkPresigner struct {
	p *s3.PresignClient
}

func (s sdkPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	req, err := s.p.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s sdkPresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	req, err := s.p.PresignPutObject(ctx, params, optFns...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// NewBlobStore builds the gateway from configuration. Endpoint is optional
// and supports S3-compatible stores (MinIO, Hetzner) with path-style access.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, common.E(common.KindValidation, "blob bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &BlobStore{
		client:    client,
		presigner: sdkPresigner{p: s3.NewPresignClient(client)},
		uploader:  manager.NewUploader(client),
		bucket:    cfg.Bucket,
	}, nil
}

// NewBlobStoreWithClient injects a client and presigner for testing.
func NewBlobStoreWithClient(client S3Client, presigner S3Presigner, bucket string) *BlobStore {
	return &BlobStore{client: client, presigner: presigner, bucket: bucket}
}

// BlobKey builds the canonical key for a document blob.
func BlobKey(orgID, dealID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", orgID, dealID, documentID, filename)
}

// Upload streams a blob to the bucket. Large files go through the multipart
// uploader when available.
func (b *BlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	if b.uploader != nil {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return common.Wrap(common.KindTransientIO, "blob upload failed", err)
		}
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return common.Wrap(common.KindTransientIO, "blob upload failed", err)
	}
	return nil
}

// Download opens a blob for reading. Caller closes the returned reader.
func (b *BlobStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, common.E(common.KindNotFound, "blob not found")
		}
		return nil, common.Wrap(common.KindTransientIO, "blob download failed", err)
	}
	return out.Body, nil
}

// Exists probes a blob without fetching it.
func (b *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, common.Wrap(common.KindTransientIO, "blob probe failed", err)
	}
	return true, nil
}

// PresignDownload issues a short-lived GET URL.
func (b *BlobStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > time.Hour {
		ttl = DefaultPresignTTL
	}
	url, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", common.Wrap(common.KindTransientIO, "failed to presign download", err)
	}
	return url, nil
}

// PresignUpload issues a short-lived PUT URL for direct client uploads.
func (b *BlobStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > time.Hour {
		ttl = DefaultPresignTTL
	}
	url, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", common.Wrap(common.KindTransientIO, "failed to presign upload", err)
	}
	return url, nil
}

// Delete removes a single blob. Missing blobs are not an error.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return common.Wrap(common.KindTransientIO, "blob delete failed", err)
	}
	return nil
}

// DeletePrefix removes every blob under a prefix. Used by deal deletion.
func (b *BlobStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	deleted := 0
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return deleted, common.Wrap(common.KindTransientIO, "blob listing failed", err)
		}
		for _, obj := range out.Contents {
			if err := b.Delete(ctx, aws.ToString(obj.Key)); err != nil {
				return deleted, err
			}
			deleted++
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return deleted, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}
