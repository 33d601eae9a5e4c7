package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures S3Blobs.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO or LocalStack
	Prefix   string // optional key prefix, e.g. "datatrack/"
}

// S3Blobs stores blobs in an S3 bucket.
type S3Blobs struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Blobs loads the default AWS credential chain for cfg.Region.
func NewS3Blobs(ctx context.Context, cfg S3Config) (*S3Blobs, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("evidence: s3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("evidence: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Blobs{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads data unless the key already exists.
func (b *S3Blobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	k := b.prefix + key
	uri := fmt.Sprintf("s3://%s/%s", b.bucket, k)

	if ok, err := b.Exists(ctx, key); err == nil && ok {
		return uri, nil
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(k),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("evidence: s3 put %s: %w", k, err)
	}
	return uri, nil
}

// Get downloads a blob.
func (b *S3Blobs) Get(ctx context.Context, key string) ([]byte, error) {
	k := b.prefix + key
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("evidence: s3 get %s: %w", k, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// Exists issues a HeadObject.
func (b *S3Blobs) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("evidence: s3 head %s: %w", key, err)
	}
	return true, nil
}
