// Package objectstore is the Object Storage Adapter (C9): it uploads JSONL
// input manifests for batch submission and lists/downloads JSONL output
// after a batch completes. A narrow ObjectStore interface keeps the rest of
// the pipeline independent of the AWS SDK so tests can inject a fake.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the narrow surface the content store and batch orchestrator
// need from object storage.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// List returns keys under prefix; only .jsonl and .out are meaningful to
	// the orchestrator's result-ingestion step, but List returns everything
	// under the prefix and lets the caller filter.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// s3API is the subset of the S3 client the adapter calls, so tests can
// substitute a stub without standing up a real endpoint.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store is the concrete S3-compatible ObjectStore adapter. It works
// against AWS S3 or any S3-compatible endpoint (MinIO, R2, ...) by setting
// BaseEndpoint.
type S3Store struct {
	client s3API
}

// Config configures the S3-compatible endpoint.
type Config struct {
	Region      string
	BaseEndpoint string // empty targets AWS S3 directly
}

// NewS3Store builds an S3Store from the ambient AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client}, nil
}

// NewS3StoreWithAPI allows injecting a stub client for tests.
func NewS3StoreWithAPI(api s3API) *S3Store {
	return &S3Store{client: api}
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return keys, nil
}

// IsJSONLOutput reports whether a key looks like a batch output record file,
// matching the ".jsonl"/".out" naming convention used for result ingestion.
func IsJSONLOutput(key string) bool {
	return strings.HasSuffix(key, ".jsonl") || strings.HasSuffix(key, ".out")
}
