package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/OFFIS-RIT/linkgraph/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the part of *s3.Client the bucket uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Bucket reads datasets from and writes graph snapshots to one S3 bucket.
type Bucket struct {
	client ObjectAPI
	name   string
}

func NewBucket(client ObjectAPI, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// NewBucketFromEnv builds a Bucket for AWS_BUCKET. It returns nil when no
// bucket is configured.
func NewBucketFromEnv(ctx context.Context) (*Bucket, error) {
	name := util.GetEnv("AWS_BUCKET")
	if name == "" {
		return nil, nil
	}
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewBucket(client, name), nil
}

// OpenFile streams an object. The caller closes the reader.
func (b *Bucket) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s from S3: %w", key, err)
	}
	return result.Body, nil
}

// PutJSON uploads data under prefix/<name>.json and returns the key.
func (b *Bucket) PutJSON(ctx context.Context, prefix, name string, data []byte) (string, error) {
	key := path.Join(prefix, name+".json")
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return key, nil
}

// SnapshotKeyName names a snapshot by its creation time and a job id.
func SnapshotKeyName(at time.Time, id string) string {
	return at.UTC().Format("20060102T150405Z") + "-" + id
}

// ListFilesWithPrefix returns every key under prefix that ends in suffix.
// An empty suffix matches everything.
func (b *Bucket) ListFilesWithPrefix(ctx context.Context, prefix, suffix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := b.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, suffix) {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
