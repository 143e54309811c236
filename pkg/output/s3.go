package output

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultRegion = "us-east-1"

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink mirrors reports to a bucket under an optional key prefix.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Sink(client S3API, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

// LoadS3Sink builds a sink from the default AWS credential chain.
func LoadS3Sink(ctx context.Context, bucket, prefix, region string) (*S3Sink, error) {
	opts := []func(*config.LoadOptions) error{config.WithDefaultRegion(DefaultRegion)}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return NewS3Sink(s3.NewFromConfig(awsCfg), bucket, prefix)
}

func (s *S3Sink) Upload(ctx context.Context, name string, body io.Reader) error {
	contentType := "application/json"
	if path.Ext(name) == ".gz" {
		contentType = "application/gzip"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Join(s.prefix, name)),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", name, s.bucket, err)
	}
	return nil
}
