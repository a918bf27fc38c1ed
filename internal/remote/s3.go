package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds S3/MinIO settings for the release bucket.
type S3Config struct {
	// Endpoint is the S3 endpoint URL (e.g. "http://localhost:9000" for MinIO).
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:9000"`

	Region string `env:"REGION" envDefault:"us-east-1"`

	Bucket string `env:"BUCKET" envDefault:"calendar-releases"`

	AccessKeyID     string `env:"ACCESS_KEY_ID"     envDefault:"minioadmin"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"minioadmin"`

	// UsePathStyle is required for MinIO.
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"true"`

	// Key is the object holding the latest descriptor.
	Key string `env:"KEY" envDefault:"releases/latest.json"`
}

// S3Client reads and writes the descriptor object.
type S3Client struct {
	client *s3.Client
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Client creates an S3 client with static credentials and a custom
// endpoint.
func NewS3Client(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("S3 client created",
		"endpoint", cfg.Endpoint,
		"bucket", cfg.Bucket,
		"key", cfg.Key,
	)

	return &S3Client{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "s3-client"),
	}, nil
}

// Fetch downloads the descriptor object.
func (c *S3Client) Fetch(ctx context.Context) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.cfg.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			return nil, fmt.Errorf("%w: bucket %s missing", ErrPermanent, c.cfg.Bucket)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDescriptorBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if len(data) > maxDescriptorBytes {
		return nil, fmt.Errorf("%w: descriptor larger than %d bytes", ErrPermanent, maxDescriptorBytes)
	}
	return data, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	}); err == nil {
		return nil
	}

	c.logger.Info("creating bucket", "bucket", c.cfg.Bucket)
	if _, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Publish uploads descriptor JSON as the latest release object.
func (c *S3Client) Publish(ctx context.Context, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.cfg.Bucket),
		Key:          aws.String(c.cfg.Key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	c.logger.Info("descriptor published", "key", c.cfg.Key, "size_bytes", len(data))
	return nil
}
