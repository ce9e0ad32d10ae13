// Package s3 stores artifacts in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
)

// Config configures the S3 backend
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string // non-empty for S3-compatible services (path-style)
	PublicBaseURL string // empty = virtual-hosted AWS URL

	// Static credentials; empty = default AWS credential chain
	AccessKeyID     string
	SecretAccessKey string

	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// API is the subset of the S3 client this backend uses
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements storage.Storage
type Store struct {
	api           API
	bucket        string
	region        string
	publicBaseURL string
	timeout       time.Duration
	logger        *zap.SugaredLogger
}

// New creates an S3 backend from the default AWS config chain
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage needs a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" && cfg.Endpoint != "" {
		publicBase = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return NewWithAPI(client, cfg.Bucket, awsCfg.Region, publicBase, cfg.Timeout, cfg.Logger), nil
}

// NewWithAPI creates a backend over an existing client
func NewWithAPI(api API, bucket, region, publicBaseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Store {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		api:           api,
		bucket:        bucket,
		region:        region,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		timeout:       timeout,
		logger:        logger.Named("s3"),
	}
}

// PublicURL is the public download URL of an object
func (s *Store) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	if s.region == "" || s.region == "us-east-1" {
		return "https://" + s.bucket + ".s3.amazonaws.com/" + key
	}
	return "https://" + s.bucket + ".s3." + s.region + ".amazonaws.com/" + key
}

// Upload writes data at key. IfNoneMatch keeps existing objects intact.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}

	s.logger.Debugw("Object uploaded", "bucket", s.bucket, "key", key, "size", len(data))
	return s.PublicURL(key), nil
}

// Remove deletes the object at key
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "delete s3://%s/%s", s.bucket, key)
	}
	return nil
}
