package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

// Sink stores a rendered report under name.
type Sink interface {
	Put(ctx context.Context, name string, format Format, data []byte) error
	Type() string
}

// FileSink writes reports below a root directory.
type FileSink struct {
	rootDir string
}

func NewFileSink(rootDir string) *FileSink {
	return &FileSink{rootDir: rootDir}
}

// PathFor returns the full path of the report file.
func (s *FileSink) PathFor(name string) string {
	return filepath.Join(s.rootDir, name)
}

func (s *FileSink) Put(_ context.Context, name string, _ Format, data []byte) error {
	path := s.PathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	zap.S().Named("report").Infof("report written to %s", path)
	return nil
}

func (s *FileSink) Type() string {
	return "file"
}

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	region          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newMinioConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		region: "us-east-1",
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioSink uploads reports to an S3 compatible bucket.
type MinioSink struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioSink(opts ...MinioOpts) (*MinioSink, error) {
	cfg := newMinioConfig(opts...)
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, fmt.Errorf("report upload needs an endpoint and a bucket")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, err
	}

	return &MinioSink{cfg: cfg, client: client}, nil
}

func (s *MinioSink) Put(ctx context.Context, name string, format Format, data []byte) error {
	key := name
	if s.cfg.prefix != "" {
		key = s.cfg.prefix + "/" + name
	}
	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: format.ContentType()})
	if err != nil {
		return fmt.Errorf("uploading report to %s/%s: %w", s.cfg.bucket, key, err)
	}
	zap.S().Named("report").Infof("report uploaded to %s/%s (%d bytes)", info.Bucket, info.Key, info.Size)
	return nil
}

func (s *MinioSink) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithPrefix(prefix string) MinioOpts {
	return func(c *minioConfig) {
		c.prefix = prefix
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		if region != "" {
			c.region = region
		}
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}

// Publish renders the outcomes once and hands the result to every sink. All sinks are
// tried; the first error is returned.
func Publish(ctx context.Context, renderer Renderer, name string, outcomes []migration.Outcome, sinks ...Sink) error {
	data, err := renderer.Render(outcomes)
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	var first error
	for _, s := range sinks {
		if err := s.Put(ctx, name, renderer.SupportedFormat(), data); err != nil {
			zap.S().Named("report").Errorf("%s sink: %v", s.Type(), err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
