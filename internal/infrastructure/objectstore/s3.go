package objectstore

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
)

// S3Store implements ObjectStore against AWS S3 or an S3-compatible endpoint
// (MinIO, R2) — same client, same API, a custom endpoint resolver is the only
// difference between the two modes.
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// Config holds S3/MinIO connection settings.
type Config struct {
	Endpoint        string // non-empty selects the S3-compatible path (MinIO, R2); empty means AWS S3
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("S3 credentials required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	}

	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
	}, nil
}

func (s *S3Store) Download(ctx context.Context, key, localPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyDownloadErr(err, key)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return apperrors.Download(false, key, "other").WithCause(err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return apperrors.Download(false, key, "other").WithCause(err)
	}
	defer f.Close()

	if _, err := io.Copy(f, result.Body); err != nil {
		return classifyDownloadErr(err, key)
	}

	return nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Metadata{}, classifyDownloadErr(err, key)
	}

	meta := Metadata{ContentLength: aws.ToInt64(out.ContentLength)}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	return meta, nil
}

func (s *S3Store) GenerateUploadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// classifyDownloadErr always reports permanent=false: the pipeline's
// failure-classification table treats every download failure, including a
// missing object, as retryable. The reason string is kept for logging and
// for future callers that want finer-grained handling.
func classifyDownloadErr(err error, key string) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return apperrors.Download(false, key, "not_found").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Download(false, key, "timeout").WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Download(false, key, "timeout").WithCause(err)
	}

	return apperrors.Download(false, key, "other").WithCause(err)
}
