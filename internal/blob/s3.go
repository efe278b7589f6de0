package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrNoPublicBaseURL is returned when the S3 gateway has no base URL to form
// references from.
var ErrNoPublicBaseURL = errors.New("blob: s3 gateway requires a public base url")

// ObjectAPI is the part of *s3.Client the gateway uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configure an S3-compatible bucket.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS
	AccessKey string
	SecretKey string
	PathStyle bool
	// PublicBaseURL is joined with the object key to form the stored
	// reference. Required.
	PublicBaseURL string
}

// S3 uploads to an S3-compatible bucket.
type S3 struct {
	api    ObjectAPI
	opts   S3Options
	logger *zap.Logger
}

// NewS3 loads AWS configuration and connects to the bucket. Static
// credentials are used when an access key is configured.
func NewS3(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3, error) {
	if opts.PublicBaseURL == "" {
		return nil, ErrNoPublicBaseURL
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewS3WithClient(client, opts, logger), nil
}

// NewS3WithClient builds a gateway over an existing client.
func NewS3WithClient(api ObjectAPI, opts S3Options, logger *zap.Logger) *S3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{api: api, opts: opts, logger: logger.Named("blob.s3")}
}

// Upload implements Gateway.
func (g *S3) Upload(ctx context.Context, data []byte, name string) (string, error) {
	return g.put(ctx, bytes.NewReader(data), int64(len(data)), name)
}

// UploadFile implements Gateway.
func (g *S3) UploadFile(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrUploadFailed, localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", ErrUploadFailed, localPath, err)
	}
	return g.put(ctx, f, info.Size(), name)
}

func (g *S3) put(ctx context.Context, body io.Reader, size int64, name string) (string, error) {
	key, err := cleanName(name)
	if err != nil {
		return "", err
	}
	_, err = g.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.opts.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		g.logger.Error("put object", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: put %s: %v", ErrUploadFailed, key, err)
	}
	g.logger.Info("object stored", zap.String("key", key), zap.Int64("bytes", size))

	ref, err := g.resolve(ctx, key)
	if err != nil {
		g.logger.Error("resolve reference", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %v", ErrReferenceResolutionFailed, key, err)
	}
	return ref, nil
}

func (g *S3) resolve(ctx context.Context, key string) (string, error) {
	if _, err := g.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.opts.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return "", fmt.Errorf("head object: %w", err)
	}
	if g.opts.PublicBaseURL == "" {
		return "", ErrNoPublicBaseURL
	}
	return url.JoinPath(g.opts.PublicBaseURL, key)
}
