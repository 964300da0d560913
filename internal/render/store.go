package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists rendered artifacts and returns a reference to them.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// FileStore keeps artifacts under a local directory.
type FileStore struct {
	Dir string
}

// Put writes body to Dir/key and returns the file path.
func (s FileStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("render: create storage dir: %w", err)
	}
	if err := os.WriteFile(target, body, 0o640); err != nil {
		return "", fmt.Errorf("render: write artifact: %w", err)
	}
	return target, nil
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures S3Store. Endpoint is set for S3 compatible services such as MinIO.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Store keeps artifacts in an S3 bucket.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store loads the default AWS credential chain and builds the store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("render: s3 bucket required")
	}
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("render: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Put uploads body and returns an s3:// reference.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := key
	if s.prefix != "" {
		objectKey = path.Join(s.prefix, key)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("render: upload %s: %w", objectKey, err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}
