/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures access to S3-compatible object storage.
type S3Config struct {
	Region          string
	Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool // Required for MinIO
}

// S3API is the subset of the S3 client used for ranged reads.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from static or default credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri needs bucket and key: %s", uri)
	}
	return u.Host, key, nil
}

// OpenS3 opens an object in S3-compatible storage as a seekable resource.
func OpenS3(ctx context.Context, client S3API, uri string, logger zerolog.Logger) (Resource, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	res, err := newRemoteResource(ctx, uri, &s3Fetcher{client: client, bucket: bucket, key: key}, logger)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type s3Fetcher struct {
	client S3API
	bucket string
	key    string
	length int64
}

func (f *s3Fetcher) Stat(ctx context.Context) (int64, bool, error) {
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return 0, false, fmt.Errorf("head object: %w", err)
	}

	f.length = -1
	if out.ContentLength != nil {
		f.length = *out.ContentLength
	}
	return f.length, true, nil
}

func (f *s3Fetcher) Fetch(ctx context.Context, off, n int64) ([]byte, error) {
	if f.length >= 0 && off >= f.length {
		return nil, nil
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(io.LimitReader(out.Body, n))
}
