package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3PutObjectAPI is the part of *s3.Client used by S3Transport.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Transport uploads to s3://bucket/key destinations.
type S3Transport struct {
	client S3PutObjectAPI
}

// NewS3Transport wraps an S3 client.
func NewS3Transport(client S3PutObjectAPI) *S3Transport {
	return &S3Transport{client: client}
}

// NewS3TransportFromEnv builds a client from the default AWS credential chain.
func NewS3TransportFromEnv(ctx context.Context) (*S3Transport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return NewS3Transport(s3.NewFromConfig(cfg)), nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("s3 url needs a bucket and a key")
	}
	return bucket, key, nil
}

// Put implements Transport.
func (t *S3Transport) Put(ctx context.Context, rawURL string, contentType string, body []byte) error {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return &UploadError{URL: rawURL, Err: err}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := t.client.PutObject(ctx, input); err != nil {
		return &UploadError{URL: rawURL, Err: err}
	}
	return nil
}
