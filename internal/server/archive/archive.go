// Package archive keeps generated documents in S3-compatible object storage
// (MinIO in development) and hands out short-lived download links.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

// DefaultLinkTTL is how long a presigned download link stays valid.
const DefaultLinkTTL = 15 * time.Minute

const serviceName = "storage"

type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Store struct {
	objects objectAPI
	presign presignAPI
	bucket  string
}

// NewS3Store builds a client with static credentials. Path-style addressing
// is forced so that MinIO endpoints work without bucket DNS.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.User,
			cfg.Password,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{
		objects: client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return common.ExternalError(serviceName, err)
	}
	return nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", common.ExternalError(serviceName, err)
	}
	return req.URL, nil
}

// NewDocumentID names one archived document; its renditions share it.
func NewDocumentID() string {
	return uuid.NewString()
}

// HarvestKey is the object key of an archived pickup sheet:
// harvest/<tenant>/<yyyy-mm-dd>/<id>.<ext>.
func HarvestKey(tenantID string, day time.Time, id, ext string) string {
	return fmt.Sprintf("harvest/%s/%s/%s.%s", tenantID, day.Format("2006-01-02"), id, ext)
}
