package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/model"
)

const signedURLExpiry = 24 * time.Hour

// Archiver stores finished audio outside the broker and returns a URL for it
type Archiver interface {
	Archive(ctx context.Context, key string, wav []byte) (string, error)
}

// ArchiveKey is the object key of a job's audio
func ArchiveKey(tier model.Tier, jobID string) string {
	return fmt.Sprintf("tts/%s/%s.wav", tier, jobID)
}

// R2Client archives audio to Cloudflare R2 through the S3 API
type R2Client struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	publicURL  string
}

// NewR2Client creates a client for the account's R2 endpoint
func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	return NewR2ClientWithEndpoint(cfg, fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
}

// NewR2ClientWithEndpoint targets any S3-compatible endpoint
func NewR2ClientWithEndpoint(cfg *config.R2Config, endpoint string) (*R2Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		bucketName: cfg.BucketName,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Archive uploads wav under key. Without a public URL a day-long presigned link is returned.
func (c *R2Client) Archive(ctx context.Context, key string, wav []byte) (string, error) {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(wav),
		ContentType:   aws.String("audio/wav"),
		ContentLength: aws.Int64(int64(len(wav))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	if c.publicURL != "" {
		return c.publicURL + "/" + key, nil
	}

	presigned, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(signedURLExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presigned.URL, nil
}
