package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/makeasinger/mediagen/internal/config"
)

// StorageClient hosts reference images for providers that only accept URLs,
// and results too large to keep inline.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// R2Client stores objects in Cloudflare R2 or any S3-compatible bucket.
type R2Client struct {
	s3     *s3.Client
	bucket string
	base   string
}

// NewR2Client returns nil, nil when storage is not configured.
func NewR2Client(cfg config.StorageConfig) (*R2Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, nil
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	pathStyle := endpoint != ""
	if !pathStyle {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("storage endpoint or account id required")
		}
		endpoint = "https://" + cfg.AccountID + ".r2.cloudflarestorage.com"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		base = endpoint + "/" + cfg.BucketName
	}

	return &R2Client{
		s3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = pathStyle
		}),
		bucket: cfg.BucketName,
		base:   base,
	}, nil
}

// Upload stores body under key and returns the object's public URL.
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return c.PublicURL(key), nil
}

func (c *R2Client) PublicURL(key string) string {
	return c.base + "/" + key
}

// UploadDataURL decodes an inline data URL (or bare base64) and stores it
// under prefix with a generated name. It returns the public URL.
func UploadDataURL(ctx context.Context, storage StorageClient, prefix, data, fallbackMime string) (string, error) {
	contentType, payload := splitDataURL(data, fallbackMime)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	key := strings.Trim(prefix, "/") + "/" + uuid.NewString() + extensionFor(contentType)
	return storage.Upload(ctx, key, bytes.NewReader(raw), contentType)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
