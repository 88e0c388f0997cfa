// Package storage provides S3-compatible object storage for the raw upstream
// snapshots of stored articles.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dkoeder/gleaner/internal/config"
)

// Client wraps an S3-compatible object store. An unconfigured client is
// valid; every write becomes a no-op so deployments without object storage
// keep working.
type Client struct {
	s3     *s3.Client
	bucket string
}

// NewClient creates a storage client for any S3-compatible endpoint.
func NewClient(ctx context.Context, cfg config.S3Config) (*Client, error) {
	if cfg.Endpoint == "" {
		slog.Warn("S3 endpoint not configured, snapshot storage disabled")
		return &Client{bucket: cfg.Bucket}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &cfg.Endpoint
		o.UsePathStyle = true
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Configured reports whether uploads actually go anywhere.
func (c *Client) Configured() bool {
	return c.s3 != nil
}

func snapshotKey(feedID, articleID int64) string {
	return fmt.Sprintf("snapshots/%d/%d.html.gz", feedID, articleID)
}

// StoreSnapshot compresses and uploads the raw upstream payload of one
// article.
func (c *Client) StoreSnapshot(ctx context.Context, feedID, articleID int64, raw []byte) error {
	if c.s3 == nil || len(raw) == 0 {
		return nil
	}

	body, err := gzipCompress(raw)
	if err != nil {
		return fmt.Errorf("storage: compress snapshot: %w", err)
	}

	key := snapshotKey(feedID, articleID)
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}

	slog.Debug("snapshot uploaded", "key", key, "size", len(body))
	return nil
}

// GetSnapshot retrieves and decompresses one article's snapshot.
func (c *Client) GetSnapshot(ctx context.Context, feedID, articleID int64) ([]byte, error) {
	if c.s3 == nil {
		return nil, fmt.Errorf("storage: not configured")
	}

	key := snapshotKey(feedID, articleID)
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	raw, err := gzipDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress %s: %w", key, err)
	}
	return raw, nil
}

// DeleteSnapshot removes one article's snapshot. A missing object is not an
// error.
func (c *Client) DeleteSnapshot(ctx context.Context, feedID, articleID int64) error {
	if c.s3 == nil {
		return nil
	}

	key := snapshotKey(feedID, articleID)
	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}); err != nil {
		slog.Debug("snapshot delete (may not exist)", "key", key, "err", err)
	}
	return nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
