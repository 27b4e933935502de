// Package storage moves release artifacts and log bundles to and from S3.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fly-io/clusterops/pkg/errors"
)

// Scheme prefixes object locations accepted wherever a local path is.
const Scheme = "s3://"

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	s3Client API
}

// NewClient creates an S3 client using the default credential chain.
func NewClient(ctx context.Context, region string) (*Client, error) {
	slog.Info("s3_client_init", "region", region)

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{s3Client: s3.NewFromConfig(cfg)}, nil
}

// NewClientFromAPI wraps an existing S3 implementation.
func NewClientFromAPI(api API) *Client {
	return &Client{s3Client: api}
}

// Location is a parsed s3://bucket/key reference.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Key
}

// IsURI reports whether s names an S3 object rather than a local file.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (Location, error) {
	if !IsURI(uri) {
		return Location{}, fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, Scheme), "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return Location{}, fmt.Errorf("s3 uri %q must name a bucket and an object key", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Fetch downloads the object at uri into dstDir, keeping its base name.
func (c *Client) Fetch(ctx context.Context, uri, dstDir string) (*DownloadResult, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}
	return c.Download(ctx, loc, filepath.Join(dstDir, path.Base(loc.Key)))
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, loc Location, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", loc.Bucket, "s3_key", loc.Key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", loc.Key, "error", err)
		return nil, errors.Wrap(err, "failed to get object "+loc.String())
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", loc.Key, "error", err)
		os.Remove(localPath)
		return nil, errors.Wrap(err, "failed to download "+loc.String())
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("s3_download_complete",
		"s3_key", loc.Key,
		"size_mb", size/1024/1024,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Upload stores localPath at uri.
func (c *Client) Upload(ctx context.Context, localPath, uri string) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "failed to open upload source")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat upload source")
	}

	slog.Info("s3_upload_start", "bucket", loc.Bucket, "s3_key", loc.Key, "size_mb", info.Size()/1024/1024)
	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		slog.Error("s3_upload_failed", "s3_key", loc.Key, "error", err)
		return errors.Wrap(err, "failed to upload to "+loc.String())
	}

	slog.Info("s3_upload_complete", "s3_key", loc.Key)
	return nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, uri string) (bool, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return false, err
	}

	_, err = c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var notFound *types.NotFound
		if stderrors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", loc.Key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", loc.Key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}
