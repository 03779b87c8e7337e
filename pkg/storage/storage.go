// Package storage is the client for the firmware distribution bucket.
// Images are staged from S3 into the local image folder before a fleet
// run pushes them to devices.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/campus-netops/fleetup/pkg/errors"
)

// Client provides S3 operations against the image bucket.
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a client for the image bucket using the ambient AWS
// credentials.
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// DownloadResult contains download metadata. MD5 is what devices verify
// images against, so it is computed on the way down.
type DownloadResult struct {
	LocalPath string
	MD5       string
	Size      int64
}

// Download fetches an object into the local path and computes its MD5.
func (c *Client) Download(ctx context.Context, key, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := md5.New() //nolint:gosec // devices verify flash images with MD5
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("s3_download_complete",
		"key", key, "size_mb", size/1024/1024, "local_path", localPath, "md5", checksum)

	return &DownloadResult{LocalPath: localPath, MD5: checksum, Size: size}, nil
}

// ListObjects lists all object keys under a prefix.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// Exists checks whether an object exists in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			slog.Info("s3_object_not_found", "key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

// Sync stages the named images into the image folder. Images already
// present with the expected checksum are skipped; a downloaded image whose
// checksum disagrees with the expected one is an error, the file is left
// in place for inspection.
func (c *Client) Sync(ctx context.Context, imageFolder string, images map[string]string) error {
	if err := os.MkdirAll(imageFolder, 0o755); err != nil {
		return errors.Wrap(err, "create image folder")
	}

	for name, wantMD5 := range images {
		localPath := filepath.Join(imageFolder, name)

		if sum, err := fileMD5(localPath); err == nil && sum == wantMD5 {
			slog.Info("image_already_staged", "image", name)
			continue
		}

		result, err := c.Download(ctx, name, localPath)
		if err != nil {
			return err
		}
		if wantMD5 != "" && result.MD5 != wantMD5 {
			slog.Error("image_checksum_mismatch", "image", name, "expected", wantMD5, "actual", result.MD5)
			return errors.Wrapf(errChecksum, "image %s", name)
		}
	}
	return nil
}

var errChecksum = errors.New("downloaded image checksum mismatch")

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New() //nolint:gosec // devices verify flash images with MD5
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
