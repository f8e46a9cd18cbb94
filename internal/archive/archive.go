// Package archive copies graph snapshots and exports to object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arclabs561/decksage-sub002/internal/logger"
)

const (
	PrefixSnapshots = "snapshots/"
	PrefixExports   = "exports/"
)

// Client wraps a MinIO client bound to one bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Init creates the bucket if it doesn't exist
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ObjectName builds a unique, time-ordered object name under prefix for a
// local file, keeping its extension.
func ObjectName(prefix, localPath string, at time.Time) string {
	at = at.UTC()
	base := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	name := fmt.Sprintf("%s-%s-%s%s", at.Format("20060102T150405Z"), base, uuid.NewString()[:8], filepath.Ext(localPath))
	return path.Join(strings.TrimSuffix(prefix, "/"), at.Format("2006/01"), name)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".txt", ".tsv", ".edgelist":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// UploadFile uploads a local file and returns its object name.
func (c *Client) UploadFile(ctx context.Context, prefix, localPath string) (string, error) {
	name := ObjectName(prefix, localPath, time.Now())

	info, err := c.mc.FPutObject(ctx, c.bucket, name, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to %s/%s: %w", localPath, c.bucket, name, err)
	}

	logger.Info("file archived", "bucket", c.bucket, "name", name, "size", info.Size)
	return name, nil
}

// DownloadFile fetches an object into localPath.
func (c *Client) DownloadFile(ctx context.Context, name, localPath string) error {
	if err := c.mc.FGetObject(ctx, c.bucket, name, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", c.bucket, name, err)
	}
	logger.Debug("file downloaded", "bucket", c.bucket, "name", name, "path", localPath)
	return nil
}

// List returns the objects under prefix, oldest first.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Name:    obj.Key,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}

	sortObjects(objects)
	return objects, nil
}

func sortObjects(objects []ObjectInfo) {
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
}

// Latest returns the newest object under prefix.
func (c *Client) Latest(ctx context.Context, prefix string) (ObjectInfo, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(objects) == 0 {
		return ObjectInfo{}, fmt.Errorf("no objects under %s/%s", c.bucket, prefix)
	}
	return objects[len(objects)-1], nil
}

func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.bucket, name, err)
	}
	return nil
}

// Prune deletes all but the newest keep objects under prefix.
func (c *Client) Prune(ctx context.Context, prefix string, keep int) (int, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	stale := pruneCandidates(objects, keep)
	for _, obj := range stale {
		if err := c.Delete(ctx, obj.Name); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		logger.Info("archive pruned", "prefix", prefix, "deleted", len(stale), "kept", keep)
	}
	return len(stale), nil
}

// pruneCandidates expects objects oldest first.
func pruneCandidates(objects []ObjectInfo, keep int) []ObjectInfo {
	if keep < 0 || len(objects) <= keep {
		return nil
	}
	return objects[:len(objects)-keep]
}

// Healthy checks if MinIO is reachable
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
