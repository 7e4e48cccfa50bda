package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig selects an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Prefix    string // Prepended to every key
}

// Minio stores objects in an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinio connects to cfg.Endpoint and creates the bucket if it does not
// exist yet.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Minio{client: client, cfg: cfg}, nil
}

func (m *Minio) object(key string) string {
	if m.cfg.Prefix == "" {
		return key
	}
	return path.Join(m.cfg.Prefix, key)
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, m.object(key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m *Minio) Open(ctx context.Context, key string) (io.ReadSeekCloser, Info, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, m.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, Info{}, m.wrap(key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, Info{}, m.wrap(key, err)
	}
	return obj, Info{Size: st.Size, ContentType: st.ContentType, ModTime: st.LastModified}, nil
}

func (m *Minio) wrap(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return notFound(key)
	}
	return fmt.Errorf("fetch %s: %w", key, err)
}

// Location renders key as an s3:// URL.
func (m *Minio) Location(key string) string {
	return "s3://" + m.cfg.Bucket + "/" + m.object(key)
}

// RemovePrefix deletes every object whose key starts with prefix + "/".
func (m *Minio) RemovePrefix(ctx context.Context, prefix string) error {
	if strings.Trim(prefix, "./") == "" {
		return fmt.Errorf("refusing to remove bucket root")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := m.client.ListObjects(ctx, m.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    m.object(prefix) + "/",
		Recursive: true,
	})
	for rerr := range m.client.RemoveObjects(ctx, m.cfg.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return nil
}
