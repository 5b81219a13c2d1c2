package rasterstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = eris.New("rasterstore: object not found")

// Bucket is the object storage surface the store needs.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// MinioConfig holds object store connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBucket is a Bucket on an S3-compatible server.
type MinioBucket struct {
	client *minio.Client
	bucket string
}

// NewMinioBucket creates a client without contacting the server.
func NewMinioBucket(cfg MinioConfig) (*MinioBucket, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("rasterstore: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "rasterstore: create minio client")
	}
	return &MinioBucket{client: client, bucket: cfg.Bucket}, nil
}

// OpenMinio creates the client and makes sure the bucket exists.
func OpenMinio(ctx context.Context, cfg MinioConfig) (*MinioBucket, error) {
	b, err := NewMinioBucket(cfg)
	if err != nil {
		return nil, err
	}
	exists, err := b.client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "rasterstore: check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "rasterstore: create bucket %s", cfg.Bucket)
		}
		zap.L().Info("rasterstore: created bucket", zap.String("bucket", cfg.Bucket))
	}
	return b, nil
}

func (b *MinioBucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "rasterstore: get %s", key)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, eris.Wrapf(ErrNotFound, "rasterstore: get %s", key)
		}
		return nil, eris.Wrapf(err, "rasterstore: read %s", key)
	}
	return data, nil
}

func (b *MinioBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return eris.Wrapf(err, "rasterstore: put %s", key)
}

// MemoryBucket is an in-process Bucket for tests and local runs.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string][]byte)}
}

func (m *MemoryBucket) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "rasterstore: get %s", key)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryBucket) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	return nil
}
