package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"cloud.google.com/go/storage"
)

// GCSStore Cloud Storage 存储，引用为对象名
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	owned  bool
}

var _ FileStore = (*GCSStore)(nil)

// NewGCSStore 创建客户端并打开存储桶
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket must be provided")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	s := NewGCSStoreWithClient(client, bucket)
	s.owned = true
	return s, nil
}

// NewGCSStoreWithClient 使用已有客户端
func NewGCSStoreWithClient(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: client.Bucket(bucket)}
}

// Close 关闭自建的客户端
func (s *GCSStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// Open 读取对象
func (s *GCSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	r, err := s.bucket.Object(ref).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read gcs object %s: %w", ref, err)
	}
	return r, nil
}

// Create 写入对象，Close 时提交
func (s *GCSStore) Create(ctx context.Context, ref string) (io.WriteCloser, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	w := s.bucket.Object(ref).NewWriter(ctx)
	if ct := mime.TypeByExtension(path.Ext(ref)); ct != "" {
		w.ContentType = ct
	}
	return w, nil
}

// Delete 删除对象
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	if err := s.bucket.Object(ref).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("failed to delete gcs object %s: %w", ref, err)
	}
	return nil
}
