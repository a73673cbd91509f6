// Package storage 提供源文件与输出文件的读写
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound 文件不存在
var ErrNotFound = errors.New("file not found")

// ErrInvalidRef 非法引用
var ErrInvalidRef = errors.New("invalid file reference")

// FileStore 以引用字符串寻址的文件存储
type FileStore interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Create(ctx context.Context, ref string) (io.WriteCloser, error)
	Delete(ctx context.Context, ref string) error
}

// Config 文件存储配置
type Config struct {
	Driver    string `mapstructure:"driver"`
	Root      string `mapstructure:"root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Driver: "local", Root: "."}
}

// Closer 释放存储持有的资源
type Closer func() error

// New 根据配置创建文件存储
func New(ctx context.Context, cfg Config) (FileStore, Closer, error) {
	switch cfg.Driver {
	case "", "local":
		store, err := NewLocalStore(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	case "gcs":
		store, err := NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported file store driver: %s", cfg.Driver)
	}
}

// OutputRef 任务输出文件的引用
func OutputRef(jobID, ext string) string {
	return "outputs/" + jobID + ext
}
