package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore 本地目录存储，引用为相对根目录的斜杠路径
type LocalStore struct {
	root string
}

var _ FileStore = (*LocalStore)(nil)

// NewLocalStore 创建本地存储
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Root 根目录
func (s *LocalStore) Root() string {
	return s.root
}

// Path 把引用解析为根目录下的路径，拒绝越出根目录的引用
func (s *LocalStore) Path(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRef)
	}

	var path string
	if filepath.IsAbs(ref) {
		path = filepath.Clean(ref)
	} else {
		path = filepath.Join(s.root, filepath.FromSlash(ref))
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes storage root", ErrInvalidRef, ref)
	}
	return path, nil
}

// Open 打开文件
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return f, nil
}

// Create 创建文件，必要时创建父目录
func (s *LocalStore) Create(ctx context.Context, ref string) (io.WriteCloser, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", ref, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", ref, err)
	}
	return f, nil
}

// Delete 删除文件
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}
