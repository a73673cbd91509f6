package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStoreVersion 文件格式版本
const FileStoreVersion = "1.0.0"

// fileData 文件内容
type fileData struct {
	Version string          `json:"version"`
	Jobs    map[string]*Job `json:"jobs"`
}

// FileStore JSON 文件存储，每次操作都重新读取文件，多个进程可共享同一文件
type FileStore struct {
	filePath string
	mutex    sync.Mutex
	logger   *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore 创建文件存储
func NewFileStore(filePath string, logger *zap.Logger) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("job store path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job store directory: %w", err)
	}

	s := &FileStore{filePath: filePath, logger: logger}
	data, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load job store: %w", err)
	}
	logger.Debug("opened job store",
		zap.String("path", filePath),
		zap.Int("jobs", len(data.Jobs)))
	return s, nil
}

// load 读取文件（需要已持有锁）
func (s *FileStore) load() (*fileData, error) {
	raw, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return &fileData{Version: FileStoreVersion, Jobs: make(map[string]*Job)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job store file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse job store file: %w", err)
	}
	if data.Jobs == nil {
		data.Jobs = make(map[string]*Job)
	}
	return &data, nil
}

// saveUnsafe 原子写入（需要已持有锁）
func (s *FileStore) saveUnsafe(data *fileData) error {
	data.Version = FileStoreVersion

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job store: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp job store file: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to replace job store file: %w", err)
	}
	return nil
}

// Create 创建记录
func (s *FileStore) Create(ctx context.Context, job *Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data.Jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, job.ID)
	}
	data.Jobs[job.ID] = job.Clone()
	return s.saveUnsafe(data)
}

// Get 获取记录
func (s *FileStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	job, ok := data.Jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// Update 读改写
func (s *FileStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	job, ok := data.Jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.saveUnsafe(data); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Delete 删除记录
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data.Jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(data.Jobs, id)
	return s.saveUnsafe(data)
}

// List 列出记录
func (s *FileStore) List(ctx context.Context, filter Filter) ([]*Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]*Job, 0, len(data.Jobs))
	for _, job := range data.Jobs {
		if filter.Match(job) {
			out = append(out, job)
		}
	}
	return filter.apply(out), nil
}
