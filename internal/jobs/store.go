package jobs

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Store 任务记录存储，所有修改都通过 Update 的原子读改写完成
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]*Job, error)
}

// Filter 列表过滤条件
type Filter struct {
	OwnerID  string
	Statuses []Status
	Limit    int
}

// Match 判断记录是否满足过滤条件
func (f Filter) Match(job *Job) bool {
	if f.OwnerID != "" && job.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, job.Status) {
		return false
	}
	return true
}

// apply 按创建时间排序并截断
func (f Filter) apply(list []*Job) []*Job {
	sort.SliceStable(list, func(i, k int) bool {
		if list[i].CreatedAt.Equal(list[k].CreatedAt) {
			return list[i].ID < list[k].ID
		}
		return list[i].CreatedAt.Before(list[k].CreatedAt)
	})
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 创建记录
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get 获取记录快照
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Update 在锁内对副本执行修改，成功后写回
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// Delete 删除记录
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// List 列出记录
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Match(job) {
			out = append(out, job.Clone())
		}
	}
	return filter.apply(out), nil
}
