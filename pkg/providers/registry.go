package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// ErrUnknownProvider 注册表中不存在该提供商
var ErrUnknownProvider = errors.New("unknown provider")

// Registry 提供商注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register 注册提供商
func (r *Registry) Register(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := provider.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %s already registered", id)
	}

	r.providers[id] = provider
	return nil
}

// Get 获取提供商，找不到时给出相近的名称
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, exists := r.providers[id]; exists {
		return provider, nil
	}

	if suggestions := r.suggest(id); len(suggestions) > 0 {
		return nil, fmt.Errorf("%w: %s (did you mean %s?)", ErrUnknownProvider, id, strings.Join(suggestions, ", "))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}

// Has 是否已注册
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.providers[id]
	return ok
}

// IDs 按字典序列出所有提供商标识
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.idsLocked()
}

// List 列出所有提供商
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.idsLocked()
	list := make([]Provider, 0, len(ids))
	for _, id := range ids {
		list = append(list, r.providers[id])
	}
	return list
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) suggest(id string) []string {
	if id == "" {
		return nil
	}
	ranks := fuzzy.RankFindFold(id, r.idsLocked())
	if len(ranks) == 0 {
		// 反向匹配：输入比注册名长，例如 "deepl-pro"
		for _, candidate := range r.idsLocked() {
			if fuzzy.MatchFold(candidate, id) {
				ranks = append(ranks, fuzzy.Rank{Source: candidate, Target: candidate})
			}
		}
	}
	sort.Sort(ranks)

	out := make([]string, 0, len(ranks))
	for _, rank := range ranks {
		out = append(out, rank.Target)
	}
	return out
}
