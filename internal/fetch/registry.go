package fetch

import (
	"sort"
	"sync"
	"time"
)

// Registry 记录正在回源的上游 URL。TryAcquire 是原子的 test-and-set，
// 同一 URL 同时只能有一个持有者。
type Registry struct {
	mu       sync.Mutex
	inflight map[string]time.Time
	now      func() time.Time
}

// InFlight 描述一个正在进行的回源序列。
type InFlight struct {
	URL   string    `json:"url"`
	Since time.Time `json:"since"`
}

// NewRegistry 创建空的在途登记表。
func NewRegistry() *Registry {
	return &Registry{
		inflight: make(map[string]time.Time),
		now:      time.Now,
	}
}

// TryAcquire 在 url 未被占用时登记并返回 true；已被占用时立即返回 false。
func (r *Registry) TryAcquire(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inflight[url]; exists {
		return false
	}
	r.inflight[url] = r.now()
	return true
}

// Release 移除登记，重复调用是安全的。
func (r *Registry) Release(url string) {
	r.mu.Lock()
	delete(r.inflight, url)
	r.mu.Unlock()
}

// Contains 返回 url 当前是否在途。
func (r *Registry) Contains(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.inflight[url]
	return exists
}

// Len 返回在途数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Snapshot 返回按开始时间排序的在途列表，供诊断接口输出。
func (r *Registry) Snapshot() []InFlight {
	r.mu.Lock()
	result := make([]InFlight, 0, len(r.inflight))
	for url, since := range r.inflight {
		result = append(result, InFlight{URL: url, Since: since})
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Since.Equal(result[j].Since) {
			return result[i].URL < result[j].URL
		}
		return result[i].Since.Before(result[j].Since)
	})
	return result
}
