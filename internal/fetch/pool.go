package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/edgecache/internal/cache"
	"github.com/any-hub/edgecache/internal/logging"
)

// FillState 描述一次后台填充请求被受理的结果，写入 X-Edge-Fill 响应头。
type FillState string

const (
	FillQueued   FillState = "queued"
	FillInFlight FillState = "in-flight"
	FillBusy     FillState = "busy"
)

// Pool 以有限并发在后台执行 EnsureCached，请求处理方不会等待回源结束。
type Pool struct {
	coordinator *Coordinator
	logger      *logrus.Logger
	metrics     *Metrics
	limit       int

	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	active int
}

// NewPool 创建最多同时运行 workers 个填充序列的后台池。
func NewPool(coordinator *Coordinator, workers int, logger *logrus.Logger, metrics *Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		coordinator: coordinator,
		logger:      logger,
		metrics:     metrics,
		limit:       workers,
		ctx:         ctx,
		cancel:      cancel,
	}
	p.group.SetLimit(workers)
	return p
}

// Submit 为 key 排队一次后台填充并立即返回受理状态。
func (p *Pool) Submit(key cache.Key) FillState {
	if p.coordinator.InFlight(key) {
		return FillInFlight
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.observeRejected()
		return FillBusy
	}

	raw := key.Path()
	if !p.group.TryGo(func() error {
		p.run(raw)
		return nil
	}) {
		p.metrics.observeRejected()
		p.logger.WithFields(logrus.Fields{"action": "fill", "key": key.Name()}).Warn("fill_pool_full")
		return FillBusy
	}
	return FillQueued
}

func (p *Pool) run(raw string) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"action": "fill",
				"path":   raw,
				"panic":  fmt.Sprint(r),
			}).Error("fill_panic")
		}
	}()

	// 失败已由 EnsureCached 记录为 fill_failed。
	if err := p.coordinator.EnsureCached(p.ctx, raw); errors.Is(err, ErrDuplicate) {
		p.logger.WithFields(logrus.Fields{"action": "fill", "path": raw}).Trace("fill_raced")
	}
}

// Active 返回正在执行的填充数量。
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Limit 返回并发上限。
func (p *Pool) Limit() int {
	return p.limit
}

// Drain 拒绝新的提交并等待已受理的填充结束；ctx 到期时取消剩余填充。
// 被取消的填充只会留下被清理的临时文件，不会发布不完整对象。
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
