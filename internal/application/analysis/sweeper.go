package analysis

import (
	"context"
	"sync"
	"time"

	"plot-rag-api/pkg/logger"
)

// DefaultSweepInterval 默认清理间隔
const DefaultSweepInterval = time.Minute

// Sweeper 周期性回收过期缓存
type Sweeper struct {
	cache    Cache
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper 创建清理器
func NewSweeper(cache Cache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{cache: cache, interval: interval}
}

// RunOnce 执行一次清理
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.SweepExpired(ctx)
	if err != nil {
		logger.Error(ctx, "analysis sweep failed", err)
		return n, err
	}
	if n > 0 {
		logger.Info(ctx, "analysis sweep removed expired results", "removed", n)
	}
	return n, nil
}

// Start 启动后台清理，重复调用无效
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.RunOnce(ctx)
			}
		}
	}(s.done)
}

// Stop 停止后台清理并等待当前轮次结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
