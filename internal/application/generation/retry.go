package generation

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 2 * time.Second
)

// RetryPolicy 指数退避重试策略
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter 额外随机延迟比例，0 表示无抖动
	Jitter float64
}

// DefaultRetryPolicy 3 次尝试，100ms 起倍增
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay 第 attempt 次失败后、下一次尝试前的等待时长。
// rnd 返回 [0,1) 随机数，Jitter 为 0 时不调用。
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.Jitter > 0 && rnd != nil {
		d += time.Duration(float64(d) * p.Jitter * rnd())
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RetryState 在重试循环中按值传递，不持久化
type RetryState struct {
	Attempt   int
	LastError error
	// NextDelay 为 0 表示不再重试
	NextDelay time.Duration
}

// Sleeper 可取消的等待
type Sleeper func(ctx context.Context, d time.Duration) error

// contextSleep 等待 d 或 ctx 结束
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
