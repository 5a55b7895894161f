package utils

import "time"

// RetryStrategy 重试间隔策略
type RetryStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// ExponentialBackoff 指数退避，每次翻倍直到上限
type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

var _ RetryStrategy = (*ExponentialBackoff)(nil)

// NewExponentialBackoff 创建指数退避，initial 或 limit 非正时使用默认值 100ms / 5s
func NewExponentialBackoff(initial, limit time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if limit <= 0 {
		limit = 5 * time.Second
	}
	if limit < initial {
		limit = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     limit,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}
