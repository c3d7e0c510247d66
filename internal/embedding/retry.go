package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// retrier 带退避的重试器，可选限速
type retrier struct {
	maxRetries int
	timeout    time.Duration
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg *Config) *retrier {
	r := &retrier{
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		sleep:      sleepContext,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// do 执行fn，每次尝试使用独立的超时上下文
func (r *retrier) do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				// 等待会超过截止时间时Wait直接返回，不等ctx结束
				if ctx.Err() == nil {
					err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				return transportError(err)
			}
		}

		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= r.maxRetries || ctx.Err() != nil {
			return err
		}
		if serr := r.sleep(ctx, retryDelay(attempt)); serr != nil {
			return transportError(serr)
		}
	}
}

func (r *retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		return transportError(err)
	}
	return nil
}

// retryDelay 指数退避，上限5秒
func retryDelay(attempt int) time.Duration {
	d := baseRetryDelay << attempt
	if d > maxRetryDelay || d <= 0 {
		return maxRetryDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
