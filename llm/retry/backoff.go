package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// Policy 定义重试策略配置。
// MaxAttempts 是总尝试次数（含首次执行），为 1 表示不重试。
type Policy struct {
	MaxAttempts  int                                               // 总尝试次数（>= 1）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间（指数退避上限）
	Multiplier   float64                                           // 延迟倍增因子
	Jitter       bool                                              // 是否添加随机抖动（防止雪崩）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略，适用于大部分外部提供者调用场景。
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// normalize 校验并修正策略参数。
func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
}

// Delay 计算第 attempt 次重试前的延迟（attempt 从 1 开始计）。
// 指数退避：delay = initial * multiplier^(attempt-1)，封顶 MaxDelay，
// 可选 ±25% 随机抖动，避免多个客户端对同一提供者同时重试。
func (p *Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Retryer 重试器接口，提供统一的重试能力。
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现。
type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。
// 可重试性由 types.IsRetryable 判定，终态错误不重试。
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	policy.normalize()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger.With(zap.String("component", "retryer")),
	}
}

// Do 实现 Retryer.Do。
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult。
// 核心重试逻辑：指数退避 + 随机抖动 + 基于错误分类的过滤。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Delay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, types.Classify(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			r.logger.Debug("error not retryable", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}
