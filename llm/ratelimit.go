package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/ragflow/types"
)

// RateLimitedProvider 用令牌桶包装 Provider / EmbeddingProvider，
// 在调用上游前等待配额，避免并发工作流节点压垮共享提供者。
// Limiter 为 nil 时直接透传。
type RateLimitedProvider struct {
	provider Provider
	embedder EmbeddingProvider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider 创建限流包装器。
// provider 与 embedder 可以是同一个实现，也可以只设置其中之一。
func NewRateLimitedProvider(provider Provider, embedder EmbeddingProvider, limiter *rate.Limiter) *RateLimitedProvider {
	return &RateLimitedProvider{
		provider: provider,
		embedder: embedder,
		limiter:  limiter,
	}
}

// Generate 实现 Provider。
func (p *RateLimitedProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if p.provider == nil {
		return nil, types.NewError(types.ErrInternal, "rate limited provider: no generate provider configured")
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.provider.Generate(ctx, req)
}

// Embed 实现 EmbeddingProvider。
func (p *RateLimitedProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if p.embedder == nil {
		return nil, types.NewError(types.ErrInternal, "rate limited provider: no embedding provider configured")
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.embedder.Embed(ctx, req)
}

// Name 返回被包装提供者的标识。
func (p *RateLimitedProvider) Name() string {
	if p.provider != nil {
		return p.provider.Name()
	}
	if p.embedder != nil {
		return p.embedder.Name()
	}
	return "rate_limited"
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return types.Classify(err)
	}
	return nil
}
