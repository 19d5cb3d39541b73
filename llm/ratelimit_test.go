package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ragflow/types"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	p.calls.Add(1)
	return &GenerateResponse{Provider: "counting", Model: req.Model, Text: "ok"}, nil
}

func (p *countingProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	p.calls.Add(1)
	return &EmbeddingResponse{Provider: "counting", Model: req.Model, Embeddings: [][]float64{{1}}}, nil
}

func TestRateLimitedProvider_NilLimiterPassesThrough(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	p := NewRateLimitedProvider(inner, inner, nil)

	resp, err := p.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "counting", p.Name())
}

func TestRateLimitedProvider_EnforcesRate(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	// 桶容量 1，每 50ms 补一个令牌
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	p := NewRateLimitedProvider(inner, inner, limiter)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "x"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"third call must wait for two refills")
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRateLimitedProvider_CancelledWait(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	p := NewRateLimitedProvider(inner, inner, limiter)

	// 耗尽唯一令牌
	_, err := p.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Embed(ctx, &EmbeddingRequest{Model: "m", Input: []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRateLimitedProvider_Unconfigured(t *testing.T) {
	t.Parallel()

	p := NewRateLimitedProvider(nil, nil, nil)

	_, err := p.Generate(context.Background(), &GenerateRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInternal, types.GetErrorCode(err))

	_, err = p.Embed(context.Background(), &EmbeddingRequest{})
	require.Error(t, err)
	assert.Equal(t, "rate_limited", p.Name())
}
