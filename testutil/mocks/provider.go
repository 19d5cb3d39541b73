// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、确定性嵌入与错误注入场景。
package mocks

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 与 llm.EmbeddingProvider 的模拟实现。
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	response string
	err      error

	// 行为控制
	delay        time.Duration // 模拟延迟
	failFirst    int           // 前 N 次调用失败（瞬时错误）
	embedDim     int           // 嵌入向量维度
	generateFunc func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error)

	// 调用计数
	generateCalls atomic.Int32
	embedCalls    atomic.Int32

	// 调用记录
	prompts []string
}

// NewMockProvider 创建一个返回固定文本的模拟提供商。
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{response: response, embedDim: 8}
}

// WithError 让所有调用返回 err。
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 为每次调用注入延迟。
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst 让前 n 次调用返回瞬时错误，之后恢复正常。
func (m *MockProvider) WithFailFirst(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithGenerateFunc 完全自定义 Generate 行为。
func (m *MockProvider) WithGenerateFunc(fn func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// Name 实现 llm.Provider。
func (m *MockProvider) Name() string { return "mock" }

// Generate 实现 llm.Provider。
func (m *MockProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	count := m.generateCalls.Add(1)

	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	delay := m.delay
	err := m.err
	failFirst := m.failFirst
	fn := m.generateFunc
	response := m.response
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if int(count) <= failFirst {
		return nil, types.NewTransientError(types.ErrNetwork, "mock: injected transient failure")
	}
	if fn != nil {
		return fn(ctx, req)
	}

	return &llm.GenerateResponse{
		Provider: "mock",
		Model:    req.Model,
		Text:     response,
		Usage: llm.Usage{
			PromptTokens:     len(req.Prompt) / 4,
			CompletionTokens: len(response) / 4,
			TotalTokens:      (len(req.Prompt) + len(response)) / 4,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Embed 实现 llm.EmbeddingProvider。同一文本总是产生同一向量，
// 不同文本几乎总是产生不同向量。
func (m *MockProvider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	m.embedCalls.Add(1)

	m.mu.RLock()
	delay := m.delay
	err := m.err
	dim := m.embedDim
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float64, len(req.Input))
	for i, text := range req.Input {
		embeddings[i] = DeterministicEmbedding(text, dim)
	}
	return &llm.EmbeddingResponse{
		Provider:   "mock",
		Model:      req.Model,
		Embeddings: embeddings,
	}, nil
}

// GenerateCalls 返回 Generate 被调用的次数。
func (m *MockProvider) GenerateCalls() int { return int(m.generateCalls.Load()) }

// EmbedCalls 返回 Embed 被调用的次数。
func (m *MockProvider) EmbedCalls() int { return int(m.embedCalls.Load()) }

// Prompts 返回所有记录的提示词副本。
func (m *MockProvider) Prompts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// DeterministicEmbedding 由文本哈希生成稳定的单位向量。
func DeterministicEmbedding(text string, dim int) []float64 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, dim)
	var norm float64
	for i := 0; i < dim; i++ {
		bits := binary.BigEndian.Uint32(sum[(i*4)%28:])
		v := float64(bits%2000)/1000.0 - 1.0
		vec[i] = v
		norm += v * v
	}
	if norm > 0 {
		scale := math.Sqrt(norm)
		for i := range vec {
			vec[i] /= scale
		}
	}
	return vec
}
