package llm

import (
	"context"
	"time"
)

// GenerateRequest 表示一次文本生成请求。
type GenerateRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Prompt      string            `json:"prompt"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Usage 记录一次调用消耗的 token 数。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// GenerateResponse 表示一次文本生成响应。
type GenerateResponse struct {
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model"`
	Text      string        `json:"text"`
	Usage     Usage         `json:"usage,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// EmbeddingRequest 表示一次向量化请求。
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse 表示一次向量化响应，Embeddings 与 Input 一一对应。
type EmbeddingResponse struct {
	Provider   string      `json:"provider,omitempty"`
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	Usage      Usage       `json:"usage,omitempty"`
}

// Provider 定义了统一的 LLM 文本生成适配接口。
// 具体提供者实现负责把自身的失败模式翻译为 types.Error，
// 可重试性（限流、上游超时）在这一个翻译点上统一标注。
type Provider interface {
	// Generate 发起同步生成请求，返回完整响应
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// EmbeddingProvider 定义向量化能力接口。
// 与 Provider 分离声明，embedding-only 的提供者无需实现生成接口。
type EmbeddingProvider interface {
	// Embed 为每个输入文本生成嵌入向量
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
