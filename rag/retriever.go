package rag

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/llm/cache"
	"github.com/BaSui01/ragflow/llm/tokenizer"
	"github.com/BaSui01/ragflow/types"
)

// RetrieverConfig 检索管线配置。
type RetrieverConfig struct {
	// EmbedModel 向量化模型标识
	EmbedModel string `yaml:"embed_model" json:"embed_model"`

	// TopK 向量查询返回的候选数
	TopK int `yaml:"top_k" json:"top_k"`

	// MinScore 最小相似度阈值，低于该值的候选直接丢弃
	MinScore float64 `yaml:"min_score" json:"min_score"`

	// TokenBudget 上下文 token 预算，结果总量不超过该值
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// DisableCache 禁用 embedding 缓存
	DisableCache bool `yaml:"disable_cache" json:"disable_cache"`
}

// DefaultRetrieverConfig 返回默认配置。
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		EmbedModel:  "text-embedding-3-small",
		TopK:        10,
		MinScore:    0.2,
		TokenBudget: 2000,
	}
}

// Retriever 检索管线：查询向量化（经缓存）→ 向量近邻查询 → 阈值过滤
// → 可选重排序 → 按身份去重（保留最高分）→ 按分数降序贪心累积到
// token 预算。结果保证分数非递增、无重复身份、总量在预算内。
type Retriever struct {
	embedder  llm.EmbeddingProvider
	store     VectorStore
	cache     *cache.Cache
	reranker  Reranker
	tokenizer tokenizer.Tokenizer
	config    RetrieverConfig
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRetriever 创建检索管线。cache 与 reranker 可以为 nil。
func NewRetriever(
	embedder llm.EmbeddingProvider,
	store VectorStore,
	embedCache *cache.Cache,
	config RetrieverConfig,
	logger *zap.Logger,
) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = 10
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		cache:     embedCache,
		tokenizer: tokenizer.GetTokenizerOrEstimator(config.EmbedModel),
		config:    config,
		logger:    logger.With(zap.String("component", "retriever")),
	}
}

// WithReranker 挂接重排序器。
func (r *Retriever) WithReranker(reranker Reranker) *Retriever {
	r.reranker = reranker
	return r
}

// WithTokenizer 覆盖预算度量用的分词器。
func (r *Retriever) WithTokenizer(t tokenizer.Tokenizer) *Retriever {
	r.tokenizer = t
	return r
}

// WithCollector 挂接指标收集器。
func (r *Retriever) WithCollector(collector *metrics.Collector) *Retriever {
	r.collector = collector
	return r
}

// Retrieve 执行一次检索。
func (r *Retriever) Retrieve(ctx context.Context, query string) (*RetrievalResult, error) {
	if query == "" {
		return nil, types.NewValidationError("retrieve: empty query")
	}

	// 1. 查询向量化（经缓存，键为（模型，规范化查询文本））
	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// 2. 向量近邻查询
	matches, err := r.store.Query(ctx, vector, r.config.TopK)
	if err != nil {
		return nil, types.Classify(err)
	}

	// 3. 阈值过滤
	chunks := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		if m.Score < r.config.MinScore {
			continue
		}
		c := m.Chunk
		c.Score = m.Score
		chunks = append(chunks, c)
	}

	// 4. 可选重排序
	if r.reranker != nil {
		chunks, err = r.reranker.Rerank(ctx, query, chunks)
		if err != nil {
			return nil, types.Classify(err)
		}
	}

	// 5. 按分数降序排序（相同分数按身份稳定排序）
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Identity() < chunks[j].Identity()
	})

	// 6. 按身份去重，降序遍历下首次出现即最高分
	seen := make(map[string]struct{}, len(chunks))
	deduped := chunks[:0]
	for _, c := range chunks {
		id := c.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, c)
	}

	// 7. 贪心累积到 token 预算：结果是去重降序列表的严格前缀
	result := &RetrievalResult{}
	for _, c := range deduped {
		tokens, err := r.tokenizer.CountTokens(c.Text)
		if err != nil {
			return nil, types.NewError(types.ErrInternal, "count tokens").WithCause(err)
		}
		if r.config.TokenBudget > 0 && result.TotalTokens+tokens > r.config.TokenBudget {
			break
		}
		result.Chunks = append(result.Chunks, c)
		result.TotalTokens += tokens
	}

	r.collector.RetrievalSize(len(result.Chunks))
	r.logger.Debug("retrieval completed",
		zap.Int("candidates", len(matches)),
		zap.Int("returned", len(result.Chunks)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// embedQuery 获取查询向量，命中缓存时不调用向量化提供者。
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float64, error) {
	compute := func(ctx context.Context) ([]byte, error) {
		resp, err := r.embedder.Embed(ctx, &llm.EmbeddingRequest{
			Model: r.config.EmbedModel,
			Input: []string{query},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) == 0 {
			return nil, types.NewAdapterError(r.embedder.Name(), "embedding response is empty")
		}
		return json.Marshal(resp.Embeddings[0])
	}

	var data []byte
	var err error
	if r.cache == nil || r.config.DisableCache {
		data, err = compute(ctx)
	} else {
		key := cache.EmbeddingKey(r.config.EmbedModel, query)
		data, err = r.cache.GetOrCompute(ctx, key, compute)
	}
	if err != nil {
		return nil, types.Classify(err)
	}

	var vector []float64
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, types.NewError(types.ErrInternal, "decode cached embedding").WithCause(err)
	}
	return vector, nil
}
