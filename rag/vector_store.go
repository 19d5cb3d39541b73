package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// Match 一次相似度查询的单条结果。
type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// VectorStore 向量数据库适配接口。具体后端（Qdrant、Weaviate、
// Milvus 等）作为外部协作者实现本接口。
type VectorStore interface {
	// Upsert 写入或更新一条向量及其负载
	Upsert(ctx context.Context, id string, vector []float64, chunk Chunk) error

	// Query 按余弦相似度返回 top-K 近邻，结果按分数降序
	Query(ctx context.Context, vector []float64, topK int) ([]Match, error)

	// Delete 删除若干条目
	Delete(ctx context.Context, ids []string) error
}

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryVectorStore 内存向量存储。
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]storedVector
	logger  *zap.Logger
}

type storedVector struct {
	vector []float64
	chunk  Chunk
}

// NewInMemoryVectorStore 创建内存向量存储。
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		entries: make(map[string]storedVector),
		logger:  logger.With(zap.String("component", "vector_store_memory")),
	}
}

// Upsert 实现 VectorStore.Upsert。
func (s *InMemoryVectorStore) Upsert(_ context.Context, id string, vector []float64, chunk Chunk) error {
	if len(vector) == 0 {
		return types.NewValidationError("vector store: empty vector for id %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = storedVector{vector: vector, chunk: chunk}
	return nil
}

// Query 实现 VectorStore.Query。
func (s *InMemoryVectorStore) Query(_ context.Context, vector []float64, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.entries))
	for _, entry := range s.entries {
		score := cosineSimilarity(vector, entry.vector)
		matches = append(matches, Match{Chunk: entry.chunk, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// 相同分数按身份稳定排序，保证结果确定性
		return matches[i].Chunk.Identity() < matches[j].Chunk.Identity()
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete 实现 VectorStore.Delete。
func (s *InMemoryVectorStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// Count 返回条目数。
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cosineSimilarity 计算两个向量的余弦相似度，维度不匹配返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
