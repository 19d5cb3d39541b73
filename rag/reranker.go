package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Reranker 重排序器接口：对候选集给出更细粒度的新分数排序。
type Reranker interface {
	// Rerank 返回重排序后的候选集（新分数写回 Chunk.Score）
	Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error)
}

// TermOverlapReranker 基于词重叠率的轻量重排序器。
// 不依赖外部模型，将原始相似度分数与查询词覆盖率按权重混合。
type TermOverlapReranker struct {
	// OriginalWeight 原始分数权重，其余权重给词重叠分
	OriginalWeight float64
	logger         *zap.Logger
}

// NewTermOverlapReranker 创建词重叠重排序器。
func NewTermOverlapReranker(originalWeight float64, logger *zap.Logger) *TermOverlapReranker {
	if originalWeight < 0 || originalWeight > 1 {
		originalWeight = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermOverlapReranker{
		OriginalWeight: originalWeight,
		logger:         logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 实现 Reranker.Rerank。
func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return chunks, nil
	}

	queryTerms := tokenizeTerms(query)
	if len(queryTerms) == 0 {
		return chunks, nil
	}

	reranked := make([]Chunk, len(chunks))
	copy(reranked, chunks)

	for i := range reranked {
		overlap := termOverlap(queryTerms, tokenizeTerms(reranked[i].Text))
		reranked[i].Score = reranked[i].Score*r.OriginalWeight + overlap*(1-r.OriginalWeight)
	}

	r.logger.Debug("reranked candidates",
		zap.Int("count", len(reranked)),
		zap.Int("query_terms", len(queryTerms)),
	)

	return reranked, nil
}

// tokenizeTerms 小写分词，返回词集合。
func tokenizeTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			terms[f] = struct{}{}
		}
	}
	return terms
}

// termOverlap 返回查询词在文档中的覆盖率 [0,1]。
func termOverlap(queryTerms, docTerms map[string]struct{}) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	hit := 0
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(queryTerms))
}
