package rag

import "fmt"

// Chunk 一段带评分的检索上下文，绑定来源文档与字节偏移区间。
// 身份是（文档 ID，偏移区间），去重以此为准。
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"`
	Embedding  []float64 `json:"embedding,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Identity 返回 chunk 的去重身份。
func (c Chunk) Identity() string {
	return fmt.Sprintf("%s:%d-%d", c.DocumentID, c.Start, c.End)
}

// RetrievalResult 检索结果：按分数非递增排列、身份去重、
// 总 token 数不超过配置预算。
type RetrievalResult struct {
	Chunks      []Chunk `json:"chunks"`
	TotalTokens int     `json:"total_tokens"`
}

// Texts 返回所有 chunk 的文本。
func (r *RetrievalResult) Texts() []string {
	texts := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		texts[i] = c.Text
	}
	return texts
}
