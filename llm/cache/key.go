package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/ragflow/llm"
)

// NormalizeText 规范化文本：去首尾空白并折叠内部连续空白，
// 保证仅有空白差异的输入命中同一个缓存键。
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint 对规范化后的请求输入生成确定性指纹。
// 参数按 key 排序后拼接，避免 map 遍历顺序引入的不确定性。
func Fingerprint(model, text string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(model))))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, params[k])
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) // 前 16 字节足以避免碰撞
}

// EmbeddingKey 生成向量化请求的缓存键，按（模型，规范化文本）寻址。
func EmbeddingKey(model, text string) string {
	return "emb:" + Fingerprint(model, text, nil)
}

// GenerationKey 生成文本生成请求的缓存键，
// 按（模型，规范化 prompt，生成参数）寻址。
func GenerationKey(req *llm.GenerateRequest) string {
	params := map[string]any{
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"stop":        strings.Join(req.Stop, ","),
	}
	return "gen:" + Fingerprint(req.Model, req.Prompt, params)
}
