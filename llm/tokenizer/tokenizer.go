package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 是统一的 token 计数接口。
// 检索预算和 prompt 组装都通过它度量文本大小。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度
	MaxTokens() int

	// Name 返回分词器的名称
	Name() string
}

// 全局分词器注册表。
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器。
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer 返回为给定模型注册的分词器，
// 支持最长前缀匹配（如 "gpt-4o-mini" 命中 "gpt-4o"）。
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	var found Tokenizer
	longest := ""
	for prefix, t := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(longest) {
			longest = prefix
			found = t
		}
	}
	if found != nil {
		return found, nil
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 返回该模型注册的分词器，
// 未注册时回退到基于字符数的估计器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}
