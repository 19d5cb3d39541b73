package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系模型适配 tiktoken。
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

// modelEncodings 将模型名称映射到 tiktoken 编码和上下文大小。
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":                 {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":            {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":            {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":                  {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo":          {encoding: "cl100k_base", maxTokens: 16385},
	"text-embedding-3-large": {encoding: "cl100k_base", maxTokens: 8191},
	"text-embedding-3-small": {encoding: "cl100k_base", maxTokens: 8191},
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器。
// 未知模型先尝试最长前缀匹配，再回退到 cl100k_base。
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	info, ok := modelEncodings[model]
	if !ok {
		longest := ""
		for prefix, i := range modelEncodings {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(longest) {
				longest = prefix
				info = i
				ok = true
			}
		}
	}

	if !ok {
		info = struct {
			encoding  string
			maxTokens int
		}{encoding: "cl100k_base", maxTokens: 8192}
	}

	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}, nil
}

// init 延迟初始化 tiktoken 编码（首次使用时可能下载数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	tokens := t.enc.Encode(text, nil, nil)
	return len(tokens), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// RegisterOpenAITokenizers 为所有已知的 OpenAI 模型注册分词器。
func RegisterOpenAITokenizers() {
	for model := range modelEncodings {
		t, err := NewTiktokenTokenizer(model)
		if err != nil {
			continue
		}
		RegisterTokenizer(model, t)
	}
}
