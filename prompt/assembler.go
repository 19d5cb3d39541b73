package prompt

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm/tokenizer"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// Message 一条对话历史记录。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Template 带命名占位符和 token 预算上限的 prompt 模板。
// {{context}} 与 {{history}} 由组装器填充，其余占位符来自调用方变量。
// TokenBudget <= 0 表示不设上限。
type Template struct {
	Name        string `yaml:"name" json:"name"`
	Text        string `yaml:"text" json:"text"`
	TokenBudget int    `yaml:"token_budget" json:"token_budget"`
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// 引擎填充的占位符。
const (
	PlaceholderContext = "context"
	PlaceholderHistory = "history"
)

// Assembler 把模板、检索结果和对话历史组装成一个受预算约束的 prompt。
// 超预算时的截断顺序：先丢最旧的历史记录，再逐条丢最低分的 chunk；
// 当模板固定内容本身超出预算时组装失败，绝不静默溢出。
// 相同输入产生相同输出，无隐藏随机性。
type Assembler struct {
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewAssembler 创建组装器。
func NewAssembler(t tokenizer.Tokenizer, logger *zap.Logger) *Assembler {
	if t == nil {
		t = tokenizer.NewEstimatorTokenizer("", 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		tokenizer: t,
		logger:    logger.With(zap.String("component", "assembler")),
	}
}

// Assemble 执行一次组装。retrieval 与 history 可以为空。
func (a *Assembler) Assemble(
	tmpl Template,
	vars map[string]string,
	retrieval *rag.RetrievalResult,
	history []Message,
) (string, error) {
	if tmpl.Text == "" {
		return "", types.NewValidationError("template %q has no text", tmpl.Name)
	}
	if err := a.checkPlaceholders(tmpl, vars); err != nil {
		return "", err
	}

	var chunks []rag.Chunk
	if retrieval != nil {
		chunks = retrieval.Chunks
	}

	// 固定内容（上下文与历史置空）必须自身可容纳，否则无可截断
	fixed := a.render(tmpl.Text, vars, nil, nil)
	fixedTokens, err := a.tokenizer.CountTokens(fixed)
	if err != nil {
		return "", types.NewError(types.ErrInternal, "count tokens").WithCause(err)
	}
	if tmpl.TokenBudget > 0 && fixedTokens > tmpl.TokenBudget {
		return "", types.NewError(types.ErrBudgetExceeded,
			"template fixed content exceeds token budget")
	}

	// 从完整内容开始，超预算则按序截断
	keptHistory := history
	keptChunks := chunks
	for {
		rendered := a.render(tmpl.Text, vars, keptChunks, keptHistory)
		total, err := a.tokenizer.CountTokens(rendered)
		if err != nil {
			return "", types.NewError(types.ErrInternal, "count tokens").WithCause(err)
		}
		if tmpl.TokenBudget <= 0 || total <= tmpl.TokenBudget {
			if len(keptHistory) < len(history) || len(keptChunks) < len(chunks) {
				a.logger.Debug("assembly truncated to fit budget",
					zap.String("template", tmpl.Name),
					zap.Int("history_dropped", len(history)-len(keptHistory)),
					zap.Int("chunks_dropped", len(chunks)-len(keptChunks)),
					zap.Int("tokens", total),
				)
			}
			return rendered, nil
		}

		// 先丢最旧的历史
		if len(keptHistory) > 0 {
			keptHistory = keptHistory[1:]
			continue
		}
		// 再丢最低分的 chunk（结果按分数降序，尾部即最低分）
		if len(keptChunks) > 0 {
			keptChunks = keptChunks[:len(keptChunks)-1]
			continue
		}
		// 只剩固定内容但上面已验证可容纳，不应到达
		return "", types.NewError(types.ErrBudgetExceeded,
			"prompt cannot satisfy token budget after maximal truncation")
	}
}

// checkPlaceholders 校验所有非引擎占位符都有对应变量。
func (a *Assembler) checkPlaceholders(tmpl Template, vars map[string]string) error {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl.Text, -1) {
		name := m[1]
		if name == PlaceholderContext || name == PlaceholderHistory {
			continue
		}
		if _, ok := vars[name]; !ok {
			return types.NewValidationError(
				"template %q: no value for placeholder %q", tmpl.Name, name)
		}
	}
	return nil
}

// render 填充模板。上下文 chunk 用空行分隔，历史按 "role: content" 一行一条。
func (a *Assembler) render(text string, vars map[string]string, chunks []rag.Chunk, history []Message) string {
	var contextText string
	if len(chunks) > 0 {
		parts := make([]string, len(chunks))
		for i, c := range chunks {
			parts[i] = c.Text
		}
		contextText = strings.Join(parts, "\n\n")
	}

	var historyText string
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, msg := range history {
			lines[i] = msg.Role + ": " + msg.Content
		}
		historyText = strings.Join(lines, "\n")
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		switch name {
		case PlaceholderContext:
			return contextText
		case PlaceholderHistory:
			return historyText
		default:
			return vars[name]
		}
	})
}
