package tokenizer

import (
	"unicode/utf8"
)

// EstimatorTokenizer 基于字符数估算 token。
// 区分 CJK 与 ASCII 字符，比朴素的 len/4 更准确。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer 创建通用估计器。
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{
		model:     model,
		maxTokens: maxTokens,
	}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK 约 1.5 字符/token，ASCII 约 4 字符/token。
	cjkTokens := float64(cjkCount) / 1.5
	asciiTokens := float64(totalChars-cjkCount) / 4.0
	estimated := int(cjkTokens + asciiTokens)

	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
