package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTiktokenTokenizer_ModelMapping(t *testing.T) {
	t.Parallel()

	tok, err := NewTiktokenTokenizer("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", tok.Name())
	assert.Equal(t, 128000, tok.MaxTokens())

	tok, err = NewTiktokenTokenizer("text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[cl100k_base]", tok.Name())
	assert.Equal(t, 8191, tok.MaxTokens())
}

func TestNewTiktokenTokenizer_PrefixAndFallback(t *testing.T) {
	t.Parallel()

	// 前缀匹配："gpt-4o-2024-08-06" 命中 "gpt-4o"
	tok, err := NewTiktokenTokenizer("gpt-4o-2024-08-06")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", tok.Name())

	// 未知模型回退到 cl100k_base
	tok, err = NewTiktokenTokenizer("totally-unknown")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[cl100k_base]", tok.Name())
	assert.Equal(t, 8192, tok.MaxTokens())
}
