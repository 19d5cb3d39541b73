package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	llmcache "github.com/BaSui01/ragflow/llm/cache"
	"github.com/BaSui01/ragflow/prompt"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/testutil/mocks"
	"github.com/BaSui01/ragflow/types"
)

func seedStore(t *testing.T, provider *mocks.MockProvider, texts ...string) *rag.InMemoryVectorStore {
	t.Helper()
	store := rag.NewInMemoryVectorStore(zap.NewNop())
	for i, text := range texts {
		chunk := rag.Chunk{DocumentID: "doc", Start: i * 100, End: i*100 + len(text), Text: text}
		err := store.Upsert(context.Background(), chunk.Identity(), mocks.DeterministicEmbedding(text, 8), chunk)
		require.NoError(t, err)
	}
	return store
}

func TestRetrieveStep(t *testing.T) {
	t.Parallel()

	provider := mocks.NewMockProvider("")
	store := seedStore(t, provider, "vector stores index embeddings", "unrelated text")

	cfg := rag.DefaultRetrieverConfig()
	cfg.MinScore = -1 // cosine against hash vectors can be low; keep everything
	retriever := rag.NewRetriever(provider, store, nil, cfg, zap.NewNop())
	step := NewRetrieveStep(retriever)

	t.Run("query from initial input", func(t *testing.T) {
		t.Parallel()
		out, err := step.Execute(context.Background(), &StepInput{
			NodeID:  "r",
			Initial: map[string]any{"query": "vector stores"},
		})
		require.NoError(t, err)
		result, ok := out.(*rag.RetrievalResult)
		require.True(t, ok)
		assert.NotEmpty(t, result.Chunks)
	})

	t.Run("query from dependency output", func(t *testing.T) {
		t.Parallel()
		out, err := step.Execute(context.Background(), &StepInput{
			NodeID:  "r",
			Deps:    []string{"rewrite"},
			Outputs: map[string]any{"rewrite": "embeddings"},
		})
		require.NoError(t, err)
		assert.IsType(t, &rag.RetrievalResult{}, out)
	})

	t.Run("missing query", func(t *testing.T) {
		t.Parallel()
		_, err := step.Execute(context.Background(), &StepInput{NodeID: "r"})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})
}

func TestAssemblePromptStep(t *testing.T) {
	t.Parallel()

	assembler := prompt.NewAssembler(nil, zap.NewNop())
	tmpl := prompt.Template{
		Name: "qa",
		Text: "Context:\n{{context}}\n\nQuestion: {{question}}",
	}
	step := NewAssemblePromptStep(assembler, tmpl, map[string]string{"question": "what is RAG?"})

	retrieval := &rag.RetrievalResult{Chunks: []rag.Chunk{
		{DocumentID: "doc", Start: 0, End: 10, Text: "RAG grounds generation in retrieved text.", Score: 0.9},
	}}

	out, err := step.Execute(context.Background(), &StepInput{
		NodeID:  "p",
		Deps:    []string{"retrieve"},
		Outputs: map[string]any{"retrieve": retrieval},
	})
	require.NoError(t, err)

	rendered, ok := out.(string)
	require.True(t, ok)
	assert.Contains(t, rendered, "RAG grounds generation in retrieved text.")
	assert.Contains(t, rendered, "what is RAG?")
}

func TestGenerateStep(t *testing.T) {
	t.Parallel()

	t.Run("prompt from dependency", func(t *testing.T) {
		t.Parallel()
		provider := mocks.NewMockProvider("generated answer")
		step := NewGenerateStep(provider, llm.GenerateRequest{Model: "mock-model"})

		out, err := step.Execute(context.Background(), &StepInput{
			NodeID:  "g",
			Deps:    []string{"assemble"},
			Outputs: map[string]any{"assemble": "the prompt"},
		})
		require.NoError(t, err)
		assert.Equal(t, "generated answer", out)
		assert.Equal(t, []string{"the prompt"}, provider.Prompts())
	})

	t.Run("missing prompt", func(t *testing.T) {
		t.Parallel()
		step := NewGenerateStep(mocks.NewMockProvider("x"), llm.GenerateRequest{Model: "mock-model"})
		_, err := step.Execute(context.Background(), &StepInput{NodeID: "g"})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})

	t.Run("cached responses share one provider call", func(t *testing.T) {
		t.Parallel()
		provider := mocks.NewMockProvider("cached answer")
		c := llmcache.NewCache(llmcache.NewMemoryStore(16), nil, zap.NewNop())
		step := NewGenerateStep(provider, llm.GenerateRequest{Model: "mock-model"}).WithCache(c)

		in := &StepInput{NodeID: "g", Initial: map[string]any{"prompt": "same prompt"}}
		for i := 0; i < 3; i++ {
			out, err := step.Execute(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, "cached answer", out)
		}
		assert.Equal(t, 1, provider.GenerateCalls())
	})

	t.Run("provider failure is not cached", func(t *testing.T) {
		t.Parallel()
		provider := mocks.NewMockProvider("recovered").WithFailFirst(1)
		c := llmcache.NewCache(llmcache.NewMemoryStore(16), nil, zap.NewNop())
		step := NewGenerateStep(provider, llm.GenerateRequest{Model: "mock-model"}).WithCache(c)

		in := &StepInput{NodeID: "g", Initial: map[string]any{"prompt": "retry me"}}
		_, err := step.Execute(context.Background(), in)
		require.Error(t, err)

		out, err := step.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "recovered", out)
		assert.Equal(t, 2, provider.GenerateCalls())
	})
}

// End-to-end: retrieve -> assemble -> generate through the executor.
func TestWorkflow_RAGPipeline(t *testing.T) {
	t.Parallel()

	provider := mocks.NewMockProvider("final answer")
	store := seedStore(t, provider, "chunk one about retrieval", "chunk two about generation")

	cfg := rag.DefaultRetrieverConfig()
	cfg.MinScore = -1
	retriever := rag.NewRetriever(provider, store, nil, cfg, zap.NewNop())

	assembler := prompt.NewAssembler(nil, zap.NewNop())
	tmpl := prompt.Template{Name: "qa", Text: "{{context}}\nQ: {{question}}"}

	g, err := NewGraph([]NodeSpec{
		{ID: "retrieve", Kind: StepRetrieve, Step: NewRetrieveStep(retriever)},
		{ID: "assemble", Kind: StepAssemblePrompt, DependsOn: []string{"retrieve"},
			Step: NewAssemblePromptStep(assembler, tmpl, map[string]string{"question": "how?"})},
		{ID: "generate", Kind: StepGenerate, DependsOn: []string{"assemble"},
			Step: NewGenerateStep(provider, llm.GenerateRequest{Model: "mock-model"})},
	})
	require.NoError(t, err)

	result, err := NewExecutor(nil, zap.NewNop()).Run(context.Background(), g,
		map[string]any{"query": "retrieval"})
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, result.Status)
	assert.Equal(t, "final answer", result.Outputs["generate"])

	prompts := provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Q: how?")
	assert.Contains(t, prompts[0], "chunk")
}
