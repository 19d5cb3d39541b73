package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/ragflow/llm"
	llmcache "github.com/BaSui01/ragflow/llm/cache"
	"github.com/BaSui01/ragflow/prompt"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// StepInput carries everything a step may consume: the run's initial
// inputs and the outputs of the node's succeeded dependencies, keyed by
// dependency ID. Outputs of failed optional dependencies are absent.
type StepInput struct {
	NodeID  string
	Deps    []string
	Initial map[string]any
	Outputs map[string]any
}

// DepOutput returns the output of a named dependency, or false when the
// dependency did not succeed.
func (in *StepInput) DepOutput(id string) (any, bool) {
	v, ok := in.Outputs[id]
	return v, ok
}

// DepString scans dependencies in declaration order and returns the first
// string output.
func (in *StepInput) DepString() (string, bool) {
	for _, dep := range in.Deps {
		if s, ok := in.Outputs[dep].(string); ok {
			return s, true
		}
	}
	return "", false
}

// Step is the unit of work attached to a node. Execute must honor ctx
// cancellation; any error it returns is classified and possibly retried
// according to the node's retry policy.
type Step interface {
	Execute(ctx context.Context, in *StepInput) (any, error)
}

// StepFunc adapts a plain function to the Step interface.
type StepFunc func(ctx context.Context, in *StepInput) (any, error)

// Execute implements Step.
func (f StepFunc) Execute(ctx context.Context, in *StepInput) (any, error) {
	return f(ctx, in)
}

// ----------------------------------------------------------------------------
// Retrieve
// ----------------------------------------------------------------------------

// RetrieveStep queries a retriever with a text query. The query is taken
// from the first string dependency output, falling back to the run's
// initial "query" input. Its output is a *rag.RetrievalResult.
type RetrieveStep struct {
	retriever *rag.Retriever
}

// NewRetrieveStep 创建检索步骤。
func NewRetrieveStep(retriever *rag.Retriever) *RetrieveStep {
	return &RetrieveStep{retriever: retriever}
}

// Execute implements Step.
func (s *RetrieveStep) Execute(ctx context.Context, in *StepInput) (any, error) {
	query, ok := in.DepString()
	if !ok {
		query, ok = in.Initial["query"].(string)
	}
	if !ok || query == "" {
		return nil, types.NewValidationError("node %s: no query available", in.NodeID)
	}
	return s.retriever.Retrieve(ctx, query)
}

// ----------------------------------------------------------------------------
// Assemble prompt
// ----------------------------------------------------------------------------

// AssemblePromptStep renders a template against the run's variables, the
// retrieval result produced by a dependency, and conversation history from
// the initial "history" input. Its output is the rendered prompt string.
type AssemblePromptStep struct {
	assembler *prompt.Assembler
	template  prompt.Template
	vars      map[string]string
}

// NewAssemblePromptStep 创建提示词组装步骤。
func NewAssemblePromptStep(assembler *prompt.Assembler, tmpl prompt.Template, vars map[string]string) *AssemblePromptStep {
	return &AssemblePromptStep{assembler: assembler, template: tmpl, vars: vars}
}

// Execute implements Step.
func (s *AssemblePromptStep) Execute(_ context.Context, in *StepInput) (any, error) {
	var retrieval *rag.RetrievalResult
	for _, dep := range in.Deps {
		if r, ok := in.Outputs[dep].(*rag.RetrievalResult); ok {
			retrieval = r
			break
		}
	}

	var history []prompt.Message
	if h, ok := in.Initial["history"].([]prompt.Message); ok {
		history = h
	}

	return s.assembler.Assemble(s.template, s.vars, retrieval, history)
}

// ----------------------------------------------------------------------------
// Generate
// ----------------------------------------------------------------------------

// GenerateStep sends a prompt to an LLM provider. The prompt comes from
// the first string dependency output (typically an assemble_prompt node),
// falling back to the initial "prompt" input. When a cache is attached,
// identical requests share one provider call. Its output is the generated
// text.
type GenerateStep struct {
	provider llm.Provider
	req      llm.GenerateRequest
	cache    *llmcache.Cache
}

// NewGenerateStep 创建生成步骤。req.Prompt 留空,由上游节点填充。
func NewGenerateStep(provider llm.Provider, req llm.GenerateRequest) *GenerateStep {
	return &GenerateStep{provider: provider, req: req}
}

// WithCache enables response caching and call coalescing.
func (s *GenerateStep) WithCache(c *llmcache.Cache) *GenerateStep {
	s.cache = c
	return s
}

// Execute implements Step.
func (s *GenerateStep) Execute(ctx context.Context, in *StepInput) (any, error) {
	promptText, ok := in.DepString()
	if !ok {
		promptText, ok = in.Initial["prompt"].(string)
	}
	if !ok || promptText == "" {
		return nil, types.NewValidationError("node %s: no prompt available", in.NodeID)
	}

	req := s.req
	req.Prompt = promptText
	req.TraceID = in.NodeID

	if s.cache == nil {
		resp, err := s.provider.Generate(ctx, &req)
		if err != nil {
			return nil, err
		}
		return resp.Text, nil
	}

	raw, err := s.cache.GetOrCompute(ctx, llmcache.GenerationKey(&req), func(ctx context.Context) ([]byte, error) {
		resp, err := s.provider.Generate(ctx, &req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp llm.GenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.NewError(types.ErrInternal, fmt.Sprintf("decode cached response: %v", err))
	}
	return resp.Text, nil
}
