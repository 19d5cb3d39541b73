package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// ---------------------------------------------------------------------------
// Mock steps
// ---------------------------------------------------------------------------

// recordingStep records execution order and call counts.
type recordingStep struct {
	id     string
	output any
	err    error
	delay  time.Duration

	calls atomic.Int32
	log   *executionLog
}

type executionLog struct {
	mu    sync.Mutex
	order []string
}

func (l *executionLog) record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, id)
}

func (l *executionLog) indexOf(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.order {
		if got == id {
			return i
		}
	}
	return -1
}

func (s *recordingStep) Execute(ctx context.Context, in *StepInput) (any, error) {
	s.calls.Add(1)
	if s.log != nil {
		s.log.record(s.id)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.output != nil {
		return s.output, nil
	}
	return s.id, nil
}

func newTestExecutor(cfg *config.Config) *Executor {
	return NewExecutor(cfg, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Dependency-ordered execution
// ---------------------------------------------------------------------------

func TestExecutor_DiamondOrdering(t *testing.T) {
	t.Parallel()

	log := &executionLog{}
	steps := map[string]*recordingStep{}
	mk := func(id string, deps ...string) NodeSpec {
		s := &recordingStep{id: id, log: log}
		steps[id] = s
		return NodeSpec{ID: id, Kind: StepCustom, DependsOn: deps, Step: s}
	}

	g, err := NewGraph([]NodeSpec{
		mk("a"),
		mk("b", "a"),
		mk("c", "a"),
		mk("d", "b", "c"),
	})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, result.Status)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Outputs, 4)
	for id, s := range steps {
		assert.Equal(t, int32(1), s.calls.Load(), "node %s executed once", id)
	}

	// Every node started strictly after all of its dependencies.
	assert.Less(t, log.indexOf("a"), log.indexOf("b"))
	assert.Less(t, log.indexOf("a"), log.indexOf("c"))
	assert.Less(t, log.indexOf("b"), log.indexOf("d"))
	assert.Less(t, log.indexOf("c"), log.indexOf("d"))
}

func TestExecutor_DependencyOutputsVisible(t *testing.T) {
	t.Parallel()

	var gotOutputs map[string]any
	var gotInitial map[string]any

	g, err := NewGraph([]NodeSpec{
		{ID: "upstream", Kind: StepCustom, Step: StepFunc(func(ctx context.Context, in *StepInput) (any, error) {
			return "payload", nil
		})},
		{ID: "downstream", Kind: StepCustom, DependsOn: []string{"upstream"}, Step: StepFunc(func(ctx context.Context, in *StepInput) (any, error) {
			gotOutputs = in.Outputs
			gotInitial = in.Initial
			return nil, nil
		})},
	})
	require.NoError(t, err)

	initial := map[string]any{"query": "hello"}
	result, err := newTestExecutor(nil).Run(context.Background(), g, initial)
	require.NoError(t, err)
	require.Equal(t, RunSuccess, result.Status)

	assert.Equal(t, map[string]any{"upstream": "payload"}, gotOutputs)
	assert.Equal(t, "hello", gotInitial["query"])
}

// ---------------------------------------------------------------------------
// Failure cascade and partial results
// ---------------------------------------------------------------------------

func TestExecutor_FailureCascadesToSkip(t *testing.T) {
	t.Parallel()

	// a -> b (fails), a -> c, {b,c} -> d. d must be skipped, c must still run.
	cStep := &recordingStep{id: "c"}
	dStep := &recordingStep{id: "d"}
	g, err := NewGraph([]NodeSpec{
		{ID: "a", Kind: StepCustom, Step: &recordingStep{id: "a"}},
		{ID: "b", Kind: StepCustom, DependsOn: []string{"a"},
			Step: &recordingStep{id: "b", err: types.NewAdapterError("mock", "boom")},
			Retry: RetryPolicy{MaxAttempts: 1}},
		{ID: "c", Kind: StepCustom, DependsOn: []string{"a"}, Step: cStep},
		{ID: "d", Kind: StepCustom, DependsOn: []string{"b", "c"}, Step: dStep},
	})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunPartial, result.Status)
	assert.Equal(t, int32(1), cStep.calls.Load())
	assert.Equal(t, int32(0), dStep.calls.Load(), "skipped node must never execute")

	require.Len(t, result.Failures, 2)
	assert.Equal(t, "b", result.Failures[0].NodeID)
	assert.Equal(t, StatusFailed, result.Failures[0].Status)
	assert.Equal(t, types.ErrAdapter, result.Failures[0].Kind)
	assert.Equal(t, "d", result.Failures[1].NodeID)
	assert.Equal(t, StatusSkipped, result.Failures[1].Status)
	assert.Equal(t, types.ErrSkipped, result.Failures[1].Kind)

	assert.Contains(t, result.Outputs, "a")
	assert.Contains(t, result.Outputs, "c")
	assert.NotContains(t, result.Outputs, "d")
}

func TestExecutor_SkipCascadesTransitively(t *testing.T) {
	t.Parallel()

	// a (fails) -> b -> c: both b and c end skipped.
	g, err := NewGraph([]NodeSpec{
		{ID: "a", Kind: StepCustom,
			Step:  &recordingStep{id: "a", err: types.NewAdapterError("mock", "boom")},
			Retry: RetryPolicy{MaxAttempts: 1}},
		spec("b", "a"),
		spec("c", "b"),
	})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, StatusFailed, result.States["a"].Status)
	assert.Equal(t, StatusSkipped, result.States["b"].Status)
	assert.Equal(t, StatusSkipped, result.States["c"].Status)
}

func TestExecutor_OptionalDependencyFailureTolerated(t *testing.T) {
	t.Parallel()

	// a -> b (optional, fails), a -> c, {b,c} -> d.
	// d runs because c succeeded; b's output is simply absent.
	var dInput *StepInput
	g, err := NewGraph([]NodeSpec{
		spec("a"),
		{ID: "b", Kind: StepCustom, DependsOn: []string{"a"}, Optional: true,
			Step:  &recordingStep{id: "b", err: types.NewAdapterError("mock", "boom")},
			Retry: RetryPolicy{MaxAttempts: 1}},
		spec("c", "a"),
		{ID: "d", Kind: StepCustom, DependsOn: []string{"b", "c"}, Step: StepFunc(func(ctx context.Context, in *StepInput) (any, error) {
			dInput = in
			return "d-out", nil
		})},
	})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunPartial, result.Status, "b still counts as a failure")
	assert.Equal(t, StatusSucceeded, result.States["d"].Status)
	assert.Equal(t, "d-out", result.Outputs["d"])

	require.NotNil(t, dInput)
	_, hasB := dInput.DepOutput("b")
	assert.False(t, hasB)
	_, hasC := dInput.DepOutput("c")
	assert.True(t, hasC)
}

func TestExecutor_AllOptionalDependenciesFailed(t *testing.T) {
	t.Parallel()

	// Every dependency of c failed, even though all are optional:
	// c would run with zero inputs, so it is skipped.
	cStep := &recordingStep{id: "c"}
	g, err := NewGraph([]NodeSpec{
		spec("root"),
		{ID: "a", Kind: StepCustom, DependsOn: []string{"root"}, Optional: true,
			Step:  &recordingStep{id: "a", err: types.NewAdapterError("mock", "boom")},
			Retry: RetryPolicy{MaxAttempts: 1}},
		{ID: "b", Kind: StepCustom, DependsOn: []string{"root"}, Optional: true,
			Step:  &recordingStep{id: "b", err: types.NewAdapterError("mock", "boom")},
			Retry: RetryPolicy{MaxAttempts: 1}},
		{ID: "c", Kind: StepCustom, DependsOn: []string{"a", "b"}, Step: cStep},
	})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(0), cStep.calls.Load())
	assert.Equal(t, StatusSkipped, result.States["c"].Status)
	assert.Equal(t, RunPartial, result.Status)
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestExecutor_CancellationStopsRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	tail := &recordingStep{id: "tail"}

	g, err := NewGraph([]NodeSpec{
		{ID: "head", Kind: StepCustom, Step: StepFunc(func(ctx context.Context, in *StepInput) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})},
		{ID: "tail", Kind: StepCustom, DependsOn: []string{"head"}, Step: tail},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := newTestExecutor(nil).Run(ctx, g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, int32(0), tail.calls.Load())
	for id, st := range result.States {
		assert.True(t, st.Status.Terminal(), "node %s left non-terminal", id)
	}
	assert.Equal(t, StatusSkipped, result.States["tail"].Status)

	// The in-flight node aborted by cancellation is skipped, never
	// recorded as failed, whether its completion outran the abort or not.
	head := result.States["head"]
	assert.Equal(t, StatusSkipped, head.Status)
	require.NotNil(t, head.Err)
	assert.Equal(t, types.ErrCancelled, head.Err.Code)
}

// ---------------------------------------------------------------------------
// Concurrency bound
// ---------------------------------------------------------------------------

func TestExecutor_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit = 2
	var inFlight, peak atomic.Int32

	gauge := StepFunc(func(ctx context.Context, in *StepInput) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})

	specs := []NodeSpec{spec("root")}
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5", "w6"} {
		specs = append(specs, NodeSpec{ID: id, Kind: StepCustom, DependsOn: []string{"root"}, Step: gauge})
	}
	g, err := NewGraph(specs)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.MaxConcurrency = limit
	result, err := newTestExecutor(cfg).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, result.Status)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

// ---------------------------------------------------------------------------
// Misc
// ---------------------------------------------------------------------------

func TestExecutor_NilGraph(t *testing.T) {
	t.Parallel()

	_, err := newTestExecutor(nil).Run(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestExecutor_SingleNodeGraph(t *testing.T) {
	t.Parallel()

	g, err := NewGraph([]NodeSpec{spec("only")})
	require.NoError(t, err)

	result, err := newTestExecutor(nil).Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, result.Status)
	assert.Equal(t, "only", result.Outputs["only"])
	assert.NotEmpty(t, result.RunID)
}
