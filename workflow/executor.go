package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm/retry"
	"github.com/BaSui01/ragflow/types"
)

// Executor drives one run of a validated graph: it repeatedly computes the
// ready set, dispatches ready nodes to the Runner under a bounded
// concurrency limit, and folds completions back into the execution context
// until every node is terminal or the run context fires.
type Executor struct {
	config    *config.Config
	runner    *Runner
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewExecutor creates an executor. cfg nil means defaults.
func NewExecutor(cfg *config.Config, logger *zap.Logger) *Executor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "executor"))
	return &Executor{
		config: cfg,
		runner: NewRunner(logger, nil),
		logger: logger,
	}
}

// WithCollector attaches a metrics collector.
func (e *Executor) WithCollector(collector *metrics.Collector) *Executor {
	e.collector = collector
	e.runner.collector = collector
	return e
}

// completion is a worker's report back to the scheduling loop.
type completion struct {
	nodeID   string
	output   any
	attempts int
	err      *types.Error
}

// Run executes the graph with the given initial inputs. Cancelling ctx (or
// letting its deadline fire) aborts in-flight nodes and marks every
// non-terminal node skipped; the aggregated result is still returned.
func (e *Executor) Run(ctx context.Context, graph *Graph, initial map[string]any) (*RunResult, error) {
	if graph == nil {
		return nil, types.NewValidationError("run: graph is nil")
	}

	runID := uuid.NewString()
	started := time.Now()
	ec := NewExecutionContext(runID, graph)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(e.config.MaxConcurrency))
	// Buffered to graph size so workers never block on a departed loop.
	completions := make(chan completion, graph.Len())

	dispatched := make(map[string]bool, graph.Len())
	inFlight := 0

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("nodes", graph.Len()),
		zap.Int("max_concurrency", e.config.MaxConcurrency),
	)

	cancelled := false
	for {
		// Skips can unblock further nodes immediately, so drain the
		// ready set until it stops changing before waiting.
		for {
			progressed := false
			for _, id := range graph.Ready(ec.Terminal(), dispatched) {
				node, _ := graph.Node(id)
				if skipErr := e.skipReason(node, graph, ec); skipErr != nil {
					ec.setSkipped(id, skipErr)
					e.collector.NodeExecution(string(node.Kind()), string(StatusSkipped), 0)
					e.logger.Info("node skipped",
						zap.String("run_id", runID),
						zap.String("node_id", id),
						zap.String("reason", skipErr.Message),
					)
					progressed = true
					continue
				}
				dispatched[id] = true
				inFlight++
				ec.setRunning(id)
				e.dispatch(runCtx, sem, node, e.stepInput(node, initial, ec), completions)
				progressed = true
			}
			if !progressed {
				break
			}
		}

		if ec.AllTerminal() {
			break
		}
		if inFlight == 0 {
			// Unreachable on a validated acyclic graph.
			return nil, types.NewError(types.ErrInternal, "scheduler stalled with no runnable nodes")
		}

		select {
		case done := <-completions:
			inFlight--
			e.applyCompletion(runID, graph, ec, done)
		case <-runCtx.Done():
			cancelled = true
		}

		if cancelled {
			break
		}
	}

	if cancelled {
		e.abort(runID, graph, ec)
	}

	result := buildResult(ec, time.Since(started))
	e.collector.Run(string(result.Status), result.Duration)
	e.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(result.Status)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// dispatch hands a node to a worker goroutine. The concurrency slot is
// acquired inside the worker so the scheduling loop never blocks.
func (e *Executor) dispatch(runCtx context.Context, sem *semaphore.Weighted, node *Node, in *StepInput, completions chan<- completion) {
	go func() {
		if err := sem.Acquire(runCtx, 1); err != nil {
			completions <- completion{nodeID: node.ID(), err: types.Classify(err)}
			return
		}
		defer sem.Release(1)

		policy := e.retryPolicy(node)
		timeout := node.Timeout()
		if timeout <= 0 {
			timeout = e.config.NodeTimeout
		}

		output, attempts, nerr := e.runner.Run(runCtx, node, in, policy, timeout)
		completions <- completion{nodeID: node.ID(), output: output, attempts: attempts, err: nerr}
	}()
}

// applyCompletion folds a worker report into the execution context.
func (e *Executor) applyCompletion(runID string, graph *Graph, ec *ExecutionContext, done completion) {
	node, _ := graph.Node(done.nodeID)
	st, _ := ec.State(done.nodeID)
	duration := time.Since(st.StartedAt)

	if done.err != nil {
		if done.err.Code == types.ErrCancelled {
			// An attempt aborted by run-level cancellation is not a
			// node failure; the node never reached a terminal state
			// of its own and is recorded as skipped.
			if ec.setSkipped(done.nodeID, done.err) {
				e.collector.NodeExecution(string(node.Kind()), string(StatusSkipped), duration)
				e.logger.Info("node skipped",
					zap.String("run_id", runID),
					zap.String("node_id", done.nodeID),
					zap.String("reason", done.err.Message),
				)
			}
			return
		}
		ec.setFailed(done.nodeID, done.err, done.attempts)
		e.collector.NodeExecution(string(node.Kind()), string(StatusFailed), duration)
		e.logger.Warn("node failed",
			zap.String("run_id", runID),
			zap.String("node_id", done.nodeID),
			zap.String("error_kind", string(done.err.Code)),
			zap.Int("attempts", done.attempts),
			zap.Error(done.err),
		)
		return
	}

	ec.setSucceeded(done.nodeID, done.output, done.attempts)
	e.collector.NodeExecution(string(node.Kind()), string(StatusSucceeded), duration)
	e.logger.Debug("node succeeded",
		zap.String("run_id", runID),
		zap.String("node_id", done.nodeID),
		zap.Int("attempts", done.attempts),
		zap.Duration("duration", duration),
	)
}

// skipReason decides whether a ready node must be skipped instead of run:
//   - any failed or skipped non-optional dependency cascades a skip;
//   - a node whose dependencies all failed or were skipped (even when all
//     optional) is skipped, since it would run with zero inputs.
//
// Returns nil when the node should execute.
func (e *Executor) skipReason(node *Node, graph *Graph, ec *ExecutionContext) *types.Error {
	deps := node.DependsOn()
	if len(deps) == 0 {
		return nil
	}

	succeeded := 0
	for _, dep := range deps {
		st, _ := ec.State(dep)
		switch st.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed, StatusSkipped:
			depNode, _ := graph.Node(dep)
			if !depNode.Optional() {
				return types.NewError(types.ErrSkipped,
					"dependency "+dep+" "+string(st.Status))
			}
		}
	}

	if succeeded == 0 {
		return types.NewError(types.ErrSkipped, "no dependency produced an output")
	}
	return nil
}

// stepInput gathers the outputs of succeeded dependencies. Outputs of
// optional dependencies that failed are simply absent, which is a defined
// condition for the step's own logic.
func (e *Executor) stepInput(node *Node, initial map[string]any, ec *ExecutionContext) *StepInput {
	deps := node.DependsOn()
	outputs := make(map[string]any, len(deps))
	for _, dep := range deps {
		if st, ok := ec.State(dep); ok && st.Status == StatusSucceeded {
			outputs[dep] = st.Output
		}
	}
	return &StepInput{
		NodeID:  node.ID(),
		Deps:    deps,
		Initial: initial,
		Outputs: outputs,
	}
}

// abort transitions every non-terminal node to skipped after run-level
// cancellation. In-flight workers observe the cancelled context and their
// late completions are ignored by the write-once execution context.
func (e *Executor) abort(runID string, graph *Graph, ec *ExecutionContext) {
	reason := types.NewError(types.ErrCancelled, "run cancelled")
	for _, node := range graph.Nodes() {
		if ec.setSkipped(node.ID(), reason) {
			e.collector.NodeExecution(string(node.Kind()), string(StatusSkipped), 0)
		}
	}
	e.logger.Warn("run aborted", zap.String("run_id", runID))
}

// retryPolicy resolves a node's retry policy against configured defaults.
func (e *Executor) retryPolicy(node *Node) *retry.Policy {
	rp := node.Retry()
	policy := &retry.Policy{
		MaxAttempts:  rp.MaxAttempts,
		InitialDelay: rp.BackoffBase,
		MaxDelay:     rp.BackoffCap,
		Multiplier:   2.0,
		Jitter:       true,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = e.config.Retry.MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = e.config.Retry.BackoffBase
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = e.config.Retry.BackoffCap
	}
	return policy
}
