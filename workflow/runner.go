package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm/retry"
	"github.com/BaSui01/ragflow/types"
)

// Runner executes a single node's step with a per-attempt timeout and the
// node's retry policy. Transient failures (timeout, rate limit, network)
// are retried with exponential backoff and jitter; terminal failures stop
// immediately.
type Runner struct {
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewRunner creates a node runner.
func NewRunner(logger *zap.Logger, collector *metrics.Collector) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:    logger.With(zap.String("component", "node_runner")),
		collector: collector,
	}
}

// Run executes the node and returns its output, the number of attempts
// consumed, and the classified error on failure. ctx is the run-scoped
// context; its cancellation aborts the node between and during attempts.
// The attempt loop itself is the retry package's backoff retryer; the
// runner contributes the per-attempt timeout and node-scoped telemetry.
func (r *Runner) Run(ctx context.Context, node *Node, in *StepInput, policy *retry.Policy, timeout time.Duration) (any, int, *types.Error) {
	attempts := 0

	p := *policy
	inner := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.collector.NodeRetry()
		r.logger.Debug("retrying node",
			zap.String("node_id", node.ID()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if inner != nil {
			inner(attempt, err, delay)
		}
	}

	output, err := retry.NewBackoffRetryer(&p, r.logger).DoWithResult(ctx, func() (any, error) {
		attempts++
		out, aerr := r.attempt(ctx, node, in, timeout)
		// Run-level cancellation wins over any classification.
		if aerr != nil && ctx.Err() != nil {
			return nil, types.Classify(ctx.Err())
		}
		return out, aerr
	})
	if err == nil {
		if attempts > 1 {
			r.logger.Info("node succeeded after retry",
				zap.String("node_id", node.ID()),
				zap.Int("attempts", attempts),
			)
		}
		return output, attempts, nil
	}

	nerr := types.Classify(err)
	r.logger.Warn("node failed",
		zap.String("node_id", node.ID()),
		zap.String("error_kind", string(nerr.Code)),
		zap.Int("attempts", attempts),
		zap.Error(nerr),
	)
	return nil, attempts, nerr
}

type attemptResult struct {
	output any
	err    error
}

// attempt runs one execution attempt under its own timeout. The timeout is
// enforced independently of step cooperation: a step that overruns is
// abandoned and the attempt reported as a transient timeout.
func (r *Runner) attempt(ctx context.Context, node *Node, in *StepInput, timeout time.Duration) (any, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		output, err := node.Step().Execute(attemptCtx, in)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			// The attempt deadline fired, not the run context.
			return nil, types.NewTransientError(types.ErrTimeout,
				"node "+node.ID()+" attempt timed out").WithCause(res.err)
		}
		return res.output, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewTransientError(types.ErrTimeout,
			"node "+node.ID()+" attempt timed out")
	}
}
