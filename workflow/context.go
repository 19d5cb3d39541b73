package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/ragflow/types"
)

// NodeStatus is the lifecycle state of one node within a run.
type NodeStatus string

const (
	// StatusPending means the node has not been dispatched yet.
	StatusPending NodeStatus = "pending"
	// StatusRunning means an attempt is in flight (possibly awaiting a
	// suspended adapter call).
	StatusRunning NodeStatus = "running"
	// StatusSucceeded is terminal: the node produced an output.
	StatusSucceeded NodeStatus = "succeeded"
	// StatusFailed is terminal: retries exhausted or a terminal error.
	StatusFailed NodeStatus = "failed"
	// StatusSkipped is terminal: never executed (failed dependency or
	// run-level cancellation).
	StatusSkipped NodeStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// NodeState is the per-run record of one node.
type NodeState struct {
	Status     NodeStatus   `json:"status"`
	Output     any          `json:"output,omitempty"`
	Err        *types.Error `json:"error,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// ExecutionContext maps node IDs to their per-run state. Entries are
// write-once: a node that reached a terminal state is never mutated again.
// The executor's scheduling loop is the single writer; the mutex makes
// reads from concurrent workers safe.
type ExecutionContext struct {
	runID string

	mu     sync.RWMutex
	states map[string]*NodeState
}

// NewExecutionContext initializes every node of the graph as pending.
func NewExecutionContext(runID string, graph *Graph) *ExecutionContext {
	states := make(map[string]*NodeState, graph.Len())
	for _, node := range graph.Nodes() {
		states[node.ID()] = &NodeState{Status: StatusPending}
	}
	return &ExecutionContext{runID: runID, states: states}
}

// RunID returns the run identifier.
func (ec *ExecutionContext) RunID() string { return ec.runID }

// State returns a copy of a node's state.
func (ec *ExecutionContext) State(id string) (NodeState, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	st, ok := ec.states[id]
	if !ok {
		return NodeState{}, false
	}
	return *st, true
}

// Snapshot returns a copy of all node states.
func (ec *ExecutionContext) Snapshot() map[string]NodeState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]NodeState, len(ec.states))
	for id, st := range ec.states {
		out[id] = *st
	}
	return out
}

// Terminal returns the set of node IDs in a terminal state.
func (ec *ExecutionContext) Terminal() map[string]bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]bool, len(ec.states))
	for id, st := range ec.states {
		if st.Status.Terminal() {
			out[id] = true
		}
	}
	return out
}

// AllTerminal reports whether every node reached a terminal state.
func (ec *ExecutionContext) AllTerminal() bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	for _, st := range ec.states {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// setRunning transitions a pending node to running.
func (ec *ExecutionContext) setRunning(id string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	st, ok := ec.states[id]
	if !ok || st.Status.Terminal() || st.Status == StatusRunning {
		return false
	}
	st.Status = StatusRunning
	st.StartedAt = time.Now()
	return true
}

// setSucceeded records a terminal success. Returns false if the entry was
// already terminal.
func (ec *ExecutionContext) setSucceeded(id string, output any, attempts int) bool {
	return ec.setTerminal(id, func(st *NodeState) {
		st.Status = StatusSucceeded
		st.Output = output
		st.Attempts = attempts
	})
}

// setFailed records a terminal failure.
func (ec *ExecutionContext) setFailed(id string, err *types.Error, attempts int) bool {
	return ec.setTerminal(id, func(st *NodeState) {
		st.Status = StatusFailed
		st.Err = err
		st.Attempts = attempts
	})
}

// setSkipped records a skip with its reason.
func (ec *ExecutionContext) setSkipped(id string, err *types.Error) bool {
	return ec.setTerminal(id, func(st *NodeState) {
		st.Status = StatusSkipped
		st.Err = err
	})
}

func (ec *ExecutionContext) setTerminal(id string, apply func(*NodeState)) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	st, ok := ec.states[id]
	if !ok || st.Status.Terminal() {
		return false
	}
	apply(st)
	st.FinishedAt = time.Now()
	return true
}
