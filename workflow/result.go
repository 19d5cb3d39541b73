package workflow

import (
	"sort"
	"time"

	"github.com/BaSui01/ragflow/types"
)

// RunStatus is the aggregated outcome of one run.
type RunStatus string

const (
	// RunSuccess means every node succeeded.
	RunSuccess RunStatus = "success"
	// RunPartial means at least one node failed or was skipped while at
	// least one succeeded.
	RunPartial RunStatus = "partial"
	// RunFailed means no node succeeded.
	RunFailed RunStatus = "failed"
)

// Failure reports one failed or skipped node. No failure is ever absorbed
// without appearing here.
type Failure struct {
	NodeID  string          `json:"node_id"`
	Kind    types.ErrorCode `json:"error_kind"`
	Message string          `json:"message"`
	Status  NodeStatus      `json:"status"`
}

// RunResult is the aggregated outcome of one run: the overall status, the
// outputs of every succeeded node, and a failure entry for every failed or
// skipped node.
type RunResult struct {
	RunID    string               `json:"run_id"`
	Status   RunStatus            `json:"status"`
	Outputs  map[string]any       `json:"outputs"`
	Failures []Failure            `json:"failures,omitempty"`
	States   map[string]NodeState `json:"states"`
	Duration time.Duration        `json:"duration"`
}

// buildResult aggregates the execution context into a RunResult.
func buildResult(ec *ExecutionContext, duration time.Duration) *RunResult {
	states := ec.Snapshot()

	result := &RunResult{
		RunID:    ec.RunID(),
		Outputs:  make(map[string]any),
		States:   states,
		Duration: duration,
	}

	succeeded := 0
	for id, st := range states {
		switch st.Status {
		case StatusSucceeded:
			succeeded++
			result.Outputs[id] = st.Output
		case StatusFailed, StatusSkipped:
			failure := Failure{NodeID: id, Status: st.Status}
			if st.Err != nil {
				failure.Kind = st.Err.Code
				failure.Message = st.Err.Message
			}
			result.Failures = append(result.Failures, failure)
		}
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].NodeID < result.Failures[j].NodeID
	})

	switch {
	case succeeded == len(states):
		result.Status = RunSuccess
	case succeeded == 0:
		result.Status = RunFailed
	default:
		result.Status = RunPartial
	}

	return result
}
