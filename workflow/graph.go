package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/ragflow/types"
	"gopkg.in/yaml.v3"
)

// StepKind identifies what a node does.
type StepKind string

const (
	// StepRetrieve runs the retrieval pipeline.
	StepRetrieve StepKind = "retrieve"
	// StepAssemblePrompt merges template, context and history into a prompt.
	StepAssemblePrompt StepKind = "assemble_prompt"
	// StepGenerate invokes the LLM provider.
	StepGenerate StepKind = "generate"
	// StepCustom runs caller-supplied logic.
	StepCustom StepKind = "custom"
)

// RetryPolicy configures per-node retries. Zero values fall back to the
// executor's configured defaults.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// BackoffBase is the initial delay before the first retry.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
	// BackoffCap caps the exponentially growing delay.
	BackoffCap time.Duration `json:"backoff_cap" yaml:"backoff_cap"`
}

// NodeSpec describes one node of a workflow definition.
type NodeSpec struct {
	// ID is the unique node identifier.
	ID string `json:"id" yaml:"id"`
	// Kind is the step kind.
	Kind StepKind `json:"step_kind" yaml:"step_kind"`
	// DependsOn lists the node IDs this node consumes outputs from.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Retry is the node retry policy.
	Retry RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	// Timeout bounds a single execution attempt.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Optional marks a node whose failure does not cascade to dependents.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
	// Step is the executable step. Not serialized.
	Step Step `json:"-" yaml:"-"`
}

// UnmarshalYAML decodes a retry policy, accepting time.ParseDuration
// syntax ("500ms") for the backoff fields, which yaml cannot decode into
// time.Duration on its own.
func (p *RetryPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BackoffBase string `yaml:"backoff_base"`
		BackoffCap  string `yaml:"backoff_cap"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.MaxAttempts = raw.MaxAttempts
	if raw.BackoffBase != "" {
		d, err := time.ParseDuration(raw.BackoffBase)
		if err != nil {
			return fmt.Errorf("backoff_base: %w", err)
		}
		p.BackoffBase = d
	}
	if raw.BackoffCap != "" {
		d, err := time.ParseDuration(raw.BackoffCap)
		if err != nil {
			return fmt.Errorf("backoff_cap: %w", err)
		}
		p.BackoffCap = d
	}
	return nil
}

// UnmarshalYAML decodes a node spec, accepting time.ParseDuration syntax
// ("10s") for the timeout field.
func (n *NodeSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID        string      `yaml:"id"`
		Kind      StepKind    `yaml:"step_kind"`
		DependsOn []string    `yaml:"depends_on"`
		Retry     RetryPolicy `yaml:"retry_policy"`
		Timeout   string      `yaml:"timeout"`
		Optional  bool        `yaml:"optional"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	n.ID = raw.ID
	n.Kind = raw.Kind
	n.DependsOn = raw.DependsOn
	n.Retry = raw.Retry
	n.Optional = raw.Optional
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("node %s: timeout: %w", raw.ID, err)
		}
		n.Timeout = d
	}
	return nil
}

// Node is one executable step in a validated graph. Immutable after
// construction; safe to share read-only across concurrent runs.
type Node struct {
	id        string
	kind      StepKind
	dependsOn []string
	retry     RetryPolicy
	timeout   time.Duration
	optional  bool
	step      Step
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// Kind returns the step kind.
func (n *Node) Kind() StepKind { return n.kind }

// DependsOn returns a copy of the dependency list.
func (n *Node) DependsOn() []string {
	deps := make([]string, len(n.dependsOn))
	copy(deps, n.dependsOn)
	return deps
}

// Retry returns the node retry policy.
func (n *Node) Retry() RetryPolicy { return n.retry }

// Timeout returns the per-attempt timeout.
func (n *Node) Timeout() time.Duration { return n.timeout }

// Optional reports whether this node's failure is tolerated by dependents.
func (n *Node) Optional() bool { return n.optional }

// Step returns the executable step.
func (n *Node) Step() Step { return n.step }

// Graph is a validated, immutable arena of nodes referenced by stable
// identifiers. Validation happens once at construction; execution never
// starts on an invalid graph.
type Graph struct {
	nodes      map[string]*Node
	order      []string            // node IDs, sorted for deterministic iteration
	dependents map[string][]string // reverse edges
	roots      []string
}

// GraphOption configures graph construction.
type GraphOption func(*graphOptions)

type graphOptions struct {
	allowMultipleRoots bool
}

// WithMultipleRoots allows more than one node with zero dependencies.
// By default a graph must have exactly one root.
func WithMultipleRoots() GraphOption {
	return func(o *graphOptions) { o.allowMultipleRoots = true }
}

// NewGraph builds and validates a graph from node specifications.
// Validation: node IDs are unique and non-empty, every step is set, every
// declared dependency resolves to a node in the set, the dependency
// structure is acyclic, and the root constraint holds.
func NewGraph(specs []NodeSpec, opts ...GraphOption) (*Graph, error) {
	options := &graphOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if len(specs) == 0 {
		return nil, types.NewValidationError("graph has no nodes")
	}

	g := &Graph{
		nodes:      make(map[string]*Node, len(specs)),
		dependents: make(map[string][]string),
	}

	for _, spec := range specs {
		if spec.ID == "" {
			return nil, types.NewValidationError("node with empty id")
		}
		if _, exists := g.nodes[spec.ID]; exists {
			return nil, types.NewValidationError("duplicate node id: %s", spec.ID)
		}
		if spec.Step == nil {
			return nil, types.NewValidationError("node %s has no step", spec.ID)
		}
		deps := make([]string, len(spec.DependsOn))
		copy(deps, spec.DependsOn)
		g.nodes[spec.ID] = &Node{
			id:        spec.ID,
			kind:      spec.Kind,
			dependsOn: deps,
			retry:     spec.Retry,
			timeout:   spec.Timeout,
			optional:  spec.Optional,
			step:      spec.Step,
		}
	}

	for id, node := range g.nodes {
		seen := make(map[string]struct{}, len(node.dependsOn))
		for _, dep := range node.dependsOn {
			if _, exists := g.nodes[dep]; !exists {
				return nil, types.NewValidationError("node %s depends on unknown node %s", id, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, types.NewValidationError("node %s declares dependency %s twice", id, dep)
			}
			seen[dep] = struct{}{}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
		if len(node.dependsOn) == 0 {
			g.roots = append(g.roots, id)
		}
	}

	g.order = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		g.order = append(g.order, id)
	}
	sort.Strings(g.order)
	sort.Strings(g.roots)
	for _, ids := range g.dependents {
		sort.Strings(ids)
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	if len(g.roots) == 0 {
		// unreachable once detectCycles passes, kept as a guard
		return nil, types.NewValidationError("graph has no root node")
	}
	if len(g.roots) > 1 && !options.allowMultipleRoots {
		return nil, types.NewValidationError(
			"graph has %d roots %v; use WithMultipleRoots to allow independent roots",
			len(g.roots), g.roots)
	}

	return g, nil
}

// Three-color DFS marking over dependency edges.
const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS stack
	colorBlack        // fully explored
)

// detectCycles walks dependency edges depth-first; a gray-to-gray edge is
// a back edge, i.e. a cycle.
func (g *Graph) detectCycles() error {
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) *types.Error
	visit = func(id string) *types.Error {
		colors[id] = colorGray
		for _, dep := range g.nodes[id].dependsOn {
			switch colors[dep] {
			case colorGray:
				return types.NewError(types.ErrCycleDetected,
					"cycle detected involving nodes "+id+" and "+dep)
			case colorWhite:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		colors[id] = colorBlack
		return nil
	}

	for _, id := range g.order {
		if colors[id] == colorWhite {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns all nodes in deterministic (sorted-ID) order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, len(g.order))
	for i, id := range g.order {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Dependents returns the IDs of nodes that depend on the given node.
func (g *Graph) Dependents(id string) []string {
	deps := g.dependents[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Ready returns, in deterministic order, the IDs of nodes that have not
// been started and whose dependencies have all reached a terminal state.
func (g *Graph) Ready(terminal map[string]bool, started map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if started[id] || terminal[id] {
			continue
		}
		ok := true
		for _, dep := range g.nodes[id].dependsOn {
			if !terminal[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}
