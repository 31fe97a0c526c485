// Package planner implements the Plan Builder (§4.1): it takes a
// FlowDocument-shaped models.Workflow plus a snapshot of the handler
// registry, runs every validation rule listed in §4.1, and — only when
// none fire — emits an immutable, content-addressed Plan that is the
// scheduler's sole input. Builder.Build is a graph-level gate: it never stops
// at the first problem, so a flow author sees every violation in one
// round trip instead of fixing them one at a time.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/smilemakc/mbflow/pkg/engine"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// Violation is one failed rule from §4.1, tagged with the offending node
// or edge id so the caller can point the flow author at the exact spot.
type Violation struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

// ValidationError collects every Violation found while building a Plan.
// The plan builder never stops at the first violation (§4.1).
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("plan validation failed: %s", e.Violations[0].Message)
	}
	return fmt.Sprintf("plan validation failed: %d violations (first: %s)", len(e.Violations), e.Violations[0].Message)
}

// HandlerRegistry is the subset of executor.Manager the plan builder needs
// to resolve rule 1 (registered type) and rule 6 (config schema).
type HandlerRegistry interface {
	Has(nodeType string) bool
	Get(nodeType string) (executor.Executor, error)
}

// CredentialResolver answers rule 7: is this credential/resource id visible
// to the given principal? It is the plan-time counterpart of the
// ExecutionContext.credentials_resolver capability (§3) — the plan builder
// only checks visibility, it never reads credential material.
type CredentialResolver interface {
	Visible(ctx context.Context, principal, resourceID string) (bool, error)
}

// Plan is the validated, content-addressed derivation of a FlowDocument
// (§3). It is pure data: no closures, no live resources, safe to pass to
// multiple executions of the same flow version concurrently.
type Plan struct {
	// ContentHash identifies this Plan by the flow document it was derived
	// from — same nodes/edges/settings always hash identically regardless
	// of map iteration order, so a re-validated unchanged flow yields the
	// same Plan identity.
	ContentHash string

	Workflow *models.Workflow

	// Topological order, one wave per Kahn's-algorithm round (§4.1 rule 3).
	Waves [][]*models.Node

	// Forward/reverse adjacency, keyed by node id.
	Forward map[string][]string
	Reverse map[string][]string

	// InDegree is each node's expected fan-in count at READY time (§4.2).
	InDegree map[string]int

	// TriggerNodeID is the Plan's single designated start node (§3, §4.1
	// rule 4). Its input is the execution's initial input.
	TriggerNodeID string

	// TerminalNodeIDs are the zero-out-degree nodes whose outputs compose
	// the execution's output document (§4.2 "Output assembly").
	TerminalNodeIDs []string
}

// Builder builds Plans from FlowDocuments. It is stateless and safe for
// concurrent use; construct one per process, not per request.
type Builder struct {
	registry  HandlerRegistry
	resolver  CredentialResolver
	principal string
}

// NewBuilder constructs a plan Builder. resolver may be nil, in which case
// rule 7 (credential visibility) is skipped — useful for contexts (tests,
// import-time structural checks) that have no principal yet.
func NewBuilder(registry HandlerRegistry, resolver CredentialResolver) *Builder {
	return &Builder{registry: registry, resolver: resolver}
}

// Build runs every §4.1 validation rule against workflow and, if none
// fire, returns the resulting Plan. On any violation it returns the full
// list wrapped in a *ValidationError — never a partial list — per §4.1's
// "it must not stop at the first" requirement. principal scopes rule 7's
// credential-visibility check.
func (b *Builder) Build(ctx context.Context, workflow *models.Workflow, principal string) (*Plan, error) {
	var violations []Violation

	nodeByID := make(map[string]*models.Node, len(workflow.Nodes))
	seenNodeIDs := make(map[string]bool, len(workflow.Nodes))
	for _, n := range workflow.Nodes {
		if seenNodeIDs[n.ID] {
			violations = append(violations, Violation{Rule: "unique_node_id", NodeID: n.ID, Message: fmt.Sprintf("duplicate node id %q", n.ID)})
			continue
		}
		seenNodeIDs[n.ID] = true
		nodeByID[n.ID] = n

		// Rule 1: every node.type is registered.
		if b.registry != nil && !b.registry.Has(n.Type) {
			violations = append(violations, Violation{Rule: "registered_type", NodeID: n.ID, Message: fmt.Sprintf("node %q has unregistered type %q", n.ID, n.Type)})
		}
	}

	// Rule 2 (edge endpoints exist) + rule 8 (no duplicate (source,target,
	// sourcePort,targetPort) edges). The model does not carry separate
	// sourcePort/targetPort fields; SourceHandle is this schema's
	// equivalent of sourcePort (default "output" when empty, per §3).
	type edgeKey struct{ from, to, handle string }
	seenEdges := make(map[edgeKey]bool, len(workflow.Edges))
	for _, e := range workflow.Edges {
		if _, ok := nodeByID[e.From]; !ok {
			violations = append(violations, Violation{Rule: "edge_endpoints", EdgeID: e.ID, Message: fmt.Sprintf("edge %q source %q does not exist", e.ID, e.From)})
		}
		if _, ok := nodeByID[e.To]; !ok {
			violations = append(violations, Violation{Rule: "edge_endpoints", EdgeID: e.ID, Message: fmt.Sprintf("edge %q target %q does not exist", e.ID, e.To)})
		}

		key := edgeKey{from: e.From, to: e.To, handle: e.SourceHandle}
		if seenEdges[key] {
			violations = append(violations, Violation{Rule: "duplicate_edge", EdgeID: e.ID, Message: fmt.Sprintf("duplicate edge %s->%s (port %q)", e.From, e.To, e.SourceHandle)})
			continue
		}
		seenEdges[key] = true
	}

	// Rule 6: each handler's declared required config fields are present.
	for _, n := range workflow.Nodes {
		if b.registry == nil {
			break
		}
		h, err := b.registry.Get(n.Type)
		if err != nil {
			continue // already reported by rule 1
		}
		if err := h.Validate(n.Config); err != nil {
			violations = append(violations, Violation{Rule: "config_schema", NodeID: n.ID, Message: fmt.Sprintf("node %q config invalid: %v", n.ID, err)})
		}
	}

	// Rule 7: every credentialId referenced in a node's config resolves
	// for principal. Resources are attached workflow-wide and referenced
	// from node config by alias (models.WorkflowResource.Alias); a node
	// references one via its "resource"/"credential" config key.
	if b.resolver != nil {
		aliasToResourceID := make(map[string]string, len(workflow.Resources))
		for _, r := range workflow.Resources {
			aliasToResourceID[r.Alias] = r.ResourceID
		}
		for _, n := range workflow.Nodes {
			alias, ok := nodeCredentialAlias(n)
			if !ok {
				continue
			}
			resourceID, known := aliasToResourceID[alias]
			if !known {
				violations = append(violations, Violation{Rule: "credential_visible", NodeID: n.ID, Message: fmt.Sprintf("node %q references unknown resource alias %q", n.ID, alias)})
				continue
			}
			visible, err := b.resolver.Visible(ctx, principal, resourceID)
			if err != nil {
				violations = append(violations, Violation{Rule: "credential_visible", NodeID: n.ID, Message: fmt.Sprintf("node %q credential check failed: %v", n.ID, err)})
				continue
			}
			if !visible {
				violations = append(violations, Violation{Rule: "credential_visible", NodeID: n.ID, Message: fmt.Sprintf("node %q references credential %q not visible to principal", n.ID, resourceID)})
			}
		}
	}

	// Rule 3: acyclic, via Kahn's algorithm (reusing the scheduler's own
	// topological sort so the Plan's wave order is exactly what the
	// scheduler will walk).
	dag := engine.BuildDAG(workflow)
	waves, topoErr := engine.TopologicalSort(dag)
	if topoErr != nil {
		for _, nodeID := range remainingCyclicNodes(dag) {
			violations = append(violations, Violation{Rule: "acyclic", NodeID: nodeID, Message: fmt.Sprintf("node %q is part of a cycle", nodeID)})
		}
	}

	// Rule 4: exactly one trigger-category node has in-degree zero.
	var triggerNodeID string
	if topoErr == nil {
		triggerViolations, trigger := b.validateTrigger(workflow, dag)
		violations = append(violations, triggerViolations...)
		triggerNodeID = trigger
	}

	// Rule 5: at least one terminal (out-degree zero) node exists.
	var terminals []string
	if topoErr == nil {
		terminals = terminalNodeIDs(workflow)
		if len(terminals) == 0 {
			violations = append(violations, Violation{Rule: "terminal_exists", Message: "workflow has no terminal (zero out-degree) node"})
		}
	}

	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool {
			if violations[i].Rule != violations[j].Rule {
				return violations[i].Rule < violations[j].Rule
			}
			return violations[i].Message < violations[j].Message
		})
		return nil, &ValidationError{Violations: violations}
	}

	plan := &Plan{
		Workflow:        workflow,
		Waves:           waves,
		Forward:         make(map[string][]string, len(dag.Edges)),
		Reverse:         make(map[string][]string, len(dag.Index.ParentsByNode)),
		InDegree:        make(map[string]int, len(dag.InDegree)),
		TriggerNodeID:   triggerNodeID,
		TerminalNodeIDs: terminals,
	}
	for from, tos := range dag.Edges {
		plan.Forward[from] = append([]string(nil), tos...)
	}
	for nodeID, parents := range dag.Index.ParentsByNode {
		for _, p := range parents {
			plan.Reverse[nodeID] = append(plan.Reverse[nodeID], p.ID)
		}
	}
	for nodeID, degree := range dag.InDegree {
		plan.InDegree[nodeID] = degree
	}
	plan.ContentHash = contentHash(workflow)

	return plan, nil
}

// nodeCredentialAlias returns the resource alias a node's config points
// at, if any, checking the "credential", "resource" and "resource_alias"
// keys in that order — the multi-operation sub-protocol
// (§4.3.1) resolves the same key before calling ExecuteOperation.
func nodeCredentialAlias(n *models.Node) (string, bool) {
	for _, key := range []string{"credential", "resource", "resource_alias"} {
		if v, ok := n.Config[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// validateTrigger implements §4.1 rule 4. A zero-in-degree node counts as
// a valid trigger when its handler opts into the optional
// executor.TriggerCapable interface and reports IsTrigger() == true.
func (b *Builder) validateTrigger(workflow *models.Workflow, dag *engine.DAG) ([]Violation, string) {
	var roots []string
	for _, n := range workflow.Nodes {
		if dag.InDegree[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}
	sort.Strings(roots)

	var violations []Violation
	var triggers []string
	for _, nodeID := range roots {
		n := engine.GetNodeByID(workflow, nodeID)
		if n == nil {
			continue
		}
		if b.isTriggerType(n.Type) {
			triggers = append(triggers, nodeID)
			continue
		}
		violations = append(violations, Violation{Rule: "single_trigger", NodeID: nodeID, Message: fmt.Sprintf("zero-in-degree node %q has non-trigger type %q", nodeID, n.Type)})
	}

	switch {
	case len(triggers) == 0:
		violations = append(violations, Violation{Rule: "single_trigger", Message: "no trigger-category node with zero in-degree found"})
		return violations, ""
	case len(triggers) > 1:
		violations = append(violations, Violation{Rule: "single_trigger", Message: fmt.Sprintf("multiple trigger-category zero-in-degree nodes: %v", triggers)})
		return violations, ""
	default:
		return violations, triggers[0]
	}
}

// isTriggerType asks the handler registered for nodeType whether it is
// trigger-eligible (§4.3 "IsTrigger"). A registry that was never told
// about trigger-capable handlers treats every zero-in-degree node as
// ineligible, which simply surfaces as a single_trigger violation rather
// than silently accepting an ambiguous start — fail closed, not open.
func (b *Builder) isTriggerType(nodeType string) bool {
	if b.registry == nil {
		return false
	}
	h, err := b.registry.Get(nodeType)
	if err != nil {
		return false
	}
	tc, ok := h.(executor.TriggerCapable)
	return ok && tc.IsTrigger()
}

func terminalNodeIDs(workflow *models.Workflow) []string {
	hasOutgoing := make(map[string]bool, len(workflow.Nodes))
	for _, e := range workflow.Edges {
		hasOutgoing[e.From] = true
	}
	var terminals []string
	for _, n := range workflow.Nodes {
		if !hasOutgoing[n.ID] {
			terminals = append(terminals, n.ID)
		}
	}
	sort.Strings(terminals)
	return terminals
}

// remainingCyclicNodes recomputes Kahn's algorithm far enough to report
// which nodes never reach in-degree zero (§4.1 rule 3: "on failure return
// the nodes remaining with nonzero in-degree").
func remainingCyclicNodes(dag *engine.DAG) []string {
	inDegree := make(map[string]int, len(dag.InDegree))
	for k, v := range dag.InDegree {
		inDegree[k] = v
	}

	changed := true
	for changed {
		changed = false
		for nodeID, degree := range inDegree {
			if degree != 0 {
				continue
			}
			delete(inDegree, nodeID)
			for _, childID := range dag.Edges[nodeID] {
				if _, ok := inDegree[childID]; ok {
					inDegree[childID]--
				}
			}
			changed = true
			break
		}
	}

	remaining := make([]string, 0, len(inDegree))
	for nodeID := range inDegree {
		remaining = append(remaining, nodeID)
	}
	sort.Strings(remaining)
	return remaining
}

// contentHash derives a Plan's identity from the flow document's
// structural content, independent of in-memory field ordering. Two
// workflows with identical nodes/edges/settings always hash the same.
func contentHash(workflow *models.Workflow) string {
	canon := struct {
		Nodes    []*models.Node          `json:"nodes"`
		Edges    []*models.Edge          `json:"edges"`
		Settings *models.WorkflowSettings `json:"settings,omitempty"`
		Version  int                     `json:"version"`
	}{
		Nodes:    sortedNodes(workflow.Nodes),
		Edges:    sortedEdges(workflow.Edges),
		Settings: workflow.Settings,
		Version:  workflow.Version,
	}

	b, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedNodes(nodes []*models.Node) []*models.Node {
	out := append([]*models.Node(nil), nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedEdges(edges []*models.Edge) []*models.Edge {
	out := append([]*models.Edge(nil), edges...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
