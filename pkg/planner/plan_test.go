package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/executor/builtin"
	"github.com/smilemakc/mbflow/pkg/models"
)

func newTestRegistry(t *testing.T) *executor.Registry {
	t.Helper()
	reg := executor.NewRegistry()
	require.NoError(t, builtin.RegisterBuiltins(reg))
	return reg
}

func triggerToTerminal(nodeIDs ...string) *models.Workflow {
	nodes := []*models.Node{
		{ID: "start", Name: "Start", Type: "trigger", Config: map[string]any{}},
	}
	edges := []*models.Edge{}
	prev := "start"
	for i, id := range nodeIDs {
		nodes = append(nodes, &models.Node{ID: id, Name: id, Type: "transform", Config: map[string]any{"type": "passthrough"}})
		edges = append(edges, &models.Edge{ID: "e" + string(rune('0'+i)), From: prev, To: id})
		prev = id
	}
	return &models.Workflow{Name: "wf", Nodes: nodes, Edges: edges}
}

func TestBuild_SimpleChainSucceeds(t *testing.T) {
	reg := newTestRegistry(t)
	wf := triggerToTerminal("a", "b")

	plan, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.NoError(t, err)
	assert.Equal(t, "start", plan.TriggerNodeID)
	assert.Equal(t, []string{"b"}, plan.TerminalNodeIDs)
	assert.NotEmpty(t, plan.ContentHash)
	assert.Len(t, plan.Waves, 3)
}

func TestBuild_UnregisteredType(t *testing.T) {
	reg := newTestRegistry(t)
	wf := triggerToTerminal("a")
	wf.Nodes[1].Type = "does-not-exist"

	_, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	found := false
	for _, v := range verr.Violations {
		if v.Rule == "registered_type" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuild_CycleDetected(t *testing.T) {
	reg := newTestRegistry(t)
	wf := &models.Workflow{
		Name: "cyclic",
		Nodes: []*models.Node{
			{ID: "start", Type: "trigger", Config: map[string]any{}},
			{ID: "a", Type: "transform", Config: map[string]any{"type": "passthrough"}},
			{ID: "b", Type: "transform", Config: map[string]any{"type": "passthrough"}},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "start", To: "a"},
			{ID: "e2", From: "a", To: "b"},
			{ID: "e3", From: "b", To: "a"},
		},
	}

	_, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.Error(t, err)
	verr := err.(*ValidationError)
	ruleSeen := map[string]bool{}
	for _, v := range verr.Violations {
		ruleSeen[v.Rule] = true
	}
	assert.True(t, ruleSeen["acyclic"])
}

func TestBuild_MultipleZeroInDegreeNonTriggerNodesRejected(t *testing.T) {
	reg := newTestRegistry(t)
	wf := &models.Workflow{
		Name: "two-roots",
		Nodes: []*models.Node{
			{ID: "a", Type: "transform", Config: map[string]any{"type": "passthrough"}},
			{ID: "b", Type: "transform", Config: map[string]any{"type": "passthrough"}},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "a", To: "b"},
		},
	}

	_, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.Error(t, err)
	verr := err.(*ValidationError)
	found := false
	for _, v := range verr.Violations {
		if v.Rule == "single_trigger" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuild_EmptyWorkflowHasNoTerminalOrTrigger(t *testing.T) {
	reg := newTestRegistry(t)
	wf := &models.Workflow{Name: "empty"}

	_, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.Error(t, err)
	verr := err.(*ValidationError)
	ruleSeen := map[string]bool{}
	for _, v := range verr.Violations {
		ruleSeen[v.Rule] = true
	}
	assert.True(t, ruleSeen["terminal_exists"])
	assert.True(t, ruleSeen["single_trigger"])
}

func TestBuild_DuplicateEdgeRejected(t *testing.T) {
	reg := newTestRegistry(t)
	wf := triggerToTerminal("a")
	wf.Edges = append(wf.Edges, &models.Edge{ID: "e-dup", From: "start", To: "a"})

	_, err := NewBuilder(reg, nil).Build(context.Background(), wf, "")
	require.Error(t, err)
	verr := err.(*ValidationError)
	found := false
	for _, v := range verr.Violations {
		if v.Rule == "duplicate_edge" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuild_CredentialNotVisible(t *testing.T) {
	reg := newTestRegistry(t)
	wf := triggerToTerminal("a")
	wf.Nodes[1].Config["credential"] = "missing-alias"

	_, err := NewBuilder(reg, alwaysDenyResolver{}).Build(context.Background(), wf, "user-1")
	require.Error(t, err)
	verr := err.(*ValidationError)
	found := false
	for _, v := range verr.Violations {
		if v.Rule == "credential_visible" {
			found = true
		}
	}
	assert.True(t, found)
}

type alwaysDenyResolver struct{}

func (alwaysDenyResolver) Visible(_ context.Context, _, _ string) (bool, error) { return false, nil }

func TestBuild_ContentHashStableUnderNodeOrder(t *testing.T) {
	reg := newTestRegistry(t)
	wf1 := triggerToTerminal("a", "b")
	wf2 := triggerToTerminal("a", "b")
	wf2.Nodes[0], wf2.Nodes[1] = wf2.Nodes[1], wf2.Nodes[0]

	plan1, err := NewBuilder(reg, nil).Build(context.Background(), wf1, "")
	require.NoError(t, err)
	plan2, err := NewBuilder(reg, nil).Build(context.Background(), wf2, "")
	require.NoError(t, err)

	assert.Equal(t, plan1.ContentHash, plan2.ContentHash)
}
