package builtin

import (
	"context"

	"github.com/smilemakc/mbflow/pkg/executor"
)

// TriggerExecutor is the node-graph counterpart of §6's ingress adapter:
// a flow's single permitted zero-in-degree node (§4.1 rule 4). It has no
// config of its own and no real work to do — start_execution's initial
// input already becomes its input_data per §4.2 — so Execute is a
// passthrough that lets the input flow to the trigger's successors
// unchanged.
type TriggerExecutor struct {
	*executor.BaseExecutor
}

// NewTriggerExecutor creates the built-in manual-trigger handler.
func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{BaseExecutor: executor.NewBaseExecutor("trigger")}
}

// Execute passes the fan-in input straight through as output.
func (e *TriggerExecutor) Execute(_ context.Context, _ map[string]any, input any) (any, error) {
	return input, nil
}

// Validate accepts any config; a trigger node carries no required fields.
func (e *TriggerExecutor) Validate(_ map[string]any) error {
	return nil
}

// IsTrigger marks this handler eligible as a Plan's start node (§4.3).
func (e *TriggerExecutor) IsTrigger() bool { return true }

// ConfigSchema reports the (empty) config shape for the editor and plan
// builder (§4.3 "ConfigSchema()").
func (e *TriggerExecutor) ConfigSchema() executor.Schema {
	return executor.Schema{}
}

// InterfaceDefinition reports the trigger's single output port; it has no
// input port since it is never a fan-in target (§4.1 rule 4 forbids any
// other zero-in-degree node, and a non-zero-in-degree trigger would defeat
// the point of the designated start node).
func (e *TriggerExecutor) InterfaceDefinition() executor.InterfaceDef {
	return executor.InterfaceDef{
		Outputs: []executor.Port{{Name: "output", Description: "the execution's initial input, unchanged"}},
	}
}
