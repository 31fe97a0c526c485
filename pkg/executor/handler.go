package executor

// Schema describes a handler's expected config shape for §4.3's
// ConfigSchema(). It is deliberately a thin, JSON-Schema-ish struct
// rather than a full draft-07 implementation: the plan builder and the
// editor only need field presence/type/enum information, the same subset
// pkg/executor/config's typed structs already encode by hand.
type Schema struct {
	Fields []FieldDef `json:"fields"`
}

// FieldDef is a single config field's shape, shared between the plain
// Schema and the multi-operation sub-protocol's OperationDef (§4.3.1).
type FieldDef struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	Type         string   `json:"type"` // string|integer|number|boolean|array|object
	Format       string   `json:"format,omitempty"`
	Required     bool     `json:"required"`
	Default      any      `json:"default,omitempty"`
	Options      []string `json:"options,omitempty"`
	OptionLabels []string `json:"option_labels,omitempty"`
	Minimum      *float64 `json:"minimum,omitempty"`
	Maximum      *float64 `json:"maximum,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	Items        *FieldDef `json:"items,omitempty"`
	Properties   []FieldDef `json:"properties,omitempty"`
}

// Port describes one named input or output slot of a handler, exposed via
// InterfaceDefinition() for the editor's port metadata (§4.3).
type Port struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InterfaceDef is a handler's full port list, keyed by direction.
type InterfaceDef struct {
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`
}

// SchemaProvider is implemented by handlers that expose a richer config
// shape than plain Validate() error checking — the plan builder and the
// graphical editor use it to render and statically check node config
// (§4.3 "ConfigSchema() Schema").
type SchemaProvider interface {
	ConfigSchema() Schema
}

// InterfaceProvider exposes a handler's port metadata (§4.3
// "InterfaceDefinition()"). Most single-operation handlers have exactly
// one input port ("input") and one output port ("output"); only handlers
// with nonstandard wiring need to implement this explicitly.
type InterfaceProvider interface {
	InterfaceDefinition() InterfaceDef
}

// AsyncCapable is implemented by handlers whose Execute performs I/O and
// therefore must not be assumed to return instantly (§4.3 "SupportsAsync
// hint", §5 "Suspension points"). The scheduler does not currently
// special-case this — both sync and async handlers share one worker pool
// per §5 — but the hint is surfaced for observability and for a future
// scheduler revision that wants to size the pool differently for
// I/O-heavy flows.
type AsyncCapable interface {
	SupportsAsync() bool
}

// TriggerCapable is implemented by handlers eligible as a Plan's start
// node (§4.3 "IsTrigger()", §4.1 rule 4). A node type that does not
// implement this interface is never a valid zero-in-degree root.
type TriggerCapable interface {
	IsTrigger() bool
}
