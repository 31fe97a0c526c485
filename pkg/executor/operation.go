package executor

import (
	"context"
	"fmt"
)

// ResourceDef is one entry of a multi-operation handler's resource matrix
// (§4.3.1) — e.g. a database handler's "table" resource, or an HTTP
// wrapper's "endpoint" resource.
type ResourceDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// OperationDef is one (resource, operation) pair's shape: its fields, its
// credential requirement, and a human-readable description of what it
// returns.
type OperationDef struct {
	Name               string     `json:"name"`
	DisplayName        string     `json:"display_name,omitempty"`
	Description        string     `json:"description,omitempty"`
	Fields             []FieldDef `json:"fields"`
	RequiresCredential bool       `json:"requires_credential"`
	OutputDescription  string     `json:"output_description,omitempty"`
}

// Credential is the resolved credential material a MultiOperationExecutor
// receives for one operation call. The engine hands over already-resolved
// material via ExecutionContext.credentials_resolver (§3) — handlers never
// see a raw reference into the credential store.
type Credential struct {
	ID   string
	Data map[string]any
}

// MultiOperationExecutor is the extended contract (§4.3.1) for handlers
// exposing a (resource, operation) matrix — database, HTTP-service, and
// SaaS-API integration handlers. A MultiOperationExecutor is still a plain
// Executor: its Execute is expected to be DefaultMultiOperationExecute
// (below), routing on the node config's "resource"/"operation" fields.
type MultiOperationExecutor interface {
	Executor

	Resources() map[string]ResourceDef
	Operations() map[string][]OperationDef
	ExecuteOperation(ctx context.Context, resource, operation string, credential *Credential, params map[string]any) (any, error)
}

// CredentialLookup resolves a node config's "credential" alias to
// resolved material. It is supplied by the engine's
// ExecutionContext.credentials_resolver capability; DefaultMultiOperationExecute
// calls it at most once per invocation.
type CredentialLookup func(ctx context.Context, alias string) (*Credential, error)

// ConfigError is returned by DefaultMultiOperationExecute for any
// malformed routing config, matching §4.3.1's "Unknown resource or
// operation yields a FAILED result with error.kind = CONFIG".
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// DefaultMultiOperationExecute implements the engine's default Execute
// for a MultiOperationExecutor (§4.3.1): it reads "resource" and
// "operation" out of config, resolves the credential (when the selected
// operation requires one) via lookup, and dispatches to
// ExecuteOperation. The remaining config keys become params.
func DefaultMultiOperationExecute(
	ctx context.Context,
	handler MultiOperationExecutor,
	config map[string]any,
	lookup CredentialLookup,
) (any, error) {
	resource, _ := config["resource"].(string)
	operation, _ := config["operation"].(string)

	if resource == "" {
		return nil, &ConfigError{Message: "multi-operation node config missing \"resource\""}
	}
	if operation == "" {
		return nil, &ConfigError{Message: "multi-operation node config missing \"operation\""}
	}

	ops, ok := handler.Operations()[resource]
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown resource %q", resource)}
	}

	var matched *OperationDef
	for i := range ops {
		if ops[i].Name == operation {
			matched = &ops[i]
			break
		}
	}
	if matched == nil {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown operation %q for resource %q", operation, resource)}
	}

	var credential *Credential
	if matched.RequiresCredential {
		if lookup == nil {
			return nil, &ConfigError{Message: fmt.Sprintf("operation %s.%s requires a credential but none was supplied", resource, operation)}
		}
		alias, _ := config["credential"].(string)
		if alias == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("operation %s.%s requires a \"credential\" field", resource, operation)}
		}
		cred, err := lookup(ctx, alias)
		if err != nil {
			return nil, err
		}
		credential = cred
	}

	params := make(map[string]any, len(config))
	for k, v := range config {
		if k == "resource" || k == "operation" || k == "credential" {
			continue
		}
		params[k] = v
	}

	return handler.ExecuteOperation(ctx, resource, operation, credential, params)
}
