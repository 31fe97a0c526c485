package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Resolver handles variable resolution with support for nested paths.
type Resolver struct {
	context *VariableContext
	options TemplateOptions
}

// NewResolver creates a new variable resolver.
func NewResolver(ctx *VariableContext, opts TemplateOptions) *Resolver {
	return &Resolver{
		context: ctx,
		options: opts,
	}
}

// ResolveVariable resolves a variable reference (e.g., "env.user.name" or "input.data[0].id").
// Returns the resolved value and any error encountered.
func (r *Resolver) ResolveVariable(varType, path string) (interface{}, error) {
	var value interface{}
	var found bool

	switch varType {
	case "env":
		if path == "" {
			return nil, fmt.Errorf("%w: env requires a variable name", ErrInvalidTemplate)
		}
		value, found = r.resolveEnvPath(path)

	case "input", "$input":
		if path == "" {
			// $input with no path means "the whole input snapshot".
			return r.wholeInputSnapshot(), nil
		}
		value, found = r.resolveInputPath(path)

	case "resource":
		if path == "" {
			return nil, fmt.Errorf("%w: resource requires an alias", ErrInvalidTemplate)
		}
		value, found = r.resolveResourcePath(path)

	case "$nodes":
		if path == "" {
			return nil, fmt.Errorf("%w: $nodes requires a node id", ErrInvalidTemplate)
		}
		value, found = r.resolveNodesPath(path)

	case "$execution":
		if path == "" {
			return nil, fmt.Errorf("%w: $execution requires a field name", ErrInvalidTemplate)
		}
		value, found = r.resolveExecutionPath(path)

	default:
		return nil, fmt.Errorf("%w: unknown variable type '%s'", ErrInvalidTemplate, varType)
	}

	if !found {
		// Always return the error, let the engine decide how to handle it
		return nil, fmt.Errorf("%w: {{%s.%s}}", ErrVariableNotFound, varType, path)
	}

	return value, nil
}

// resolveEnvPath resolves an environment variable with nested path support.
func (r *Resolver) resolveEnvPath(path string) (interface{}, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	root, found := r.context.GetEnvVariable(rootVarName(parts[0]))
	if !found {
		return nil, false
	}

	return r.resolveRoot(root, parts)
}

// resolveInputPath resolves an input variable with nested path support.
func (r *Resolver) resolveInputPath(path string) (interface{}, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	root, found := r.context.GetInputVariable(rootVarName(parts[0]))
	if !found {
		return nil, false
	}

	return r.resolveRoot(root, parts)
}

// resolveResourcePath resolves a workflow resource reference by alias, with
// the same nested-path support as env/input (e.g. "myStorage.bucket").
func (r *Resolver) resolveResourcePath(path string) (interface{}, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	root, found := r.context.GetResourceVariable(rootVarName(parts[0]))
	if !found {
		return nil, false
	}

	return r.resolveRoot(root, parts)
}

// rootVarName strips a trailing bracket expression from a path's first
// segment, leaving the bare variable/field name used to look up the root.
func rootVarName(firstPart string) string {
	if bracketIdx := strings.Index(firstPart, "["); bracketIdx > 0 {
		return firstPart[:bracketIdx]
	}
	return firstPart
}

// resolveRoot applies the first path segment's bracket expression (index or
// wildcard, if any) to an already-resolved root value, then traverses
// whatever remains of the path.
func (r *Resolver) resolveRoot(root interface{}, parts []string) (interface{}, bool) {
	if bracketIdx := strings.Index(parts[0], "["); bracketIdx >= 0 {
		indexPart := parts[0][bracketIdx:]
		if strings.Contains(indexPart, "[*]") {
			return r.projectWildcard(root, "[*]", parts[1:])
		}
		var err error
		root, err = r.resolveArrayIndex(root, indexPart)
		if err != nil {
			return nil, false
		}
	}
	parts = parts[1:]

	if len(parts) == 0 {
		return root, true
	}

	return r.traversePath(root, parts)
}

// wholeInputSnapshot returns the full $input namespace (the current node's
// input_data) as a plain map, for a bare "{{$input}}" reference.
func (r *Resolver) wholeInputSnapshot() interface{} {
	return r.context.InputVars
}

// resolveNodesPath resolves "$nodes.<node_id>.output[.<field path>]". The
// leading segment is always the producing node's ID; "output" is an
// optional, conventional second segment kept for readability in flow
// definitions but not required to reach the node's output value.
func (r *Resolver) resolveNodesPath(path string) (interface{}, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	nodeID := parts[0]
	if bracketIdx := strings.Index(nodeID, "["); bracketIdx > 0 {
		nodeID = nodeID[:bracketIdx]
	}

	if r.context.NodeOutputs == nil {
		return nil, false
	}
	root, found := r.context.NodeOutputs[nodeID]
	if !found {
		return nil, false
	}

	parts = parts[1:]
	if len(parts) > 0 && parts[0] == "output" {
		parts = parts[1:]
	}

	if len(parts) == 0 {
		return root, true
	}

	return r.traversePath(root, parts)
}

// resolveExecutionPath resolves "$execution.id" and "$execution.startedAt".
func (r *Resolver) resolveExecutionPath(path string) (interface{}, bool) {
	switch path {
	case "id":
		return r.context.ExecutionID, true
	case "startedAt":
		return r.context.ExecutionStarted, true
	default:
		return nil, false
	}
}

// traversePath traverses a nested path in a value.
// Supports object field access (user.name), array indexing (items[0],
// items[-1]), and wildcard projection (items[*].field), which maps the
// remaining path over every element and returns a slice of results.
func (r *Resolver) traversePath(value interface{}, parts []string) (interface{}, bool) {
	current := value

	for i, part := range parts {
		if strings.Contains(part, "[*]") {
			return r.projectWildcard(current, part, parts[i+1:])
		}

		// Check if this is array indexing (e.g., "[0]" or "items[0]")
		if strings.Contains(part, "[") && strings.HasSuffix(part, "]") {
			// Handle array indexing
			var err error
			current, err = r.resolveArrayIndex(current, part)
			if err != nil {
				return nil, false
			}
			continue
		}

		// Handle object field access
		current = r.resolveField(current, part)
		if current == nil {
			return nil, false
		}
	}

	return current, true
}

// projectWildcard handles a path segment containing "[*]" (optionally
// preceded by a field name, e.g. "items[*]"), applying the remaining path
// to every element of the resulting list and collecting the projection.
func (r *Resolver) projectWildcard(value interface{}, part string, rest []string) (interface{}, bool) {
	fieldName := strings.TrimSuffix(part, "[*]")
	current := value
	if fieldName != "" {
		current = r.resolveField(current, fieldName)
		if current == nil {
			return nil, false
		}
	}

	elems, ok := toSlice(current)
	if !ok {
		return nil, false
	}

	results := make([]interface{}, 0, len(elems))
	for _, elem := range elems {
		if len(rest) == 0 {
			results = append(results, elem)
			continue
		}
		projected, found := r.traversePath(elem, rest)
		if !found {
			continue
		}
		results = append(results, projected)
	}

	return results, true
}

// toSlice normalizes a value (native slice/array or JSON-decodable value)
// into a []interface{}.
func toSlice(value interface{}) ([]interface{}, bool) {
	if arr, ok := value.([]interface{}); ok {
		return arr, true
	}

	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = v.Index(i).Interface()
		}
		return out, true
	}

	if data, err := json.Marshal(value); err == nil {
		var arr []interface{}
		if err := json.Unmarshal(data, &arr); err == nil {
			return arr, true
		}
	}

	return nil, false
}

// resolveField resolves a field in an object.
func (r *Resolver) resolveField(value interface{}, field string) interface{} {
	if value == nil {
		return nil
	}

	// Try map access first
	if m, ok := value.(map[string]interface{}); ok {
		return m[field]
	}

	// Try reflection for structs
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() == reflect.Struct {
		f := v.FieldByName(field)
		if f.IsValid() {
			return f.Interface()
		}
	}

	// Try JSON unmarshaling for complex types
	if data, err := json.Marshal(value); err == nil {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err == nil {
			return m[field]
		}
	}

	return nil
}

// resolveArrayIndex resolves array indexing (e.g., "[0]", "items[0]", "[0][1]").
func (r *Resolver) resolveArrayIndex(value interface{}, indexExpr string) (interface{}, error) {
	// Parse field name and indices
	// Examples: "[0]", "items[0]", "[0][1]"
	fieldName := ""
	indexPart := indexExpr

	if bracketIdx := strings.Index(indexExpr, "["); bracketIdx > 0 {
		fieldName = indexExpr[:bracketIdx]
		indexPart = indexExpr[bracketIdx:]
	}

	// If there's a field name, resolve it first
	current := value
	if fieldName != "" {
		current = r.resolveField(current, fieldName)
		if current == nil {
			return nil, fmt.Errorf("%w: field '%s' not found", ErrInvalidPath, fieldName)
		}
	}

	// Parse all indices (support chained indexing like [0][1])
	indices := parseArrayIndices(indexPart)
	if len(indices) == 0 {
		return nil, ErrArrayIndexInvalid
	}

	// Apply each index
	for _, idx := range indices {
		var err error
		current, err = r.indexArray(current, idx)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// indexArray applies a single array index to a value. A negative index
// counts from the end (-1 is the last element), as in "items[-1]".
func (r *Resolver) indexArray(value interface{}, index int) (interface{}, error) {
	if value == nil {
		return nil, ErrTypeNotSupported
	}

	// Try slice/array access
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		resolved := index
		if resolved < 0 {
			resolved += v.Len()
		}
		if resolved < 0 || resolved >= v.Len() {
			return nil, fmt.Errorf("%w: index %d, length %d", ErrArrayOutOfBounds, index, v.Len())
		}
		return v.Index(resolved).Interface(), nil
	}

	// Try JSON array
	if data, err := json.Marshal(value); err == nil {
		var arr []interface{}
		if err := json.Unmarshal(data, &arr); err == nil {
			resolved := index
			if resolved < 0 {
				resolved += len(arr)
			}
			if resolved < 0 || resolved >= len(arr) {
				return nil, fmt.Errorf("%w: index %d, length %d", ErrArrayOutOfBounds, index, len(arr))
			}
			return arr[resolved], nil
		}
	}

	return nil, ErrTypeNotSupported
}

// splitPath splits a path into parts, handling dots and brackets.
// Example: "user.profile.items[0].name" -> ["user", "profile", "items[0]", "name"]
func splitPath(path string) []string {
	if path == "" {
		return nil
	}

	var parts []string
	var current strings.Builder
	inBracket := false

	for _, ch := range path {
		switch ch {
		case '.':
			if !inBracket && current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		case '[':
			inBracket = true
			current.WriteRune(ch)
		case ']':
			inBracket = false
			current.WriteRune(ch)
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// parseArrayIndices parses array indices from a string like "[0]" or "[0][1]".
func parseArrayIndices(expr string) []int {
	var indices []int

	// Find all [n] patterns
	start := 0
	for {
		openIdx := strings.Index(expr[start:], "[")
		if openIdx == -1 {
			break
		}
		openIdx += start

		closeIdx := strings.Index(expr[openIdx:], "]")
		if closeIdx == -1 {
			break
		}
		closeIdx += openIdx

		// Extract number between brackets
		numStr := expr[openIdx+1 : closeIdx]
		num, err := strconv.Atoi(strings.TrimSpace(numStr))
		if err != nil {
			return nil
		}

		indices = append(indices, num)
		start = closeIdx + 1
	}

	return indices
}
