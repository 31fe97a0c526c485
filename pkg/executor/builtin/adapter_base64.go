package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/smilemakc/mbflow/pkg/executor"
)

// Base64ToBytesExecutor decodes a base64 string into the raw bytes carried
// on the outgoing edge. The engine's Value model (§3) represents Bytes as
// base64 on the wire, so the []byte this handler returns round-trips
// straight back to base64 the next time it's serialized.
type Base64ToBytesExecutor struct {
	*executor.BaseExecutor
}

func NewBase64ToBytesExecutor() *Base64ToBytesExecutor {
	return &Base64ToBytesExecutor{
		BaseExecutor: executor.NewBaseExecutor("base64_to_bytes"),
	}
}

// Execute decodes a base64 string to bytes.
//
// Config:
//   - encoding: "standard" | "url" (default: "standard")
//
// Input: base64 string, or a map with a "data" field holding one.
//
// Output:
//   - result: decoded bytes
//   - decoded_size: size in bytes
//   - duration_ms: execution time
func (e *Base64ToBytesExecutor) Execute(ctx context.Context, config map[string]interface{}, input interface{}) (interface{}, error) {
	startTime := time.Now()

	encoding := e.GetStringDefault(config, "encoding", "standard")
	decoder, err := base64Codec(encoding)
	if err != nil {
		return nil, fmt.Errorf("base64_to_bytes: %w", err)
	}

	raw, err := extractBase64String(input)
	if err != nil {
		return nil, fmt.Errorf("base64_to_bytes: %w", err)
	}

	decoded, err := decoder.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("base64_to_bytes: decoding failed: %w", err)
	}

	return map[string]interface{}{
		"result":       decoded,
		"decoded_size": len(decoded),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	}, nil
}

func (e *Base64ToBytesExecutor) Validate(config map[string]interface{}) error {
	_, err := base64Codec(e.GetStringDefault(config, "encoding", "standard"))
	return err
}

// BytesToBase64Executor encodes the Bytes value on an incoming edge into a
// base64 string, the inverse of Base64ToBytesExecutor.
type BytesToBase64Executor struct {
	*executor.BaseExecutor
}

func NewBytesToBase64Executor() *BytesToBase64Executor {
	return &BytesToBase64Executor{
		BaseExecutor: executor.NewBaseExecutor("bytes_to_base64"),
	}
}

// Execute encodes bytes to a base64 string.
//
// Config:
//   - encoding: "standard" | "url" (default: "standard")
//
// Input: []byte, a string (treated as UTF-8 bytes), or a map with a "data"
// field holding either.
//
// Output:
//   - result: base64 encoded string
//   - encoded_size: encoded string size
//   - duration_ms: execution time
func (e *BytesToBase64Executor) Execute(ctx context.Context, config map[string]interface{}, input interface{}) (interface{}, error) {
	startTime := time.Now()

	encoding := e.GetStringDefault(config, "encoding", "standard")
	encoder, err := base64Codec(encoding)
	if err != nil {
		return nil, fmt.Errorf("bytes_to_base64: %w", err)
	}

	data, err := extractBytes(input)
	if err != nil {
		return nil, fmt.Errorf("bytes_to_base64: %w", err)
	}

	encoded := encoder.EncodeToString(data)

	return map[string]interface{}{
		"result":       encoded,
		"encoded_size": len(encoded),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	}, nil
}

func (e *BytesToBase64Executor) Validate(config map[string]interface{}) error {
	_, err := base64Codec(e.GetStringDefault(config, "encoding", "standard"))
	return err
}

func base64Codec(encoding string) (*base64.Encoding, error) {
	switch encoding {
	case "standard", "":
		return base64.StdEncoding, nil
	case "url":
		return base64.URLEncoding, nil
	default:
		return nil, fmt.Errorf("invalid encoding: %s (must be: standard, url)", encoding)
	}
}

func extractBase64String(input interface{}) (string, error) {
	switch v := input.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case map[string]interface{}:
		if data, ok := v["data"].(string); ok {
			return strings.TrimSpace(data), nil
		}
		return "", fmt.Errorf("expected 'data' field in input map")
	default:
		return "", fmt.Errorf("unsupported input type: %T (expected string or map)", input)
	}
}

func extractBytes(input interface{}) ([]byte, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case map[string]interface{}:
		if data, ok := v["data"]; ok {
			return extractBytes(data)
		}
		return nil, fmt.Errorf("expected 'data' field in input map")
	default:
		return nil, fmt.Errorf("unsupported input type: %T (expected []byte, string, or map)", input)
	}
}
