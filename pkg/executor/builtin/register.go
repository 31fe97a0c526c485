package builtin

import (
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/filestore"
)

// RegisterBuiltins registers all built-in executors that have no external
// dependencies with the given manager.
func RegisterBuiltins(manager executor.Manager) error {
	executors := map[string]executor.Executor{
		"http":            NewHTTPExecutor(),
		"transform":       NewTransformExecutor(),
		"conditional":     NewConditionalExecutor(),
		"merge":           NewMergeExecutor(),
		"trigger":         NewTriggerExecutor(),
		"rss_parser":      NewRSSParserExecutor(),
		"html_clean":      NewHTMLCleanExecutor(),
		"base64_to_bytes": NewBase64ToBytesExecutor(),
		"bytes_to_base64": NewBytesToBase64Executor(),
		"string_to_json":  NewStringToJsonExecutor(),
		"json_to_string":  NewJsonToStringExecutor(),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}

// MustRegisterBuiltins registers all built-in executors and panics on error.
// This is a convenience function for initialization code.
func MustRegisterBuiltins(manager executor.Manager) {
	if err := RegisterBuiltins(manager); err != nil {
		panic("failed to register built-in executors: " + err.Error())
	}
}

// RegisterFileExecutors registers the executors backed by a file storage
// manager: the file_storage node and the file<->bytes adapters.
func RegisterFileExecutors(manager executor.Manager, store filestore.Manager) error {
	executors := map[string]executor.Executor{
		"file_storage":   NewFileStorageExecutor(store),
		"file_to_bytes":  NewFileToBytesExecutor(store),
		"bytes_to_file":  NewBytesToFileExecutor(store),
	}

	for name, exec := range executors {
		if err := manager.Register(name, exec); err != nil {
			return err
		}
	}

	return nil
}
