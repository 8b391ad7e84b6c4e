package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const sandboxTimeout = 30 * time.Second

// SandboxResult is what Execute returns, matching the spec's structured
// error shape on failure.
type SandboxResult struct {
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// Sandbox is C7: evaluates an untrusted script string inside an
// isolated goja VM exposing exactly one global, memory, with read/list
// operations backed by an ObjectStore. No filesystem or network host
// functions are bound; the standard ECMAScript built-ins that goja
// provides, including Date, remain available.
//
// The spec describes the script as the body of an async function, so
// it's wrapped and invoked as one: `(async function(){ ... })()`.
// memory.read/memory.list stay plain synchronous host functions — goja
// has no event loop for real async I/O — but because they're called
// from inside a real async function, `await memory.read(path)` parses
// and runs: the await suspends on an already-resolved value and goja
// drains that microtask inline before RunString returns, so the
// resulting Promise is settled by the time Execute inspects it.
type Sandbox struct {
	store ObjectStore
}

func NewSandbox(store ObjectStore) *Sandbox {
	return &Sandbox{store: store}
}

// Execute runs script as `(async function() { <script> })()`: the
// script text is the function body, and the value it returns becomes
// Value once the returned promise settles (a body without a return
// statement yields nil).
func (s *Sandbox) Execute(ctx context.Context, script string) SandboxResult {
	vm := goja.New()

	memoryObj := vm.NewObject()
	_ = memoryObj.Set("read", s.hostRead(ctx, vm))
	_ = memoryObj.Set("list", s.hostList(ctx, vm))
	if err := vm.Set("memory", memoryObj); err != nil {
		return SandboxResult{Error: "Execution failed", Details: err.Error(), IsError: true}
	}

	timer := time.AfterFunc(sandboxTimeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	wrapped := "(async function(){\n" + script + "\n})()"

	value, err := vm.RunString(wrapped)
	if err != nil {
		return SandboxResult{Error: "Execution failed", Details: err.Error(), IsError: true}
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return SandboxResult{Value: exportJSONSafe(value)}
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return SandboxResult{Value: exportJSONSafe(promise.Result())}
	case goja.PromiseStateRejected:
		return SandboxResult{Error: "Execution failed", Details: fmt.Sprintf("%v", exportJSONSafe(promise.Result())), IsError: true}
	default:
		return SandboxResult{Error: "Execution failed", Details: "script did not settle (async host I/O beyond memory.read/memory.list is unsupported)", IsError: true}
	}
}

// exportJSONSafe converts a goja Value to a plain Go value that
// round-trips through JSON, falling back to its string form if it
// doesn't (e.g. a function). undefined and null become nil.
func exportJSONSafe(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	if _, err := json.Marshal(exported); err != nil {
		return fmt.Sprintf("%v", exported)
	}
	return exported
}

func (s *Sandbox) hostRead(ctx context.Context, vm *goja.Runtime) func(path string) goja.Value {
	return func(path string) goja.Value {
		file, err := s.store.Read(ctx, path)
		if err != nil {
			if err == ErrNotFound {
				return goja.Null()
			}
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(file.Content)
	}
}

func (s *Sandbox) hostList(ctx context.Context, vm *goja.Runtime) func(path string) goja.Value {
	return func(path string) goja.Value {
		entries, err := s.store.List(ctx, path, true)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		out := make([]map[string]any, len(entries))
		for i, e := range entries {
			out[i] = map[string]any{
				"path":       e.Path,
				"size":       e.Size,
				"updated_at": e.UpdatedAt,
			}
		}
		return vm.ToValue(out)
	}
}
