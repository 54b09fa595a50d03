// Package runtime executes tools end to end: it binds caller parameters
// against the tool's declaration, runs the command sequence under the
// declared strategy, applies the tool's typed error handling, and emits one
// learning record per execution regardless of outcome.
package runtime

import (
	"context"
	"fmt"
	"sort"
)

// ActionFunc is a host-provided command implementation. Handlers receive the
// command's bound parameters and the execution context, and must honor ctx
// cancellation.
type ActionFunc func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error)

// ActionTable maps a command's opaque action string to its handler. It is
// populated at startup and immutable afterwards; Resolve is safe for
// concurrent use once serving begins.
type ActionTable struct {
	handlers map[string]ActionFunc
	sealed   bool
}

// NewActionTable creates an empty table with the built-in noop action, which
// the auto-fixer's placeholder commands rely on.
func NewActionTable() *ActionTable {
	t := &ActionTable{handlers: make(map[string]ActionFunc)}
	t.handlers["noop"] = func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return "noop", nil
	}
	return t
}

// Register adds a handler. Registration happens before the table is sealed;
// duplicate names and post-seal registration are programming errors.
func (t *ActionTable) Register(name string, fn ActionFunc) error {
	if t.sealed {
		return fmt.Errorf("action table sealed, cannot register %q", name)
	}
	if name == "" || fn == nil {
		return fmt.Errorf("action registration requires a name and a handler")
	}
	if _, exists := t.handlers[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	t.handlers[name] = fn
	return nil
}

// Seal freezes the table; the server calls this before accepting requests.
func (t *ActionTable) Seal() { t.sealed = true }

// Resolve looks up a handler by action name.
func (t *ActionTable) Resolve(name string) (ActionFunc, bool) {
	fn, ok := t.handlers[name]
	return fn, ok
}

// Names lists registered actions in sorted order, for diagnostics.
func (t *ActionTable) Names() []string {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Predicate is a named boolean check resolvable from pre/post conditions and
// the iterative strategy's continue predicate.
type Predicate func(ec *ExecContext) bool

// ExecContext carries the caller-supplied execution context. Values are
// visible to condition expressions and predicates; DryRun short-circuits
// every action to a no-op that returns the command's description.
type ExecContext struct {
	Values map[string]any
	DryRun bool
}

// NewExecContext builds a context from a caller payload.
func NewExecContext(values map[string]any, dryRun bool) *ExecContext {
	if values == nil {
		values = make(map[string]any)
	}
	return &ExecContext{Values: values, DryRun: dryRun}
}

// Bool reads a boolean context value; absent keys are false.
func (ec *ExecContext) Bool(key string) bool {
	v, _ := ec.Values[key].(bool)
	return v
}

// String reads a string context value.
func (ec *ExecContext) String(key string) string {
	v, _ := ec.Values[key].(string)
	return v
}
