// Package expressions provides the calculation engines available to
// workflow steps and the jq-based binding resolver used to map case
// context into step inputs.
package expressions

import (
	"context"

	"github.com/taxops/caseflow/pkg/schema"
)

// Engine compiles and evaluates expressions against case-context data.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	// Compile validates the expression without evaluating it. Run at
	// publish time so a broken expression never reaches a live case.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry resolves engines by the name used in step configs.
type Registry struct {
	engines map[string]Engine
	def     Engine
}

// NewRegistry builds a registry. The first engine is the default used when
// a step config names no engine.
func NewRegistry(def Engine, others ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(others)+1), def: def}
	r.engines[def.Name()] = def
	for _, e := range others {
		r.engines[e.Name()] = e
	}
	return r
}

// Resolve returns the engine for name, or the default when name is empty.
func (r *Registry) Resolve(name string) (Engine, error) {
	if name == "" {
		return r.def, nil
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name)
	}
	return e, nil
}
