package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/taxops/caseflow/pkg/schema"
)

// GoJQEngine evaluates jq expressions for JSON data transformation. Step
// input bindings use it to pluck and reshape values out of the accumulated
// case context.
// Thread-safe: compiled *Code objects are cached and reused.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new jq engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Compile parses and compiles the expression without running it.
func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate compiles (or retrieves from cache) a jq expression and runs it
// against data. jq programs can produce multiple outputs: exactly one output
// is returned directly, several are collected into []any, zero yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(data))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go integer types to float64, matching jq's native
// number handling.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)

// Binder resolves a step's input bindings against the case context. Each
// binding maps an input key to a jq expression evaluated over
// {"context": ..., "case": ...}.
type Binder struct {
	jq *GoJQEngine
}

// NewBinder creates a Binder backed by the given jq engine.
func NewBinder(jq *GoJQEngine) *Binder {
	return &Binder{jq: jq}
}

// Resolve evaluates every binding and returns the resulting input map. A
// binding that yields no value produces a nil entry rather than an error;
// downstream consumers decide whether absence matters.
func (b *Binder) Resolve(ctx context.Context, bindings map[string]string, data map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(bindings))
	for key, expression := range bindings {
		val, err := b.jq.Evaluate(ctx, expression, data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"resolve binding %q: %s", key, err.Error()).WithCause(err)
		}
		inputs[key] = val
	}
	return inputs, nil
}

// Validate compiles every binding expression, reporting the first failure.
func (b *Binder) Validate(bindings map[string]string) error {
	for key, expression := range bindings {
		if err := b.jq.Compile(expression); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"binding %q: %s", key, err.Error()).WithCause(err)
		}
	}
	return nil
}
