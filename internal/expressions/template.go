package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/taxops/caseflow/pkg/schema"
)

// RenderScope holds the data available to document template placeholders.
type RenderScope struct {
	Context map[string]any // accumulated case context
	Case    map[string]any // case metadata (ref, version, definition)
	Outputs map[string]any // step outputs keyed by step ID
}

// TemplateRenderer resolves ${{...}} placeholders in document templates.
// Three namespaces are supported: context.*, case.* and outputs.<step>.*.
type TemplateRenderer struct{}

// NewTemplateRenderer creates a renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render substitutes every placeholder in the template. An unresolvable
// placeholder is an error: generated documents must never ship with holes.
func (r *TemplateRenderer) Render(template string, scope *RenderScope) (string, error) {
	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeTemplate, "unclosed ${{ placeholder")
		}
		end += start

		expr := strings.TrimSpace(template[start:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeTemplate, "empty placeholder: ${{  }}")
		}
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeTemplate,
				"nested placeholders are not allowed")
		}

		val, err := r.resolve(expr, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(renderInline(val))

		i = end + 2
	}

	return result.String(), nil
}

func (r *TemplateRenderer) resolve(expr string, scope *RenderScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch namespace {
	case "context":
		return r.lookup(expr, rest, scope.Context)
	case "case":
		return r.lookup(expr, rest, scope.Case)
	case "outputs":
		return r.lookup(expr, rest, scope.Outputs)
	default:
		available := []string{"context", "case", "outputs"}
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"unknown namespace %q in ${{%s}}; available: %s",
			namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"placeholder": expr})
	}
}

func (r *TemplateRenderer) lookup(expr, path string, root map[string]any) (any, error) {
	if path == "" {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"invalid placeholder %q: expected a field path after the namespace", expr)
	}
	if root == nil {
		return nil, r.missingErr(expr, path, root)
	}

	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"cannot resolve %q: %q is not an object", expr, seg)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, r.missingErr(expr, seg, m)
		}
	}
	return cur, nil
}

func (r *TemplateRenderer) missingErr(expr, key string, m map[string]any) *schema.FlowError {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return schema.NewErrorf(schema.ErrCodeTemplate,
		"unresolved placeholder ${{%s}}: %q not found", expr, key).
		WithDetails(map[string]any{"placeholder": expr, "available_keys": keys})
}

// renderInline converts a resolved value to its textual form. Strings are
// embedded as-is; everything else is JSON-encoded.
func renderInline(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
