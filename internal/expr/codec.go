package expr

import (
	"fmt"
	"strings"
)

// DefaultMaxDepth bounds expressions loaded from untrusted unit specs.
const DefaultMaxDepth = 64

// Encode renders x in the tagged document form accepted by Decode. The
// encoding is stable and is what rule hashes are computed over.
func Encode(x Expr) map[string]any {
	switch n := x.(type) {
	case Literal:
		return map[string]any{"kind": "literal", "value": n.Value}
	case ContextRef:
		path := make([]any, len(n.Path))
		for i, p := range n.Path {
			path[i] = p
		}
		out := map[string]any{"kind": "context_ref", "path": path}
		if n.Fallback != nil {
			out["fallback"] = n.Fallback
		}
		return out
	case Binary:
		return map[string]any{"kind": "binary", "operator": string(n.Op), "left": Encode(n.Left), "right": Encode(n.Right)}
	case Unary:
		return map[string]any{"kind": "unary", "operator": string(n.Op), "argument": Encode(n.Arg)}
	case Call:
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			args[i] = Encode(a)
		}
		return map[string]any{"kind": "function_call", "function": n.Func, "arguments": args}
	case Conditional:
		return map[string]any{"kind": "conditional", "test": Encode(n.Test), "consequent": Encode(n.Then), "alternate": Encode(n.Else)}
	default:
		return nil
	}
}

// Decode parses the tagged document form, e.g.
//
//	{kind: binary, operator: gte, left: {kind: context_ref, path: [age]}, right: {kind: literal, value: 18}}
//
// Unknown kinds and operator names are rejected.
func Decode(v any) (Expr, error) {
	return decode(v, 1)
}

func decode(v any, depth int) (Expr, error) {
	if depth > DefaultMaxDepth {
		return nil, ErrTooDeep
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, v)
	}
	kind, _ := m["kind"].(string)

	child := func(key string) (Expr, error) {
		raw, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMalformed, kind, key)
		}
		return decode(raw, depth+1)
	}

	switch kind {
	case "literal":
		value, ok := m["value"]
		if !ok {
			return nil, fmt.Errorf("%w: literal requires \"value\"", ErrMalformed)
		}
		return Literal{Value: value}, nil
	case "context_ref":
		path, err := decodePath(m["path"])
		if err != nil {
			return nil, err
		}
		return ContextRef{Path: path, Fallback: m["fallback"]}, nil
	case "binary":
		op := BinaryOp(stringField(m, "operator"))
		if !op.Valid() {
			return nil, fmt.Errorf("%w: binary %q", ErrUnknownOperator, op)
		}
		left, err := child("left")
		if err != nil {
			return nil, err
		}
		right, err := child("right")
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, Left: left, Right: right}, nil
	case "unary":
		op := UnaryOp(stringField(m, "operator"))
		if !op.Valid() {
			return nil, fmt.Errorf("%w: unary %q", ErrUnknownOperator, op)
		}
		arg, err := child("argument")
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, Arg: arg}, nil
	case "function_call":
		name := stringField(m, "function")
		if name == "" {
			return nil, fmt.Errorf("%w: function_call requires \"function\"", ErrMalformed)
		}
		var args []Expr
		if raw, ok := m["arguments"]; ok && raw != nil {
			list, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: arguments must be a list", ErrMalformed)
			}
			for _, item := range list {
				a, err := decode(item, depth+1)
				if err != nil {
					return nil, err
				}
				args = append(args, a)
			}
		}
		return Call{Func: name, Args: args}, nil
	case "conditional":
		test, err := child("test")
		if err != nil {
			return nil, err
		}
		then, err := child("consequent")
		if err != nil {
			return nil, err
		}
		els, err := child("alternate")
		if err != nil {
			return nil, err
		}
		return Conditional{Test: test, Then: then, Else: els}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// decodePath accepts ["a", "b"] or "a.b".
func decodePath(v any) ([]string, error) {
	switch p := v.(type) {
	case string:
		if p == "" {
			return nil, fmt.Errorf("%w: empty context_ref path", ErrMalformed)
		}
		return strings.Split(p, "."), nil
	case []any:
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: empty context_ref path", ErrMalformed)
		}
		out := make([]string, len(p))
		for i, seg := range p {
			s, ok := seg.(string)
			if !ok {
				return nil, fmt.Errorf("%w: path segments must be strings", ErrMalformed)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: context_ref requires \"path\"", ErrMalformed)
	}
}
