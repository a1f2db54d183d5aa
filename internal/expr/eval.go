package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Registry resolves function calls by name.
type Registry interface {
	Call(name string, args []any) (any, error)
}

type Evaluator struct {
	functions Registry
}

// NewEvaluator uses DefaultRegistry when reg is nil.
func NewEvaluator(reg Registry) *Evaluator {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Evaluator{functions: reg}
}

// With returns an evaluator that resolves name to fn before falling back to
// e's registry. e is not modified.
func (e *Evaluator) With(name string, fn Func) *Evaluator {
	return &Evaluator{functions: overlay{name: name, fn: fn, next: e.functions}}
}

type overlay struct {
	name string
	fn   Func
	next Registry
}

func (o overlay) Call(name string, args []any) (any, error) {
	if name == o.name {
		return o.fn(args)
	}
	return o.next.Call(name, args)
}

// Eval evaluates x against ctx, a decoded JSON value. Both operands of a
// binary operator are always evaluated.
func (e *Evaluator) Eval(x Expr, ctx any) (any, error) {
	switch n := x.(type) {
	case Literal:
		return n.Value, nil
	case ContextRef:
		return lookup(ctx, n.Path, n.Fallback), nil
	case Binary:
		l, err := e.Eval(n.Left, ctx)
		if err != nil {
			return nil, err
		}
		r, err := e.Eval(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, l, r)
	case Unary:
		a, err := e.Eval(n.Arg, ctx)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpNot:
			return !Truthy(a), nil
		case OpExists:
			return a != nil, nil
		default:
			return nil, fmt.Errorf("%w: unary %q", ErrUnknownOperator, n.Op)
		}
	case Call:
		args := make([]any, len(n.Args))
		for i, arg := range n.Args {
			v, err := e.Eval(arg, ctx)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return e.functions.Call(n.Func, args)
	case Conditional:
		test, err := e.Eval(n.Test, ctx)
		if err != nil {
			return nil, err
		}
		if Truthy(test) {
			return e.Eval(n.Then, ctx)
		}
		return e.Eval(n.Else, ctx)
	case nil:
		return nil, ErrMalformed
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownNode, x)
	}
}

func lookup(ctx any, path []string, fallback any) any {
	cur := ctx
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return fallback
		}
		next, ok := obj[key]
		if !ok {
			return fallback
		}
		cur = next
	}
	return cur
}

func evalBinary(op BinaryOp, l, r any) (any, error) {
	switch op {
	case OpAnd:
		return Truthy(l) && Truthy(r), nil
	case OpOr:
		return Truthy(l) || Truthy(r), nil
	case OpEq:
		return Equal(l, r), nil
	case OpNeq:
		return !Equal(l, r), nil
	case OpGt, OpLt, OpGte, OpLte:
		a, err := ToNumber(l)
		if err != nil {
			return nil, err
		}
		b, err := ToNumber(r)
		if err != nil {
			return nil, err
		}
		switch op {
		case OpGt:
			return a > b, nil
		case OpLt:
			return a < b, nil
		case OpGte:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case OpIn:
		if s, ok := r.(string); ok {
			needle, ok := l.(string)
			return ok && strings.Contains(s, needle), nil
		}
		if items, ok := asSlice(r); ok {
			for _, item := range items {
				if Equal(l, item) {
					return true, nil
				}
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("%w: binary %q", ErrUnknownOperator, op)
	}
}

// Truthy: null is false, numbers are false when zero or non-finite, strings,
// arrays and objects are false when empty.
func Truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	}
	if f, ok := numberValue(v); ok {
		return f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

// ToNumber converts numbers, decimal strings and booleans to float64.
func ToNumber(v any) (float64, error) {
	if f, ok := numberValue(v); ok {
		return f, nil
	}
	switch value := v.(type) {
	case string:
		// ParseFloat also takes underscores, hex mantissas, Inf and NaN.
		if strings.ContainsAny(value, "_xX") {
			return 0, fmt.Errorf("%w: %q", ErrNotNumber, value)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %q", ErrNotNumber, value)
		}
		return f, nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, v)
	}
}

func IsNumber(v any) bool {
	_, ok := numberValue(v)
	return ok
}

func numberValue(v any) (float64, bool) {
	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return value, true
	case float32:
		return float64(value), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// Equal is structural equality over JSON values. Numbers compare by value,
// so 1 and 1.0 are equal.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := a.(json.Number); ok {
		if bn, ok := b.(json.Number); ok && an == bn {
			return true
		}
	}
	if fa, ok := numberValue(a); ok {
		fb, ok := numberValue(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	if as, ok := asSlice(a); ok {
		bs, ok := asSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	for _, k := range rv.MapKeys() {
		out[k.String()] = rv.MapIndex(k).Interface()
	}
	return out, true
}
