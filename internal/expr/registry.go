package expr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Func must be pure: same arguments, same result, no side effects.
type Func func(args []any) (any, error)

type FuncRegistry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

func NewRegistry() *FuncRegistry {
	return &FuncRegistry{fns: make(map[string]Func)}
}

// DefaultRegistry returns a registry with the builtin functions.
func DefaultRegistry() *FuncRegistry {
	r := NewRegistry()
	r.Register("length", fnLength)
	r.Register("is_string", fnIsString)
	r.Register("is_number", fnIsNumber)
	r.Register("starts_with", stringPredicate(strings.HasPrefix))
	r.Register("ends_with", stringPredicate(strings.HasSuffix))
	r.Register("in_set", fnInSet)
	r.Register("lower", stringMap("lower", strings.ToLower))
	r.Register("upper", stringMap("upper", strings.ToUpper))
	r.Register("matches_glob", fnMatchesGlob)
	return r
}

func (r *FuncRegistry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

func (r *FuncRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

func (r *FuncRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *FuncRegistry) Call(name string, args []any) (any, error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(args)
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(args []any, i int) string {
	s, _ := arg(args, i).(string)
	return s
}

// length is the byte length of a string or the size of an array; 0 otherwise.
func fnLength(args []any) (any, error) {
	n := 0
	switch v := arg(args, 0).(type) {
	case string:
		n = len(v)
	default:
		if items, ok := asSlice(v); ok {
			n = len(items)
		}
	}
	return json.Number(strconv.Itoa(n)), nil
}

func fnIsString(args []any) (any, error) {
	_, ok := arg(args, 0).(string)
	return ok, nil
}

func fnIsNumber(args []any) (any, error) {
	return IsNumber(arg(args, 0)), nil
}

func stringPredicate(pred func(s, affix string) bool) Func {
	return func(args []any) (any, error) {
		return pred(stringArg(args, 0), stringArg(args, 1)), nil
	}
}

func stringMap(name string, fn func(string) string) Func {
	return func(args []any) (any, error) {
		s, ok := arg(args, 0).(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string argument", name)
		}
		return fn(s), nil
	}
}

func fnInSet(args []any) (any, error) {
	set, ok := asSlice(arg(args, 1))
	if !ok {
		return false, nil
	}
	needle := arg(args, 0)
	for _, item := range set {
		if Equal(needle, item) {
			return true, nil
		}
	}
	return false, nil
}

func fnMatchesGlob(args []any) (any, error) {
	pattern, ok := arg(args, 0).(string)
	if !ok {
		return nil, fmt.Errorf("matches_glob: expected pattern string")
	}
	ok, err := doublestar.Match(pattern, stringArg(args, 1))
	if err != nil {
		return nil, fmt.Errorf("matches_glob: %w", err)
	}
	return ok, nil
}
