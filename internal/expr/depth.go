package expr

import "fmt"

// Depth is the height of the expression tree; a single node has depth 1.
func Depth(x Expr) int {
	switch n := x.(type) {
	case Binary:
		return 1 + max(Depth(n.Left), Depth(n.Right))
	case Unary:
		return 1 + Depth(n.Arg)
	case Call:
		deepest := 0
		for _, a := range n.Args {
			deepest = max(deepest, Depth(a))
		}
		return 1 + deepest
	case Conditional:
		return 1 + max(Depth(n.Test), Depth(n.Then), Depth(n.Else))
	case nil:
		return 0
	default:
		return 1
	}
}

// Validate checks operators, missing children and the depth bound.
func Validate(x Expr, maxDepth int) error {
	if maxDepth > 0 && Depth(x) > maxDepth {
		return ErrTooDeep
	}
	return validate(x)
}

func validate(x Expr) error {
	switch n := x.(type) {
	case Literal:
		return nil
	case ContextRef:
		if len(n.Path) == 0 {
			return fmt.Errorf("%w: empty context_ref path", ErrMalformed)
		}
		return nil
	case Binary:
		if !n.Op.Valid() {
			return fmt.Errorf("%w: binary %q", ErrUnknownOperator, n.Op)
		}
		if err := validate(n.Left); err != nil {
			return err
		}
		return validate(n.Right)
	case Unary:
		if !n.Op.Valid() {
			return fmt.Errorf("%w: unary %q", ErrUnknownOperator, n.Op)
		}
		return validate(n.Arg)
	case Call:
		if n.Func == "" {
			return fmt.Errorf("%w: empty function name", ErrMalformed)
		}
		for _, a := range n.Args {
			if err := validate(a); err != nil {
				return err
			}
		}
		return nil
	case Conditional:
		for _, c := range []Expr{n.Test, n.Then, n.Else} {
			if err := validate(c); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return fmt.Errorf("%w: missing expression", ErrMalformed)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownNode, x)
	}
}
