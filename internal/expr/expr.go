// Package expr implements the side-effect-free expression language used by rule conditions.
package expr

import "strings"

// Expr is one of Literal, ContextRef, Binary, Unary, Call or Conditional.
// Nodes are plain values, so an expression tree is always finite and acyclic.
type Expr interface {
	isExpr()
}

type BinaryOp string

const (
	OpAnd BinaryOp = "and"
	OpOr  BinaryOp = "or"
	OpEq  BinaryOp = "eq"
	OpNeq BinaryOp = "neq"
	OpGt  BinaryOp = "gt"
	OpLt  BinaryOp = "lt"
	OpGte BinaryOp = "gte"
	OpLte BinaryOp = "lte"
	OpIn  BinaryOp = "in"
)

func (op BinaryOp) Valid() bool {
	switch op {
	case OpAnd, OpOr, OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte, OpIn:
		return true
	default:
		return false
	}
}

type UnaryOp string

const (
	OpNot    UnaryOp = "not"
	OpExists UnaryOp = "exists"
)

func (op UnaryOp) Valid() bool {
	return op == OpNot || op == OpExists
}

type Literal struct {
	Value any
}

// ContextRef reads a value from the input by object keys. Fallback is
// returned when any segment is absent.
type ContextRef struct {
	Path     []string
	Fallback any
}

type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

type Unary struct {
	Op  UnaryOp
	Arg Expr
}

type Call struct {
	Func string
	Args []Expr
}

type Conditional struct {
	Test Expr
	Then Expr
	Else Expr
}

func (Literal) isExpr()     {}
func (ContextRef) isExpr()  {}
func (Binary) isExpr()      {}
func (Unary) isExpr()       {}
func (Call) isExpr()        {}
func (Conditional) isExpr() {}

func Lit(v any) Literal { return Literal{Value: v} }

// Field references a dotted path such as "user.role".
func Field(path string) ContextRef { return ContextRef{Path: strings.Split(path, ".")} }

func Ref(path ...string) ContextRef { return ContextRef{Path: path} }

func And(l, r Expr) Binary { return Binary{Op: OpAnd, Left: l, Right: r} }
func Or(l, r Expr) Binary  { return Binary{Op: OpOr, Left: l, Right: r} }
func Eq(l, r Expr) Binary  { return Binary{Op: OpEq, Left: l, Right: r} }
func Neq(l, r Expr) Binary { return Binary{Op: OpNeq, Left: l, Right: r} }
func Gt(l, r Expr) Binary  { return Binary{Op: OpGt, Left: l, Right: r} }
func Lt(l, r Expr) Binary  { return Binary{Op: OpLt, Left: l, Right: r} }
func Gte(l, r Expr) Binary { return Binary{Op: OpGte, Left: l, Right: r} }
func Lte(l, r Expr) Binary { return Binary{Op: OpLte, Left: l, Right: r} }
func In(l, r Expr) Binary  { return Binary{Op: OpIn, Left: l, Right: r} }

func Not(a Expr) Unary    { return Unary{Op: OpNot, Arg: a} }
func Exists(a Expr) Unary { return Unary{Op: OpExists, Arg: a} }

func Fn(name string, args ...Expr) Call { return Call{Func: name, Args: args} }

func If(test, then, els Expr) Conditional { return Conditional{Test: test, Then: then, Else: els} }
