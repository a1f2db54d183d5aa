package expr

import "errors"

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrUnknownNode     = errors.New("unknown expression node")
	ErrNotNumber       = errors.New("cannot convert to number")
	ErrTooDeep         = errors.New("expression exceeds maximum depth")
	ErrMalformed       = errors.New("malformed expression")
)
