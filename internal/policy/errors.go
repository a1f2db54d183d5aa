package policy

import "errors"

var (
	ErrInvalidUnit       = errors.New("invalid unit")
	ErrUnknownWiring     = errors.New("unknown wiring type")
	ErrDuplicateUnit     = errors.New("duplicate unit id")
	ErrUnsupportedFormat = errors.New("unsupported unit file format")
)
