package engine

import "errors"

var (
	ErrUnitNotFound = errors.New("unit not found")
	ErrInvalidInput = errors.New("input is not canonicalizable")
)
