package crypto

import "errors"

var (
	ErrNonFiniteNumber  = errors.New("non-finite numbers are not allowed")
	ErrInvalidNumber    = errors.New("invalid number literal")
	ErrInvalidUTF8      = errors.New("string is not valid utf-8")
	ErrNonStringMapKey  = errors.New("map keys must be strings")
	ErrUnsupportedType  = errors.New("unsupported type for canonicalization")
	ErrKeyCollision     = errors.New("normalized map key collision")
	ErrDuplicateKey     = errors.New("duplicate object key")
	ErrTrailingData     = errors.New("trailing data after json value")
	ErrMaxDepth         = errors.New("json nesting too deep")
	ErrInvalidCID       = errors.New("invalid cid")
	ErrInvalidSeedSize  = errors.New("invalid ed25519 seed size")
	ErrInvalidDigestLen = errors.New("invalid digest length")
)
