package verify

import "errors"

var (
	ErrMalformedCard = errors.New("malformed card")
	ErrBadSignature  = errors.New("card seal signature invalid")
)
