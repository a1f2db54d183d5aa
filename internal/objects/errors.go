package objects

import "errors"

var (
	ErrNotFound  = errors.New("object not found")
	ErrIntegrity = errors.New("object content does not match its cid")
)
