package policy

import "errors"

var (
	ErrInvalidPattern = errors.New("invalid address pattern")
)
