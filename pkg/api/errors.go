package api

import "errors"

var (
	ErrDecodeConfig = errors.New("decode module spec")
)
