package oci

import "errors"

var (
	ErrParseReference = errors.New("parse image reference")
	ErrPullImage      = errors.New("pull image")
	ErrLayerCount     = errors.New("layer count")
	ErrMediaType      = errors.New("unsupported layer media type")
	ErrReadLayer      = errors.New("read layer")
)
