package main

import "errors"

var (
	ErrLoadConfig    = errors.New("load module spec")
	ErrNoImage       = errors.New("no module image configured (set image in WASI_CONFIG or the IMAGE environment variable)")
	ErrFetchModule   = errors.New("fetch module")
	ErrPrepareModule = errors.New("prepare module")
	ErrListen        = errors.New("bind listener")
)
