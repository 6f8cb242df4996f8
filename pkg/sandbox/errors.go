package sandbox

import "errors"

var (
	ErrCompileModule = errors.New("compile module")
	ErrLinkHost      = errors.New("link host interfaces")
	ErrBuildWasi     = errors.New("build wasi context")
	ErrMountPath     = errors.New("volume mount path")
	ErrInstantiate   = errors.New("instantiate module")
	ErrNoHandler     = errors.New("module does not export handle")
	ErrGuestTrap     = errors.New("guest trapped")
	ErrFuelExhausted = errors.New("guest ran out of fuel")
	ErrGuestAbort    = errors.New("guest aborted response")
	ErrNeverSet      = errors.New("guest never invoked `response-outparam::set`")
)
