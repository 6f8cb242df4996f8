package sandbox

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/jingkaihe/wasmlet/pkg/api"
)

// Fuel is the guest execution budget unit: one declared millicore buys one
// million units per request.
const fuelPerMillicore = 1_000_000

// FuelBudget returns the per-request fuel implied by the spec's cpu
// quantity. ok is false when no parseable cpu quantity is configured, in
// which case fuel metering stays off entirely.
func FuelBudget(spec *api.ModuleSpec) (uint64, bool) {
	s, ok := spec.Resources.CPU()
	if !ok {
		return 0, false
	}
	millicores, ok := api.ParseCPUQuantity(s)
	if !ok {
		return 0, false
	}
	return millicores * fuelPerMillicore, true
}

// MemoryCeiling returns the guest memory-growth ceiling in bytes implied by
// the spec's memory quantity. ok is false when none is configured or it
// does not parse; either way the guest runs unlimited.
func MemoryCeiling(spec *api.ModuleSpec) (uint64, bool) {
	s, ok := spec.Resources.Memory()
	if !ok {
		return 0, false
	}
	return api.ParseMemoryQuantity(s)
}

// NewEngine builds the one engine this process uses. Fuel consumption is a
// whole-engine switch, so it is enabled only when the spec carries a cpu
// quantity; a metered engine with an unfueled store traps immediately.
func NewEngine(fuelMetering bool) *wasmtime.Engine {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(fuelMetering)
	return wasmtime.NewEngineWithConfig(cfg)
}

// PreparedModule is the one-time compilation product shared by reference
// with every request task. Compilation to machine code happens here once;
// per-request work is limited to linking and instantiation, which are
// cheap against the prepared module.
type PreparedModule struct {
	engine *wasmtime.Engine
	module *wasmtime.Module
}

// Prepare compiles wasm once. It does not check the module's imports
// against the host interfaces; an import the host cannot satisfy surfaces
// per request, when the sandbox links and instantiates the module.
func Prepare(engine *wasmtime.Engine, wasm []byte) (*PreparedModule, error) {
	module, err := wasmtime.NewModule(engine, wasm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileModule, err)
	}
	return &PreparedModule{engine: engine, module: module}, nil
}

// Engine returns the shared engine.
func (p *PreparedModule) Engine() *wasmtime.Engine {
	return p.engine
}
