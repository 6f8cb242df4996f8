package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/google/uuid"

	"github.com/jingkaihe/wasmlet/pkg/api"
	"github.com/jingkaihe/wasmlet/pkg/policy"
)

// Host-call result codes shared by the wasmlet host interfaces. Positive
// returns carry lengths; these are the failure space the guest sees.
const (
	errOK         int32 = 0
	errFault      int32 = -1 // bad pointer or length
	errNotAllowed int32 = -2 // denied by capability or policy
	errInvalid    int32 = -3 // malformed argument
	errIO         int32 = -4
	errBadFD      int32 = -5
	errAlreadySet int32 = -6 // response outparam fulfilled twice
	errNotSet     int32 = -7 // body write before response set
)

// Factory builds one Sandbox per inbound request from the shared immutable
// pieces: the module spec and the resolved network policy.
type Factory struct {
	spec   *api.ModuleSpec
	policy *policy.Policy
	logger *slog.Logger

	fuel        uint64
	fuelMetered bool
	memCeiling  uint64
	memLimited  bool
}

func NewFactory(spec *api.ModuleSpec, pol *policy.Policy, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		spec:   spec,
		policy: pol,
		logger: logger,
	}
	f.fuel, f.fuelMetered = FuelBudget(spec)
	f.memCeiling, f.memLimited = MemoryCeiling(spec)
	return f
}

// Sandbox is the execution context for exactly one request: its own store,
// capability set, socket table, and response state. It is owned by the
// guest task that runs it and is never shared across requests.
type Sandbox struct {
	id    string
	store *wasmtime.Store

	req   *incomingRequest
	resp  *responseState
	socks *socketTable

	check    func(netip.AddrPort, policy.SocketUse) bool
	allowDNS bool

	// Write-stripped staging copies backing read-only preopens; removed
	// when the sandbox is closed.
	staging []string

	logger *slog.Logger
}

// Build produces a fresh Sandbox for one request. It is synchronous; its
// only I/O is the existence check on each volume mount and, for read-only
// mounts, the staging copy that enforces them.
func (f *Factory) Build(engine *wasmtime.Engine, r *http.Request, out *Outparam) (*Sandbox, error) {
	store := wasmtime.NewStore(engine)

	wasi := wasmtime.NewWasiConfig()
	wasi.InheritStdin()
	wasi.InheritStdout()
	wasi.InheritStderr()

	if len(f.spec.Args) > 0 {
		wasi.SetArgv(f.spec.Args)
	}

	keys, vals := flattenEnv(f.spec.Env)
	if len(keys) > 0 {
		wasi.SetEnv(keys, vals)
	}

	var staging []string
	fail := func(err error) (*Sandbox, error) {
		for _, staged := range staging {
			removeStaged(staged)
		}
		store.Close()
		return nil, err
	}

	for _, mount := range f.spec.VolumeMounts {
		hostPath := mount.MountPath
		if mount.SubPath != "" {
			hostPath = filepath.Join(mount.MountPath, mount.SubPath)
		}
		if _, err := os.Stat(hostPath); err != nil {
			return fail(fmt.Errorf("%w: volume mount %q path does not exist: %s", ErrMountPath, mount.Name, hostPath))
		}
		preopenPath := hostPath
		if mount.ReadOnly {
			// The wasmtime Go embedding preopens directories with no
			// permission set, so read-only is enforced by preopening a
			// write-stripped staging copy instead of the host tree.
			staged, err := stageReadOnly(hostPath)
			if err != nil {
				return fail(fmt.Errorf("%w: volume mount %q: %w", ErrBuildWasi, mount.Name, err))
			}
			staging = append(staging, staged)
			preopenPath = staged
		}
		if err := wasi.PreopenDir(preopenPath, mount.MountPath); err != nil {
			return fail(fmt.Errorf("%w: volume mount %q: %w", ErrBuildWasi, mount.Name, err))
		}
	}

	store.SetWasi(wasi)

	if f.memLimited {
		store.Limiter(int64(f.memCeiling), -1, -1, -1, -1)
	}
	if f.fuelMetered {
		if err := store.SetFuel(f.fuel); err != nil {
			return fail(fmt.Errorf("%w: %w", ErrBuildWasi, err))
		}
	}

	sb := &Sandbox{
		id:      uuid.New().String()[:8],
		store:   store,
		req:     newIncomingRequest(r),
		resp:    newResponseState(out),
		socks:   newSocketTable(),
		staging: staging,
	}
	sb.logger = f.logger.With("sandbox", sb.id)

	if n := f.spec.Network; n != nil {
		switch {
		case n.Inherit:
			sb.check = func(netip.AddrPort, policy.SocketUse) bool { return true }
		case n.HasPatterns():
			sb.check = f.policy.Check
		}
		sb.allowDNS = n.GetAllowIPNameLookup()
	}

	return sb, nil
}

// flattenEnv applies entries in declared order with later duplicates
// overwriting earlier ones, keeping the first occurrence's position.
func flattenEnv(env []api.EnvVar) (keys, vals []string) {
	index := make(map[string]int, len(env))
	for _, ev := range env {
		if i, ok := index[ev.Name]; ok {
			vals[i] = ev.Value
			continue
		}
		index[ev.Name] = len(keys)
		keys = append(keys, ev.Name)
		vals = append(vals, ev.Value)
	}
	return keys, vals
}

// allowAddr is the per-socket-operation gate. No network spec means no
// check function, which means every address is denied.
func (sb *Sandbox) allowAddr(addr netip.AddrPort, use policy.SocketUse) bool {
	if sb.check == nil {
		return false
	}
	allowed := sb.check(addr, use)
	if !allowed {
		sb.logger.Debug("socket address denied", "addr", addr.String(), "use", use.String())
	}
	return allowed
}

// run links the host interfaces against the prepared module, instantiates,
// and drives the guest's handle export to completion.
func (sb *Sandbox) run(pre *PreparedModule) error {
	linker := wasmtime.NewLinker(pre.engine)
	if err := linker.DefineWasi(); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkHost, err)
	}
	if err := defineHTTPHost(linker, sb); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkHost, err)
	}
	if err := defineSockHost(linker, sb); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkHost, err)
	}

	instance, err := linker.Instantiate(sb.store, pre.module)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}

	// Reactor-style modules initialize their runtime here.
	if initFn := instance.GetFunc(sb.store, "_initialize"); initFn != nil {
		if _, err := initFn.Call(sb.store); err != nil {
			return guestError(err)
		}
	}

	handleFn := instance.GetFunc(sb.store, "handle")
	if handleFn == nil {
		return ErrNoHandler
	}
	if _, err := handleFn.Call(sb.store); err != nil {
		return guestError(err)
	}
	return nil
}

// finish ends the response body stream and releases the host side of the
// rendezvous.
func (sb *Sandbox) finish(err error) {
	sb.resp.finish(err)
}

// Close drops every per-request resource. Guest sockets that the module
// left open die with the sandbox, as do the staging copies behind its
// read-only preopens.
func (sb *Sandbox) Close() {
	sb.socks.closeAll()
	sb.store.Close()
	for _, staged := range sb.staging {
		removeStaged(staged)
	}
}

func guestError(err error) error {
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil && *code == wasmtime.OutOfFuel {
			return fmt.Errorf("%w: %w", ErrFuelExhausted, err)
		}
		return fmt.Errorf("%w: %w", ErrGuestTrap, err)
	}
	return err
}
