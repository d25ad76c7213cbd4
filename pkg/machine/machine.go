// Package machine runs actor bytecode on wazero against a kernel.
//
// Guest modules import host functions from four modules (ipld, self, actor
// and vm). A failing host call hands its *kernel.ExecutionError to the engine
// with panic(kernel.ToTrap(err)); the invoker recovers it from the error
// returned by the call and reports its exit code in a Receipt.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/tetratelabs/wazero"

	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/kernel"
	"github.com/openfroyo/froyovm/pkg/kernel/blocks"
	"github.com/openfroyo/froyovm/pkg/stores"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

// DefaultEntry is the export invoked when Invocation.Entry is empty.
const DefaultEntry = "invoke"

// Config configures a Machine.
type Config struct {
	// MemoryLimitPages is the maximum guest memory in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32

	// Timeout bounds a single invocation. Default is 30 seconds.
	Timeout time.Duration

	// MaxBlocks bounds the block registry of a single invocation. Default is
	// blocks.DefaultMaxBlocks.
	MaxBlocks int

	// Addresses resolves non-ID addresses for actor.resolve_address.
	Addresses *kernel.AddressBook

	// Telemetry instruments invocations. Nil disables instrumentation.
	Telemetry *telemetry.Telemetry

	// Admission, when set, must accept a module before it is invoked.
	Admission Admitter
}

// Machine owns a wazero runtime with the kernel's host modules registered.
// It is safe for concurrent use if the blockstore is.
type Machine struct {
	runtime wazero.Runtime
	store   stores.Blockstore
	config  Config
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
}

// Module is a compiled guest module.
type Module struct {
	name     string
	compiled wazero.CompiledModule
}

// Name returns the name the module was compiled with.
func (m *Module) Name() string {
	return m.name
}

// Close releases the compiled code. The module must not be invoked afterwards.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Exports returns the names of the functions the module exports.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.compiled.ExportedFunctions()))
	for name := range m.compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invocation describes one call into a guest module.
type Invocation struct {
	// Module is the compiled guest.
	Module *Module

	// Entry is the exported function to call. It must take no parameters.
	Entry string

	// StateRoot is the actor state the invocation starts from.
	StateRoot cid.Cid
}

// Receipt is the outcome of an invocation.
type Receipt struct {
	InvocationID string
	ExitCode     exitcode.ExitCode

	// Kind is the fault kind of a failed invocation, empty on success.
	Kind string

	// Message is the fault message of a failed invocation.
	Message string

	// StateRoot is the new state root on success, the initial one on failure.
	StateRoot cid.Cid

	Duration time.Duration

	// Blocks is the number of blocks the invocation opened or created.
	Blocks int

	// Err is the fault of a failed invocation.
	Err *kernel.ExecutionError
}

// Succeeded reports whether the invocation exited with Ok.
func (r *Receipt) Succeeded() bool {
	return r.Err == nil && r.ExitCode.IsSuccess()
}

// New creates a machine over store.
func New(ctx context.Context, store stores.Blockstore, cfg Config) (*Machine, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}
	if cfg.MaxBlocks <= 0 {
		cfg.MaxBlocks = blocks.DefaultMaxBlocks
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	m := &Machine{
		runtime: runtime,
		store:   store,
		config:  cfg,
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("machine"),
	}

	if err := registerHostModules(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to register host modules: %w", err)
	}

	return m, nil
}

// Compile validates and compiles a guest module.
func (m *Machine) Compile(ctx context.Context, name string, wasm []byte) (*Module, error) {
	compiled, err := m.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", name, err)
	}
	return &Module{name: name, compiled: compiled}, nil
}

// Invoke runs inv to completion. Guest failures are reported in the receipt;
// the returned error is reserved for failures to set the invocation up, such
// as a missing entry point or an unresolvable import.
func (m *Machine) Invoke(ctx context.Context, inv Invocation) (*Receipt, error) {
	if inv.Module == nil {
		return nil, errors.New("invocation has no module")
	}
	entry := inv.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	def, ok := inv.Module.compiled.ExportedFunctions()[entry]
	if !ok {
		return nil, fmt.Errorf("module %s does not export %s", inv.Module.name, entry)
	}
	if len(def.ParamTypes()) != 0 {
		return nil, fmt.Errorf("entry point %s must take no parameters", entry)
	}
	if m.config.Admission != nil {
		info := m.Describe(inv.Module, entry)
		if err := m.config.Admission.Admit(ctx, info); err != nil {
			return nil, fmt.Errorf("module %s rejected: %w", inv.Module.name, err)
		}
	}

	id := uuid.New().String()
	ic := m.tel.StartInvocation(ctx, id, inv.Module.name, entry)

	receipt, err := m.invoke(ic, id, inv, entry)
	if err != nil {
		ic.End(err)
		m.tel.Metrics.RecordInvocationCompleted("none", "error", ic.Timer.Duration(), 0)
		ic.Logger.WithError(err).Error("invocation setup failed")
		return nil, err
	}
	receipt.Duration = ic.Timer.Duration()

	m.finish(ic, receipt)
	return receipt, nil
}

func (m *Machine) invoke(ic *telemetry.InstrumentedContext, id string, inv Invocation, entry string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ic.Ctx, m.config.Timeout)
	defer cancel()

	receipt := &Receipt{InvocationID: id, ExitCode: exitcode.Ok, StateRoot: inv.StateRoot}

	k, err := kernel.New(ctx, m.store, kernel.Options{
		MaxBlocks: m.config.MaxBlocks,
		StateRoot: inv.StateRoot,
		Addresses: m.config.Addresses,
	})
	if err != nil {
		receipt.fail(kernel.Convert(err))
		return receipt, nil
	}

	ctx = withSession(ctx, &session{kernel: k, metrics: m.tel.Metrics})

	// Anonymous instances let concurrent invocations share a compiled module.
	mod, err := m.runtime.InstantiateModule(ctx, inv.Module.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		if !kernel.IsTrap(err) {
			return nil, fmt.Errorf("failed to instantiate module %s: %w", inv.Module.name, err)
		}
		receipt.Blocks = k.Blocks()
		receipt.fail(m.recoverFault(ic, id, err))
		return receipt, nil
	}
	defer mod.Close(context.Background())

	_, callErr := mod.ExportedFunction(entry).Call(ctx)
	receipt.Blocks = k.Blocks()
	if callErr != nil {
		receipt.fail(m.recoverFault(ic, id, callErr))
		return receipt, nil
	}

	root, err := k.StateRoot(ctx)
	if err != nil {
		receipt.fail(kernel.Convert(err))
		return receipt, nil
	}
	receipt.StateRoot = root
	return receipt, nil
}

// recoverFault turns the error returned by the engine back into a kernel fault.
func (m *Machine) recoverFault(ic *telemetry.InstrumentedContext, id string, engineErr error) *kernel.ExecutionError {
	carried := kernel.IsTrap(engineErr)
	execErr, recovered := kernel.RecoverTrap(engineErr)

	outcome := telemetry.TrapForeign
	switch {
	case recovered:
		outcome = telemetry.TrapRecovered
	case carried:
		outcome = telemetry.TrapDegraded
	}

	m.tel.Metrics.RecordTrapRecovery(outcome)
	if ic.Span != nil {
		telemetry.AddTrapEvent(ic.Span, outcome, execErr.Kind().String(), uint32(execErr.ExitCode()))
	}
	if !recovered {
		_ = m.tel.Events.PublishTrapDegraded(id, engineErr.Error())
		ic.Logger.WithError(engineErr).Debugf("engine failure did not carry a kernel fault (%s)", outcome)
	}
	return execErr
}

func (m *Machine) finish(ic *telemetry.InstrumentedContext, r *Receipt) {
	outcome := "ok"
	var endErr error
	if r.Err != nil {
		outcome = "failed"
		endErr = r.Err
		m.tel.Metrics.RecordExecutionError(r.Kind)
		_ = m.tel.Events.PublishInvocationFailed(r.InvocationID, r.Kind, uint32(r.ExitCode), r.Message)
		ic.Logger.WithFault(r.Kind, uint32(r.ExitCode)).
			Infof("invocation failed: %s", r.Message)
	} else {
		_ = m.tel.Events.PublishInvocationCompleted(r.InvocationID, r.Duration)
		ic.Logger.WithField("state_root", r.StateRoot.String()).
			Debugf("invocation completed in %s", r.Duration)
	}

	if ic.Span != nil {
		telemetry.SetAttributes(ic.Span, telemetry.AttrStateRoot.String(r.StateRoot.String()))
	}
	ic.End(endErr)
	m.tel.Metrics.RecordInvocationCompleted(exitcode.Name(r.ExitCode), outcome, r.Duration, r.Blocks)
}

func (r *Receipt) fail(err *kernel.ExecutionError) {
	r.Err = err
	r.ExitCode = err.ExitCode()
	r.Kind = err.Kind().String()
	r.Message = err.Message()
}

// Close releases the runtime and every module compiled by it.
func (m *Machine) Close(ctx context.Context) error {
	if err := m.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}
	return nil
}
