package machine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/froyovm/pkg/address"
	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/kernel"
	"github.com/openfroyo/froyovm/pkg/stores"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

func newTestTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "none"
	cfg.Events.Enabled = true

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func newTestMachine(t *testing.T, store stores.Blockstore, cfg Config) *Machine {
	t.Helper()
	if cfg.Telemetry == nil {
		cfg.Telemetry = newTestTelemetry(t)
	}
	m, err := New(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func invoke(t *testing.T, m *Machine, wasm *wasmModule, root cid.Cid) *Receipt {
	t.Helper()
	ctx := context.Background()
	mod, err := m.Compile(ctx, "test.wasm", wasm.bytes())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	r, err := m.Invoke(ctx, Invocation{Module: mod, Entry: "run", StateRoot: root})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	return r
}

func assertReceipt(t *testing.T, r *Receipt, kind kernel.ErrorKind, code exitcode.ExitCode) {
	t.Helper()
	if r.Err == nil {
		t.Fatalf("expected a %s fault, receipt succeeded", kind)
	}
	if r.Err.Kind() != kind || r.Kind != kind.String() {
		t.Errorf("kind = %s (%s), want %s: %s", r.Err.Kind(), r.Kind, kind, r.Message)
	}
	if r.ExitCode != code {
		t.Errorf("exit code = %s, want %s: %s", r.ExitCode, code, r.Message)
	}
	if r.Succeeded() {
		t.Error("Succeeded() = true for a failed invocation")
	}
}

// abortModule calls vm.abort(code, msg).
func abortModule(code uint32, msg string) *wasmModule {
	w := newWasmModule().withMemory().withData(0, []byte(msg))
	abort := w.importFunc(ModuleVM, "abort", i32s(3), nil)
	w.exportFunc("run", seq(
		i32Const(int32(code)), i32Const(0), i32Const(int32(len(msg))),
		call(abort),
	))
	return w
}

func TestInvokeAbort(t *testing.T) {
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{})

	tests := []struct {
		name string
		code uint32
		want exitcode.ExitCode
	}{
		{"actor code", uint32(exitcode.ErrForbidden), exitcode.ErrForbidden},
		{"actor specific code", 40, 40},
		{"reserved code", uint32(exitcode.SysErrOutOfGas), exitcode.SysErrIllegalActor},
		{"ok", uint32(exitcode.Ok), exitcode.SysErrIllegalActor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := invoke(t, m, abortModule(tt.code, "forbidden"), cid.Undef)
			assertReceipt(t, r, kernel.KindActor, tt.want)
			if !strings.Contains(r.Message, "forbidden") {
				t.Errorf("Message = %q, should contain the abort message", r.Message)
			}
			if r.InvocationID == "" {
				t.Error("receipt has no invocation id")
			}
		})
	}
}

func TestInvokeStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryBlockstore()
	m := newTestMachine(t, store, Config{})

	setter := newWasmModule().withMemory().
		withData(0, []byte("key")).
		withData(16, []byte{0xbe, 0xef})
	set := setter.importFunc(ModuleSelf, "set", i32s(4), nil)
	setter.exportFunc("run", seq(
		i32Const(0), i32Const(3), i32Const(16), i32Const(2),
		call(set),
	))

	r := invoke(t, m, setter, cid.Undef)
	if !r.Succeeded() {
		t.Fatalf("set invocation failed: %s (%s)", r.Message, r.ExitCode)
	}
	if !r.StateRoot.Defined() {
		t.Fatal("successful invocation should report a state root")
	}

	k, err := kernel.New(ctx, store, kernel.Options{StateRoot: r.StateRoot})
	if err != nil {
		t.Fatalf("kernel.New() error = %v", err)
	}
	value, err := k.StateGet(ctx, []byte("key"))
	if err != nil || !bytes.Equal(value, []byte{0xbe, 0xef}) {
		t.Fatalf("StateGet() = %x, %v", value, err)
	}

	getter := newWasmModule().withMemory().withData(0, []byte("key"))
	get := getter.importFunc(ModuleSelf, "get", i32s(4), one32)
	getter.exportFunc("run", seq(
		i32Const(0), i32Const(3), i32Const(64), i32Const(16),
		call(get), opDrop,
	))

	r2 := invoke(t, m, getter, r.StateRoot)
	if !r2.Succeeded() {
		t.Fatalf("get invocation failed: %s", r2.Message)
	}
	if !r2.StateRoot.Equals(r.StateRoot) {
		t.Errorf("read-only invocation changed the state root: %s -> %s", r.StateRoot, r2.StateRoot)
	}
}

func TestInvokeSyscallFaults(t *testing.T) {
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{})

	missingKey := newWasmModule().withMemory().withData(0, []byte("nope"))
	get := missingKey.importFunc(ModuleSelf, "get", i32s(4), one32)
	missingKey.exportFunc("run", seq(
		i32Const(0), i32Const(4), i32Const(64), i32Const(16),
		call(get), opDrop,
	))

	outOfBounds := newWasmModule().withMemory()
	set := outOfBounds.importFunc(ModuleSelf, "set", i32s(4), nil)
	outOfBounds.exportFunc("run", seq(
		i32Const(70000), i32Const(4), i32Const(0), i32Const(1),
		call(set),
	))

	noMemory := newWasmModule()
	set = noMemory.importFunc(ModuleSelf, "set", i32s(4), nil)
	noMemory.exportFunc("run", seq(
		i32Const(0), i32Const(0), i32Const(0), i32Const(0),
		call(set),
	))

	invalidCodec := newWasmModule().withMemory().withData(0, []byte("{}"))
	create := invalidCodec.importFunc(ModuleIPLD, "create", []byte{valI64, valI32, valI32}, one32)
	invalidCodec.exportFunc("run", seq(
		i64Const(int64(multicodec.DagJson)), i32Const(0), i32Const(2),
		call(create), opDrop,
	))

	badHandle := newWasmModule().withMemory()
	stat := badHandle.importFunc(ModuleIPLD, "stat", i32s(2), nil)
	badHandle.exportFunc("run", seq(
		i32Const(9), i32Const(0),
		call(stat),
	))

	garbage := []byte{0xde, 0xad, 0xbe, 0xef}
	malformedCid := newWasmModule().withMemory().withData(0, garbage)
	open := malformedCid.importFunc(ModuleIPLD, "open", i32s(3), one32)
	malformedCid.exportFunc("run", seq(
		i32Const(0), i32Const(int32(len(garbage))), i32Const(128),
		call(open), opDrop,
	))

	badAddr := []byte{0x07, 0x01}
	malformedAddress := newWasmModule().withMemory().withData(0, badAddr)
	resolve := malformedAddress.importFunc(ModuleActor, "resolve_address", i32s(2), one64)
	malformedAddress.exportFunc("run", seq(
		i32Const(0), i32Const(int32(len(badAddr))),
		call(resolve), opDrop,
	))

	tests := []struct {
		name string
		wasm *wasmModule
		kind kernel.ErrorKind
		code exitcode.ExitCode
	}{
		{"missing key", missingKey, kernel.KindSyscall, exitcode.ErrNotFound},
		{"malformed cid", malformedCid, kernel.KindSyscall, exitcode.SysErrIllegalArgument},
		{"malformed address", malformedAddress, kernel.KindSyscall, exitcode.SysErrIllegalArgument},
		{"out of bounds", outOfBounds, kernel.KindSyscall, exitcode.SysErrIllegalArgument},
		{"no memory", noMemory, kernel.KindSyscall, exitcode.SysErrIllegalArgument},
		{"invalid codec", invalidCodec, kernel.KindActor, exitcode.SysErrIllegalArgument},
		{"invalid handle", badHandle, kernel.KindActor, exitcode.SysErrIllegalArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := invoke(t, m, tt.wasm, cid.Undef)
			assertReceipt(t, r, tt.kind, tt.code)
			if r.StateRoot.Defined() {
				t.Errorf("failed invocation should keep the initial state root, got %s", r.StateRoot)
			}
		})
	}
}

func TestInvokeBlocks(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryBlockstore()
	m := newTestMachine(t, store, Config{})

	data := []byte("hello")
	w := newWasmModule().withMemory().withData(0, data)
	create := w.importFunc(ModuleIPLD, "create", []byte{valI64, valI32, valI32}, one32)
	link := w.importFunc(ModuleIPLD, "link", []byte{valI32, valI64, valI32, valI32, valI32}, one32)
	w.exportFunc("run", seq(
		i64Const(int64(multicodec.Raw)), i32Const(0), i32Const(int32(len(data))),
		call(create), opDrop,
		i32Const(1), i64Const(int64(multicodec.Blake2b256)), i32Const(32), i32Const(64), i32Const(64),
		call(link), opDrop,
	))

	r := invoke(t, m, w, cid.Undef)
	if !r.Succeeded() {
		t.Fatalf("invocation failed: %s (%s)", r.Message, r.ExitCode)
	}
	if r.Blocks != 1 {
		t.Errorf("Blocks = %d, want 1", r.Blocks)
	}

	mh, err := multihash.Sum(data, uint64(multicodec.Blake2b256), 32)
	if err != nil {
		t.Fatalf("multihash.Sum() error = %v", err)
	}
	want := cid.NewCidV1(uint64(multicodec.Raw), mh)
	stored, err := store.Get(ctx, want)
	if err != nil || !bytes.Equal(stored, data) {
		t.Errorf("linked block %s = %q, %v", want, stored, err)
	}
}

// forgetfulStore loses a block after it has been read once.
type forgetfulStore struct {
	stores.Blockstore
	forget cid.Cid
	reads  int
}

func (s *forgetfulStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if c.Equals(s.forget) {
		s.reads++
		if s.reads > 1 {
			return nil, stores.ErrNotFound
		}
	}
	return s.Blockstore.Get(ctx, c)
}

func TestInvokeMissingState(t *testing.T) {
	ctx := context.Background()
	inner := stores.NewMemoryBlockstore()

	k, err := kernel.New(ctx, inner, kernel.Options{})
	if err != nil {
		t.Fatalf("kernel.New() error = %v", err)
	}
	if err := k.StateSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("StateSet() error = %v", err)
	}
	root, err := k.StateRoot(ctx)
	if err != nil {
		t.Fatalf("StateRoot() error = %v", err)
	}

	m := newTestMachine(t, &forgetfulStore{Blockstore: inner, forget: root}, Config{})

	cidBytes := root.Bytes()
	w := newWasmModule().withMemory().withData(0, cidBytes)
	open := w.importFunc(ModuleIPLD, "open", i32s(3), one32)
	w.exportFunc("run", seq(
		i32Const(0), i32Const(int32(len(cidBytes))), i32Const(128),
		call(open), opDrop,
	))

	r := invoke(t, m, w, root)
	assertReceipt(t, r, kernel.KindSystem, exitcode.ErrPlaceholder)
	if !strings.Contains(r.Message, root.String()) {
		t.Errorf("Message = %q, should contain %s", r.Message, root)
	}
}

func TestInvokeMissingStateRoot(t *testing.T) {
	mh, _ := multihash.Sum([]byte("gone"), multihash.SHA2_256, -1)
	root := cid.NewCidV1(uint64(multicodec.DagCbor), mh)

	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{})
	w := newWasmModule()
	w.exportFunc("run", nil)

	r := invoke(t, m, w, root)
	assertReceipt(t, r, kernel.KindSystem, exitcode.ErrPlaceholder)
}

func TestInvokeResolveAddress(t *testing.T) {
	known, err := address.NewFromBytes(append([]byte{byte(address.Actor)}, bytes.Repeat([]byte{1}, 20)...))
	if err != nil {
		t.Fatalf("NewFromBytes() error = %v", err)
	}
	unknown, err := address.NewFromBytes(append([]byte{byte(address.Actor)}, bytes.Repeat([]byte{2}, 20)...))
	if err != nil {
		t.Fatalf("NewFromBytes() error = %v", err)
	}

	book := kernel.NewAddressBook()
	book.Register(known, 1234)
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{Addresses: book})

	resolve := func(addr address.Address) *wasmModule {
		raw := addr.Bytes()
		w := newWasmModule().withMemory().withData(0, raw)
		fn := w.importFunc(ModuleActor, "resolve_address", i32s(2), one64)
		w.exportFunc("run", seq(i32Const(0), i32Const(int32(len(raw))), call(fn), opDrop))
		return w
	}

	if r := invoke(t, m, resolve(known), cid.Undef); !r.Succeeded() {
		t.Errorf("resolving a known address failed: %s", r.Message)
	}
	r := invoke(t, m, resolve(unknown), cid.Undef)
	assertReceipt(t, r, kernel.KindSyscall, exitcode.ErrNotFound)
}

func TestInvokeEngineTrap(t *testing.T) {
	tel := newTestTelemetry(t)
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{Telemetry: tel})

	var (
		mu       sync.Mutex
		degraded []telemetry.Event
	)
	tel.Events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		degraded = append(degraded, e)
	}, telemetry.FilterByType(telemetry.EventTypeTrapDegraded))

	w := newWasmModule()
	w.exportFunc("run", opUnreachable)

	r := invoke(t, m, w, cid.Undef)
	assertReceipt(t, r, kernel.KindSystem, exitcode.ErrPlaceholder)
	if !strings.Contains(r.Message, "unreachable") {
		t.Errorf("Message = %q, should describe the engine failure", r.Message)
	}

	mu.Lock()
	if len(degraded) != 1 || degraded[0].InvocationID != r.InvocationID {
		t.Errorf("trap.degraded events = %+v", degraded)
	}
	mu.Unlock()

	invoke(t, m, abortModule(uint32(exitcode.ErrForbidden), "x"), cid.Undef)

	expected := `
# HELP froyovm_trap_recoveries_total Engine failures by recovery outcome
# TYPE froyovm_trap_recoveries_total counter
froyovm_trap_recoveries_total{outcome="foreign"} 1
froyovm_trap_recoveries_total{outcome="recovered"} 1
`
	if err := testutil.GatherAndCompare(tel.Metrics.Registry(), strings.NewReader(expected), "froyovm_trap_recoveries_total"); err != nil {
		t.Error(err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryBlockstore()

	k, err := kernel.New(ctx, store, kernel.Options{})
	if err != nil {
		t.Fatalf("kernel.New() error = %v", err)
	}
	if err := k.StateSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("StateSet() error = %v", err)
	}
	root, err := k.StateRoot(ctx)
	if err != nil {
		t.Fatalf("StateRoot() error = %v", err)
	}

	tel := newTestTelemetry(t)
	m := newTestMachine(t, store, Config{Telemetry: tel, Timeout: 100 * time.Millisecond})

	// Writes state, then never returns.
	w := newWasmModule().withMemory().withData(0, []byte("kx"))
	set := w.importFunc(ModuleSelf, "set", i32s(4), nil)
	w.exportFunc("run", seq(
		i32Const(0), i32Const(1), i32Const(1), i32Const(1),
		call(set),
		opSpin,
	))

	start := time.Now()
	r := invoke(t, m, w, root)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("invocation took %s, should stop at the timeout", elapsed)
	}
	assertReceipt(t, r, kernel.KindSystem, exitcode.ErrPlaceholder)
	if !r.StateRoot.Equals(root) {
		t.Errorf("StateRoot = %s, want the initial root %s", r.StateRoot, root)
	}

	expected := `
# HELP froyovm_trap_recoveries_total Engine failures by recovery outcome
# TYPE froyovm_trap_recoveries_total counter
froyovm_trap_recoveries_total{outcome="foreign"} 1
`
	if err := testutil.GatherAndCompare(tel.Metrics.Registry(), strings.NewReader(expected), "froyovm_trap_recoveries_total"); err != nil {
		t.Error(err)
	}
}

func TestInvokeSetupErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{})

	if _, err := m.Invoke(ctx, Invocation{}); err == nil {
		t.Error("Invoke() without a module should fail")
	}

	w := newWasmModule()
	w.exportFunc("run", nil)
	mod, err := m.Compile(ctx, "noop.wasm", w.bytes())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := m.Invoke(ctx, Invocation{Module: mod, Entry: "missing"}); err == nil {
		t.Error("Invoke() of a missing export should fail")
	}
	if _, err := m.Invoke(ctx, Invocation{Module: mod}); err == nil {
		t.Errorf("Invoke() should default to %q, which the module does not export", DefaultEntry)
	}

	unknownImport := newWasmModule()
	unknownImport.importFunc(ModuleIPLD, "does_not_exist", nil, nil)
	unknownImport.exportFunc("run", nil)
	mod, err = m.Compile(ctx, "bad-import.wasm", unknownImport.bytes())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	_, err = m.Invoke(ctx, Invocation{Module: mod, Entry: "run"})
	if err == nil || kernel.IsTrap(err) {
		t.Errorf("Invoke() with an unresolvable import = %v, want a setup error", err)
	}

	if _, err := m.Compile(ctx, "garbage.wasm", []byte("not wasm")); err == nil {
		t.Error("Compile() of garbage should fail")
	}
}

func TestInvokeConcurrent(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{})

	mod, err := m.Compile(ctx, "abort.wasm", abortModule(uint32(exitcode.ErrIllegalState), "busy").bytes())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.Invoke(ctx, Invocation{Module: mod, Entry: "run"})
			if err != nil {
				errs <- err
				return
			}
			if r.ExitCode != exitcode.ErrIllegalState || r.Message != "busy" {
				errs <- errors.New("unexpected receipt: " + exitcode.Name(r.ExitCode) + " " + r.Message)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

type recordingAdmitter struct {
	seen   []ModuleInfo
	reject error
}

func (a *recordingAdmitter) Admit(_ context.Context, info ModuleInfo) error {
	a.seen = append(a.seen, info)
	return a.reject
}

func TestInvokeAdmission(t *testing.T) {
	ctx := context.Background()
	admitter := &recordingAdmitter{}
	m := newTestMachine(t, stores.NewMemoryBlockstore(), Config{MemoryLimitPages: 8, Admission: admitter})

	w := abortModule(uint32(exitcode.ErrForbidden), "no")
	mod, err := m.Compile(ctx, "abort.wasm", w.bytes())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	r, err := m.Invoke(ctx, Invocation{Module: mod, Entry: "run"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if r.ExitCode != exitcode.ErrForbidden {
		t.Errorf("admitted invocation exit code = %s", r.ExitCode)
	}

	if len(admitter.seen) != 1 {
		t.Fatalf("Admit() called %d times, want 1", len(admitter.seen))
	}
	info := admitter.seen[0]
	if info.Name != "abort.wasm" || info.Entry != "run" {
		t.Errorf("info = %+v", info)
	}
	if len(info.Imports) != 1 || info.Imports[0] != (Import{Module: ModuleVM, Name: "abort"}) {
		t.Errorf("Imports = %+v", info.Imports)
	}
	if len(info.Memories) != 1 || info.Memories[0].Name != "memory" || info.Memories[0].Min != 1 || info.Memories[0].HasMax {
		t.Errorf("Memories = %+v", info.Memories)
	}
	if info.Limits.MemoryPages != 8 || info.Limits.MaxBlocks <= 0 {
		t.Errorf("Limits = %+v", info.Limits)
	}

	denied := errors.New("denied by test")
	admitter.reject = denied
	if _, err := m.Invoke(ctx, Invocation{Module: mod, Entry: "run"}); !errors.Is(err, denied) {
		t.Errorf("Invoke() error = %v, want the admission error", err)
	}
}
