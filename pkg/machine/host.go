package machine

import (
	"context"
	"encoding/binary"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/kernel"
	"github.com/openfroyo/froyovm/pkg/kernel/blocks"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

// Host module names imported by guests.
const (
	ModuleIPLD  = "ipld"
	ModuleSelf  = "self"
	ModuleActor = "actor"
	ModuleVM    = "vm"
)

// statSize is the size of the block stat record written to guest memory:
// codec (u64 LE) followed by size (u32 LE).
const statSize = 12

// session is the per-invocation state host functions run against. It
// travels in the context passed to api.Function.Call.
type session struct {
	kernel  *kernel.Kernel
	metrics *telemetry.Metrics
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// syscall is one host call in progress.
type syscall struct {
	*session
	module   string
	function string
	failed   bool
}

// enter starts a host call. Callers must defer finish.
func enter(ctx context.Context, module, function string) *syscall {
	s, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		panic(kernel.ToTrap(kernel.Systemf("%s.%s called outside an invocation", module, function)))
	}
	return &syscall{session: s, module: module, function: function}
}

func (c *syscall) finish() {
	c.metrics.RecordSyscall(c.module, c.function, c.failed)
}

// check raises err, if any, across the engine boundary.
func (c *syscall) check(err error) {
	if err == nil {
		return
	}
	c.raise(kernel.Convert(err))
}

func (c *syscall) raise(err *kernel.ExecutionError) {
	c.failed = true
	panic(kernel.ToTrap(err))
}

// read copies length bytes of guest memory starting at ptr.
func (c *syscall) read(mod api.Module, ptr, length uint32) []byte {
	mem := c.memory(mod)
	buf, ok := mem.Read(ptr, length)
	if !ok {
		c.raise(kernel.SyscallWithCode(exitcode.SysErrIllegalArgument,
			"%s.%s: read of %d bytes at %d is out of bounds", c.module, c.function, length, ptr))
	}
	return append([]byte(nil), buf...)
}

// write copies data into guest memory at ptr, failing if it exceeds limit.
func (c *syscall) write(mod api.Module, ptr, limit uint32, data []byte) {
	if uint64(len(data)) > uint64(limit) {
		c.raise(kernel.SyscallWithCode(exitcode.SysErrIllegalArgument,
			"%s.%s: %d bytes do not fit in a buffer of %d", c.module, c.function, len(data), limit))
	}
	if !c.memory(mod).Write(ptr, data) {
		c.raise(kernel.SyscallWithCode(exitcode.SysErrIllegalArgument,
			"%s.%s: write of %d bytes at %d is out of bounds", c.module, c.function, len(data), ptr))
	}
}

func (c *syscall) writeStat(mod api.Module, ptr uint32, stat blocks.Stat) {
	var buf [statSize]byte
	binary.LittleEndian.PutUint64(buf[:8], stat.Codec)
	binary.LittleEndian.PutUint32(buf[8:], stat.Size)
	c.write(mod, ptr, statSize, buf[:])
}

func (c *syscall) memory(mod api.Module) api.Memory {
	mem := mod.Memory()
	if mem == nil {
		c.raise(kernel.SyscallWithCode(exitcode.SysErrIllegalArgument,
			"%s.%s: module does not export memory", c.module, c.function))
	}
	return mem
}

// registerHostModules instantiates the host modules guests import.
func registerHostModules(ctx context.Context, runtime wazero.Runtime) error {
	builders := []wazero.HostModuleBuilder{
		ipldModule(runtime),
		selfModule(runtime),
		actorModule(runtime),
		vmModule(runtime),
	}
	for _, b := range builders {
		if _, err := b.Instantiate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func ipldModule(runtime wazero.Runtime) wazero.HostModuleBuilder {
	builder := runtime.NewHostModuleBuilder(ModuleIPLD)

	// open(cid_ptr, cid_len, stat_ptr) -> handle
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, cidPtr, cidLen, statPtr uint32) uint32 {
			c := enter(ctx, ModuleIPLD, "open")
			defer c.finish()

			h, stat, err := c.kernel.BlockOpen(ctx, c.read(mod, cidPtr, cidLen))
			c.check(err)
			c.writeStat(mod, statPtr, stat)
			return uint32(h)
		}).
		WithParameterNames("cid_ptr", "cid_len", "stat_ptr").
		Export("open")

	// create(codec, data_ptr, data_len) -> handle
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, codec uint64, dataPtr, dataLen uint32) uint32 {
			c := enter(ctx, ModuleIPLD, "create")
			defer c.finish()

			h, err := c.kernel.BlockCreate(codec, c.read(mod, dataPtr, dataLen))
			c.check(err)
			return uint32(h)
		}).
		WithParameterNames("codec", "data_ptr", "data_len").
		Export("create")

	// read(handle, offset, buf_ptr, buf_len) -> bytes read
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, handle, offset, bufPtr, bufLen uint32) uint32 {
			c := enter(ctx, ModuleIPLD, "read")
			defer c.finish()

			data, err := c.kernel.BlockRead(blocks.Handle(handle), offset, bufLen)
			c.check(err)
			c.write(mod, bufPtr, bufLen, data)
			return uint32(len(data))
		}).
		WithParameterNames("handle", "offset", "buf_ptr", "buf_len").
		Export("read")

	// stat(handle, stat_ptr)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, handle, statPtr uint32) {
			c := enter(ctx, ModuleIPLD, "stat")
			defer c.finish()

			stat, err := c.kernel.BlockStat(blocks.Handle(handle))
			c.check(err)
			c.writeStat(mod, statPtr, stat)
		}).
		WithParameterNames("handle", "stat_ptr").
		Export("stat")

	// link(handle, hash_code, hash_len, cid_ptr, cid_max) -> cid length
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, handle uint32, hashCode uint64, hashLen, cidPtr, cidMax uint32) uint32 {
			c := enter(ctx, ModuleIPLD, "link")
			defer c.finish()

			linked, err := c.kernel.BlockLink(ctx, blocks.Handle(handle), hashCode, hashLen)
			c.check(err)
			cidBytes := linked.Bytes()
			c.write(mod, cidPtr, cidMax, cidBytes)
			return uint32(len(cidBytes))
		}).
		WithParameterNames("handle", "hash_code", "hash_len", "cid_ptr", "cid_max").
		Export("link")

	return builder
}

func selfModule(runtime wazero.Runtime) wazero.HostModuleBuilder {
	builder := runtime.NewHostModuleBuilder(ModuleSelf)

	// get(key_ptr, key_len, buf_ptr, buf_len) -> value length
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen, bufPtr, bufLen uint32) uint32 {
			c := enter(ctx, ModuleSelf, "get")
			defer c.finish()

			value, err := c.kernel.StateGet(ctx, c.read(mod, keyPtr, keyLen))
			c.check(err)
			c.write(mod, bufPtr, bufLen, value)
			return uint32(len(value))
		}).
		WithParameterNames("key_ptr", "key_len", "buf_ptr", "buf_len").
		Export("get")

	// set(key_ptr, key_len, value_ptr, value_len)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen, valuePtr, valueLen uint32) {
			c := enter(ctx, ModuleSelf, "set")
			defer c.finish()

			c.check(c.kernel.StateSet(ctx, c.read(mod, keyPtr, keyLen), c.read(mod, valuePtr, valueLen)))
		}).
		WithParameterNames("key_ptr", "key_len", "value_ptr", "value_len").
		Export("set")

	// delete(key_ptr, key_len)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) {
			c := enter(ctx, ModuleSelf, "delete")
			defer c.finish()

			c.check(c.kernel.StateDelete(ctx, c.read(mod, keyPtr, keyLen)))
		}).
		WithParameterNames("key_ptr", "key_len").
		Export("delete")

	// root(cid_ptr, cid_max) -> cid length
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, cidPtr, cidMax uint32) uint32 {
			c := enter(ctx, ModuleSelf, "root")
			defer c.finish()

			root, err := c.kernel.StateRoot(ctx)
			c.check(err)
			cidBytes := root.Bytes()
			c.write(mod, cidPtr, cidMax, cidBytes)
			return uint32(len(cidBytes))
		}).
		WithParameterNames("cid_ptr", "cid_max").
		Export("root")

	return builder
}

func actorModule(runtime wazero.Runtime) wazero.HostModuleBuilder {
	builder := runtime.NewHostModuleBuilder(ModuleActor)

	// resolve_address(addr_ptr, addr_len) -> actor id
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, addrPtr, addrLen uint32) uint64 {
			c := enter(ctx, ModuleActor, "resolve_address")
			defer c.finish()

			id, err := c.kernel.ResolveAddress(c.read(mod, addrPtr, addrLen))
			c.check(err)
			return id
		}).
		WithParameterNames("addr_ptr", "addr_len").
		Export("resolve_address")

	return builder
}

func vmModule(runtime wazero.Runtime) wazero.HostModuleBuilder {
	builder := runtime.NewHostModuleBuilder(ModuleVM)

	// abort(code, msg_ptr, msg_len) never returns.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, code, msgPtr, msgLen uint32) {
			c := enter(ctx, ModuleVM, "abort")
			defer c.finish()

			msg := c.read(mod, msgPtr, msgLen)
			c.raise(c.kernel.Abort(exitcode.ExitCode(code), string(msg)))
		}).
		WithParameterNames("code", "msg_ptr", "msg_len").
		Export("abort")

	return builder
}
