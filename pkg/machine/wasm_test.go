package machine

// A minimal WebAssembly binary assembler for tests. It emits only the
// sections guests in these tests need: types, imports, functions, one
// exported memory page, exports, code and active data segments.

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

type funcType struct {
	params  []byte
	results []byte
}

type wasmImport struct {
	module, name string
	typ          int
}

type wasmFunc struct {
	typ  int
	body []byte
}

type wasmData struct {
	offset uint32
	data   []byte
}

type wasmModule struct {
	types   []funcType
	imports []wasmImport
	funcs   []wasmFunc
	exports map[string]int
	memory  bool
	data    []wasmData
}

func newWasmModule() *wasmModule {
	return &wasmModule{exports: make(map[string]int)}
}

// typeIndex returns the index of a function type, adding it if needed.
func (m *wasmModule) typeIndex(params, results []byte) int {
	for i, t := range m.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return i
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return len(m.types) - 1
}

// importFunc adds a function import and returns its function index.
// Imports must be added before any local function.
func (m *wasmModule) importFunc(module, name string, params, results []byte) int {
	m.imports = append(m.imports, wasmImport{module: module, name: name, typ: m.typeIndex(params, results)})
	return len(m.imports) - 1
}

// exportFunc adds a () -> () function with the given instructions.
func (m *wasmModule) exportFunc(name string, body []byte) {
	m.funcs = append(m.funcs, wasmFunc{typ: m.typeIndex(nil, nil), body: body})
	m.exports[name] = len(m.imports) + len(m.funcs) - 1
}

func (m *wasmModule) withMemory() *wasmModule {
	m.memory = true
	return m
}

func (m *wasmModule) withData(offset uint32, data []byte) *wasmModule {
	m.data = append(m.data, wasmData{offset: offset, data: data})
	return m
}

func (m *wasmModule) bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = appendU32(types, uint32(len(m.types)))
	for _, t := range m.types {
		types = append(types, 0x60)
		types = appendU32(types, uint32(len(t.params)))
		types = append(types, t.params...)
		types = appendU32(types, uint32(len(t.results)))
		types = append(types, t.results...)
	}
	out = appendSection(out, 1, types)

	if len(m.imports) > 0 {
		var imports []byte
		imports = appendU32(imports, uint32(len(m.imports)))
		for _, imp := range m.imports {
			imports = appendName(imports, imp.module)
			imports = appendName(imports, imp.name)
			imports = append(imports, 0x00)
			imports = appendU32(imports, uint32(imp.typ))
		}
		out = appendSection(out, 2, imports)
	}

	var funcs []byte
	funcs = appendU32(funcs, uint32(len(m.funcs)))
	for _, f := range m.funcs {
		funcs = appendU32(funcs, uint32(f.typ))
	}
	out = appendSection(out, 3, funcs)

	if m.memory {
		out = appendSection(out, 5, []byte{0x01, 0x00, 0x01})
	}

	var exports []byte
	count := len(m.exports)
	if m.memory {
		count++
	}
	exports = appendU32(exports, uint32(count))
	for name, idx := range m.exports {
		exports = appendName(exports, name)
		exports = append(exports, 0x00)
		exports = appendU32(exports, uint32(idx))
	}
	if m.memory {
		exports = appendName(exports, "memory")
		exports = append(exports, 0x02, 0x00)
	}
	out = appendSection(out, 7, exports)

	var code []byte
	code = appendU32(code, uint32(len(m.funcs)))
	for _, f := range m.funcs {
		body := append([]byte{0x00}, f.body...) // no locals
		body = append(body, 0x0b)
		code = appendU32(code, uint32(len(body)))
		code = append(code, body...)
	}
	out = appendSection(out, 10, code)

	if len(m.data) > 0 {
		var data []byte
		data = appendU32(data, uint32(len(m.data)))
		for _, d := range m.data {
			data = append(data, 0x00)
			data = append(data, i32Const(int32(d.offset))...)
			data = append(data, 0x0b)
			data = appendU32(data, uint32(len(d.data)))
			data = append(data, d.data...)
		}
		out = appendSection(out, 11, data)
	}

	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendU32(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Instructions.

func i32Const(v int32) []byte { return appendS64([]byte{0x41}, int64(v)) }
func i64Const(v int64) []byte { return appendS64([]byte{0x42}, v) }
func call(idx int) []byte     { return appendU32([]byte{0x10}, uint32(idx)) }

var (
	opDrop        = []byte{0x1a}
	opUnreachable = []byte{0x00}
	// loop br 0 end
	opSpin = []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}
)

func seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Function signatures of the host functions.

var (
	i32s = func(n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = valI32
		}
		return out
	}
	one32 = []byte{valI32}
	one64 = []byte{valI64}
)
