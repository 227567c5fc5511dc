// Package wasmenc assembles core WebAssembly module binaries.
package wasmenc

import "fmt"

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

// Section IDs
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
)

// Export kinds
const (
	exportFunc   = 0x00
	exportMemory = 0x02
	exportGlobal = 0x03
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) equal(o FuncType) bool {
	if len(ft.Params) != len(o.Params) || len(ft.Results) != len(o.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

type funcImport struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	code   *Code
	export string
	locals []ValType
	typ    uint32
}

type global struct {
	export  string
	init    int32
	typ     ValType
	mutable bool
}

type memory struct {
	max    *uint32
	export string
	min    uint32
}

// Module collects the parts of a module in index order. Imports must be
// declared before any function so that function indices stay stable.
type Module struct {
	memory  *memory
	types   []FuncType
	imports []funcImport
	funcs   []function
	globals []global
}

// Type returns the index of ft, adding it when new.
func (m *Module) Type(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic(fmt.Sprintf("wasmenc: import %s.%s declared after functions", module, name))
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typ: m.Type(ft)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. An empty export name keeps
// it internal.
func (m *Module) Func(export string, ft FuncType, locals []ValType, code *Code) uint32 {
	m.funcs = append(m.funcs, function{
		typ:    m.Type(ft),
		export: export,
		locals: locals,
		code:   code,
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Global defines a global initialized to a constant and returns its index.
func (m *Module) Global(export string, t ValType, mutable bool, init int32) uint32 {
	if t != I32 {
		panic("wasmenc: only i32 globals are supported")
	}
	m.globals = append(m.globals, global{export: export, typ: t, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// Memory defines the module's single memory.
func (m *Module) Memory(export string, min uint32, max *uint32) {
	m.memory = &memory{export: export, min: min, max: max}
}

// Encode produces the module binary.
func (m *Module) Encode() []byte {
	var buf Buffer
	buf.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6D})
	buf.WriteBytes([]byte{0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		var sec Buffer
		sec.WriteU32(uint32(len(m.types)))
		for _, t := range m.types {
			sec.AppendByte(0x60)
			sec.WriteU32(uint32(len(t.Params)))
			for _, p := range t.Params {
				sec.AppendByte(byte(p))
			}
			sec.WriteU32(uint32(len(t.Results)))
			for _, r := range t.Results {
				sec.AppendByte(byte(r))
			}
		}
		writeSection(&buf, sectionType, &sec)
	}

	if len(m.imports) > 0 {
		var sec Buffer
		sec.WriteU32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.WriteString(imp.module)
			sec.WriteString(imp.name)
			sec.AppendByte(0x00)
			sec.WriteU32(imp.typ)
		}
		writeSection(&buf, sectionImport, &sec)
	}

	if len(m.funcs) > 0 {
		var sec Buffer
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typ)
		}
		writeSection(&buf, sectionFunction, &sec)
	}

	if m.memory != nil {
		var sec Buffer
		sec.WriteU32(1)
		sec.WriteLimits(m.memory.min, m.memory.max)
		writeSection(&buf, sectionMemory, &sec)
	}

	if len(m.globals) > 0 {
		var sec Buffer
		sec.WriteU32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.AppendByte(byte(g.typ))
			if g.mutable {
				sec.AppendByte(0x01)
			} else {
				sec.AppendByte(0x00)
			}
			sec.AppendByte(opI32Const)
			sec.WriteI32(g.init)
			sec.AppendByte(opEnd)
		}
		writeSection(&buf, sectionGlobal, &sec)
	}

	m.encodeExports(&buf)

	if len(m.funcs) > 0 {
		var sec Buffer
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body Buffer
			writeLocals(&body, f.locals)
			if f.code != nil {
				body.WriteBytes(f.code.Bytes())
			}
			body.AppendByte(opEnd)
			sec.WriteU32(uint32(len(body.Bytes)))
			sec.WriteBytes(body.Bytes)
		}
		writeSection(&buf, sectionCode, &sec)
	}

	return buf.Bytes
}

func (m *Module) encodeExports(buf *Buffer) {
	var sec Buffer
	count := uint32(0)

	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		sec.WriteString(f.export)
		sec.AppendByte(exportFunc)
		sec.WriteU32(uint32(len(m.imports) + i))
		count++
	}
	if m.memory != nil && m.memory.export != "" {
		sec.WriteString(m.memory.export)
		sec.AppendByte(exportMemory)
		sec.WriteU32(0)
		count++
	}
	for i, g := range m.globals {
		if g.export == "" {
			continue
		}
		sec.WriteString(g.export)
		sec.AppendByte(exportGlobal)
		sec.WriteU32(uint32(i))
		count++
	}
	if count == 0 {
		return
	}

	var out Buffer
	out.WriteU32(count)
	out.WriteBytes(sec.Bytes)
	writeSection(buf, sectionExport, &out)
}

// writeLocals groups consecutive locals of the same type.
func writeLocals(buf *Buffer, locals []ValType) {
	type group struct {
		n uint32
		t ValType
	}
	var groups []group
	for _, l := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == l {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, t: l})
	}
	buf.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		buf.WriteU32(g.n)
		buf.AppendByte(byte(g.t))
	}
}
