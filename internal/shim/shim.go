// Package shim builds the guest-side wasm module that sits between the
// managed runtime and the host entry points.
//
// The shim owns the linear memory and imports every host entry point. Each
// import is re-exported through a local trampoline under the same name, so a
// guest call into the host crosses a real wasm function boundary and runs
// against the shim's memory.
package shim

import (
	"github.com/tetratelabs/wazero/api"
)

// MemoryExport is the export name of the shim's linear memory.
const MemoryExport = "memory"

// Builder assembles the shim module binary.
type Builder struct {
	hostModule string
	funcs      []shimFunc
	minPages   uint32
	maxPages   uint32
	hasMax     bool
}

type shimFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// NewBuilder creates a builder importing from hostModule with one page of
// memory.
func NewBuilder(hostModule string) *Builder {
	return &Builder{hostModule: hostModule, minPages: 1}
}

// AddFunc adds an entry point to import and re-export.
func (b *Builder) AddFunc(name string, params, results []api.ValueType) *Builder {
	b.funcs = append(b.funcs, shimFunc{name: name, params: params, results: results})
	return b
}

// SetMemory sets the initial page count and, when max is non-zero, the limit.
func (b *Builder) SetMemory(min, max uint32) *Builder {
	b.minPages = min
	b.maxPages = max
	b.hasMax = max != 0
	return b
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x01, b.typeSection())
		wasm = appendSection(wasm, 0x02, b.importSection())
		wasm = appendSection(wasm, 0x03, b.funcSection())
	}
	wasm = appendSection(wasm, 0x05, b.memorySection())
	wasm = appendSection(wasm, 0x07, b.exportSection())
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x0a, b.codeSection())
	}
	return wasm
}

func (b *Builder) typeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		section = append(section, 0x60)
		section = append(section, EncodeULEB128(uint32(len(f.params)))...)
		for _, t := range f.params {
			section = append(section, ValTypeToWasm(t))
		}
		section = append(section, EncodeULEB128(uint32(len(f.results)))...)
		for _, t := range f.results {
			section = append(section, ValTypeToWasm(t))
		}
	}
	return section
}

func (b *Builder) importSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		section = appendName(section, b.hostModule)
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

// funcSection declares one trampoline per import, sharing the import's type.
func (b *Builder) funcSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) memorySection() []byte {
	section := []byte{0x01}
	if b.hasMax {
		section = append(section, 0x01)
		section = append(section, EncodeULEB128(b.minPages)...)
		section = append(section, EncodeULEB128(b.maxPages)...)
	} else {
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(b.minPages)...)
	}
	return section
}

func (b *Builder) exportSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs) + 1))

	section = appendName(section, MemoryExport)
	section = append(section, 0x02, 0x00)

	// Trampolines follow the imports in the function index space.
	numImports := len(b.funcs)
	for i, f := range b.funcs {
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(numImports+i))...)
	}
	return section
}

func (b *Builder) codeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		body := trampoline(i, f)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

// trampoline forwards every parameter to import importIdx.
func trampoline(importIdx int, f shimFunc) []byte {
	body := []byte{0x00} // no locals
	for i := range f.params {
		body = append(body, 0x20) // local.get
		body = append(body, EncodeULEB128(uint32(i))...)
	}
	body = append(body, 0x10) // call
	body = append(body, EncodeULEB128(uint32(importIdx))...)
	return append(body, 0x0b)
}
