// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package wasm_test

// Minimal binary encoder for the test modules below. Each builder method
// appends one section in the order the binary format requires.

const (
	i32 = 0x7f
	i64 = 0x7e
)

type funcType struct {
	params, results []byte
}

type wasmImport struct {
	module, name string
	typeIdx      uint32
}

type wasmExport struct {
	name string
	kind byte // 0 func, 2 memory
	idx  uint32
}

type dataSegment struct {
	offset uint32
	bytes  []byte
}

type moduleSpec struct {
	types   []funcType
	imports []wasmImport
	funcs   []uint32 // type index per defined function
	memory  bool
	exports []wasmExport
	bodies  [][]byte // instruction bytes without locals header or end
	data    []dataSegment
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, count int, payload []byte) []byte {
	body := append(uleb(uint32(count)), payload...)
	return append(append([]byte{id}, uleb(uint32(len(body)))...), body...)
}

func (m moduleSpec) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var p []byte
	for _, t := range m.types {
		p = append(p, 0x60)
		p = append(p, uleb(uint32(len(t.params)))...)
		p = append(p, t.params...)
		p = append(p, uleb(uint32(len(t.results)))...)
		p = append(p, t.results...)
	}
	out = append(out, section(1, len(m.types), p)...)

	if len(m.imports) > 0 {
		p = nil
		for _, imp := range m.imports {
			p = append(p, name(imp.module)...)
			p = append(p, name(imp.name)...)
			p = append(p, 0x00)
			p = append(p, uleb(imp.typeIdx)...)
		}
		out = append(out, section(2, len(m.imports), p)...)
	}

	p = nil
	for _, idx := range m.funcs {
		p = append(p, uleb(idx)...)
	}
	out = append(out, section(3, len(m.funcs), p)...)

	if m.memory {
		out = append(out, section(5, 1, []byte{0x00, 0x01})...)
	}

	p = nil
	for _, e := range m.exports {
		p = append(p, name(e.name)...)
		p = append(p, e.kind)
		p = append(p, uleb(e.idx)...)
	}
	out = append(out, section(7, len(m.exports), p)...)

	p = nil
	for _, b := range m.bodies {
		fn := append([]byte{0x00}, b...) // no locals
		fn = append(fn, 0x0b)
		p = append(p, uleb(uint32(len(fn)))...)
		p = append(p, fn...)
	}
	out = append(out, section(10, len(m.bodies), p)...)

	if len(m.data) > 0 {
		p = nil
		for _, d := range m.data {
			p = append(p, 0x00, 0x41)
			p = append(p, sleb(int64(d.offset))...)
			p = append(p, 0x0b)
			p = append(p, uleb(uint32(len(d.bytes)))...)
			p = append(p, d.bytes...)
		}
		out = append(out, section(11, len(m.data), p)...)
	}
	return out
}

func i32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }
func localGet(i uint32) []byte { return append([]byte{0x20}, uleb(i)...) }
func call(i uint32) []byte { return append([]byte{0x10}, uleb(i)...) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Memory layout of the plugin fixture.
const (
	pongAt    = 0
	readyAt   = 64
	okAt      = 80
	seenAt    = 96
	allocBase = 1024
)

var (
	pongJSON = []byte(`{"pong":true}`)
	readyTyp = []byte("READY")
	okJSON   = []byte(`{"ok":true}`)
	seenTyp  = []byte("SEEN")
)

// Function indices in the plugin fixture. Imports come first.
const (
	fnPublish = iota
	fnLog
	fnAlloc
	fnPing
	fnEcho
	fnInit
	fnOnEvent
	fnSpin
	fnFail
)

// pluginModule builds a guest that exercises every hook:
//
//	alloc(n) -> 1024
//	handlePing() -> packed {"pong":true}
//	handleEcho(ptr, len) -> packed (ptr, len), echoing the request
//	initialize() publishes READY {"ok":true}
//	on_event(ptr, len) publishes SEEN with the event JSON
//	spin() loops forever
//	fail() traps
func pluginModule() []byte {
	spec := moduleSpec{
		types: []funcType{
			{params: []byte{i32, i32, i32, i32}},             // 0 publish
			{params: []byte{i32, i32}},                       // 1 log, on_event
			{params: []byte{i32}, results: []byte{i32}},      // 2 alloc
			{results: []byte{i64}},                           // 3 ping
			{params: []byte{i32, i32}, results: []byte{i64}}, // 4 echo
			{},                                               // 5 void
		},
		imports: []wasmImport{
			{"genesis", "publish", 0},
			{"genesis", "log", 1},
		},
		funcs:  []uint32{2, 3, 4, 5, 1, 5, 5},
		memory: true,
		exports: []wasmExport{
			{"memory", 2, 0},
			{"alloc", 0, fnAlloc},
			{"handlePing", 0, fnPing},
			{"handleEcho", 0, fnEcho},
			{"initialize", 0, fnInit},
			{"on_event", 0, fnOnEvent},
			{"spin", 0, fnSpin},
			{"fail", 0, fnFail},
		},
		bodies: [][]byte{
			i32Const(allocBase),
			i64Const(int64(pongAt)<<32 | int64(len(pongJSON))),
			concat(localGet(0), []byte{0xad}, i64Const(32), []byte{0x86}, localGet(1), []byte{0xad, 0x84}),
			concat(i32Const(readyAt), i32Const(int32(len(readyTyp))), i32Const(okAt), i32Const(int32(len(okJSON))), call(fnPublish)),
			concat(i32Const(seenAt), i32Const(int32(len(seenTyp))), localGet(0), localGet(1), call(fnPublish)),
			{0x03, 0x40, 0x0c, 0x00, 0x0b},
			{0x00},
		},
		data: []dataSegment{
			{pongAt, pongJSON},
			{readyAt, readyTyp},
			{okAt, okJSON},
			{seenAt, seenTyp},
		},
	}
	return spec.encode()
}

// addModule exports add(a, b i32) i32 and nothing else.
func addModule() []byte {
	return moduleSpec{
		types:   []funcType{{params: []byte{i32, i32}, results: []byte{i32}}},
		funcs:   []uint32{0},
		exports: []wasmExport{{"add", 0, 0}},
		bodies:  [][]byte{concat(localGet(0), localGet(1), []byte{0x6a})},
	}.encode()
}
