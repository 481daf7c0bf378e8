package wasmnative

import "encoding/binary"

// Minimal module encoder for tests. Every import and function gets its own
// type entry.

const (
	valI32 byte = 0x7f
	valI64 byte = 0x7e

	opUnreachable byte = 0x00
	opCall        byte = 0x10
	opLocalGet    byte = 0x20
	opI32Const    byte = 0x41
	opEnd         byte = 0x0b
)

type wasmImport struct {
	module, name    string
	params, results []byte
}

type wasmFunc struct {
	export          string
	params, results []byte
	body            []byte
}

type wasmModule struct {
	imports []wasmImport
	funcs   []wasmFunc
	data    []byte
}

func uleb(v uint64) []byte {
	return binary.AppendUvarint(nil, v)
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wname(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func funcType(params, results []byte) []byte {
	out := append([]byte{0x60}, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

func (m wasmModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types, imports, funcs, exports, code [][]byte
	for i, imp := range m.imports {
		types = append(types, funcType(imp.params, imp.results))
		entry := append(wname(imp.module), wname(imp.name)...)
		entry = append(entry, 0x00)
		imports = append(imports, append(entry, uleb(uint64(i))...))
	}
	for j, f := range m.funcs {
		idx := uint64(len(m.imports) + j)
		types = append(types, funcType(f.params, f.results))
		funcs = append(funcs, uleb(idx))
		exports = append(exports, append(append(wname(f.export), 0x00), uleb(idx)...))
		body := append([]byte{0x00}, f.body...)
		body = append(body, opEnd)
		code = append(code, append(uleb(uint64(len(body))), body...))
	}

	out = append(out, section(1, vec(types...))...)
	if len(imports) > 0 {
		out = append(out, section(2, vec(imports...))...)
	}
	out = append(out, section(3, vec(funcs...))...)
	if m.data != nil {
		out = append(out, section(5, vec([]byte{0x00, 0x01}))...)
	}
	out = append(out, section(7, vec(exports...))...)
	out = append(out, section(10, vec(code...))...)
	if m.data != nil {
		seg := []byte{0x00, opI32Const, 0x00, opEnd}
		seg = append(seg, wname(string(m.data))...)
		out = append(out, section(11, vec(seg))...)
	}
	return out
}

func call(idx int) []byte { return append([]byte{opCall}, uleb(uint64(idx))...) }

func localGet(idx int) []byte { return append([]byte{opLocalGet}, uleb(uint64(idx))...) }

func i32Const(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }

func code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
