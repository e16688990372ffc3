// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// chunkBuilder assembles a minimal, well-formed Lua 5.2 bytecode stream
// for tests, following the field order of spec.md §6.
type chunkBuilder struct {
	buf bytes.Buffer
}

func newChunkBuilder() *chunkBuilder {
	b := new(chunkBuilder)
	b.buf.Write(luaSignature[:])
	b.buf.WriteByte(luaVersion52)
	b.buf.WriteByte(luaFormatOfficial)
	b.buf.WriteByte(1) // little-endian
	b.buf.WriteByte(4) // size_int
	b.buf.WriteByte(8) // size_size_t
	b.buf.WriteByte(4) // size_ins
	b.buf.WriteByte(8) // size_number
	b.buf.WriteByte(0) // integer/float byte, unused
	b.buf.Write(luaTail[:])
	return b
}

func (b *chunkBuilder) uint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.buf.Write(buf[:])
}

func (b *chunkBuilder) uint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.buf.Write(buf[:])
}

// function writes one prototype with no constants, no children, no
// upvalues, and an empty debug section.
func (b *chunkBuilder) function(numParams, numRegs byte, isVararg bool, instrs ...Instruction) {
	b.uint32(0) // line_defined
	b.uint32(0) // last_line_defined
	b.buf.WriteByte(numParams)
	if isVararg {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	b.buf.WriteByte(numRegs)

	b.uint32(uint32(len(instrs)))
	for _, ins := range instrs {
		b.uint32(uint32(ins))
	}

	b.uint32(0) // num_constants
	b.uint32(0) // num_prototypes
	b.uint32(0) // num_upvalues

	b.uint64(0) // source name length
	b.uint32(0) // line info count
	b.uint32(0) // locvars count
	b.uint32(0) // upvalue names count
}

func (b *chunkBuilder) bytes() []byte {
	return b.buf.Bytes()
}

func emptyReturnChunk() []byte {
	b := newChunkBuilder()
	b.function(0, 2, false, encodeInstruction(OpReturn, 0, 1, 0))
	return b.bytes()
}

func TestDecodeAllEmptyReturn(t *testing.T) {
	proto, err := DecodeAll(bytes.NewReader(emptyReturnChunk()), nil, 0)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	want := &Prototype{
		Code:          []Instruction{encodeInstruction(OpReturn, 0, 1, 0)},
		ConstantTypes: []ConstantType{},
		Prototypes:    []*Prototype{},
		Upvalues:      []UpvalueDescriptor{},
		NumParams:     0,
		IsVararg:      false,
		NumRegs:       2,
	}
	if diff := cmp.Diff(want, proto); diff != "" {
		t.Errorf("DecodeAll(-want +got):\n%s", diff)
	}
}

func TestDecodeAllTruncatedHeader(t *testing.T) {
	chunk := emptyReturnChunk()[:10]
	proto, err := DecodeAll(bytes.NewReader(chunk), nil, 0)
	if proto != nil {
		t.Errorf("DecodeAll returned non-nil prototype for truncated input")
	}
	if err == nil {
		t.Fatal("DecodeAll returned nil error for truncated input")
	}
	var be *Error
	if !errAs(err, &be) || be.Kind != ErrorKindTruncated {
		t.Errorf("DecodeAll error = %v; want ErrorKindTruncated", err)
	}
}

func TestDecodeAllSurplusBytes(t *testing.T) {
	chunk := append(emptyReturnChunk(), 0xFF)
	proto, err := DecodeAll(bytes.NewReader(chunk), nil, 0)
	if proto != nil {
		t.Errorf("DecodeAll returned non-nil prototype for surplus input")
	}
	var be *Error
	if !errAs(err, &be) || be.Kind != ErrorKindSurplusInput {
		t.Errorf("DecodeAll error = %v; want ErrorKindSurplusInput", err)
	}
}

func TestDecodeAllZeroInstructions(t *testing.T) {
	b := newChunkBuilder()
	// Write a function header by hand with num_instructions = 0.
	b.uint32(0)
	b.uint32(0)
	b.buf.WriteByte(0)
	b.buf.WriteByte(0)
	b.buf.WriteByte(2)
	b.uint32(0) // num_instructions = 0: rejected
	_, err := DecodeAll(bytes.NewReader(b.bytes()), nil, 0)
	if err == nil {
		t.Fatal("DecodeAll accepted a zero-instruction prototype")
	}
}

func TestResumabilityEquivalence(t *testing.T) {
	full := emptyReturnChunk()
	want, err := DecodeAll(bytes.NewReader(full), nil, 0)
	if err != nil {
		t.Fatalf("DecodeAll(whole input): %v", err)
	}

	for chunkSize := 1; chunkSize <= len(full); chunkSize++ {
		d := NewDecoder(nil, 0)
		for i := 0; i < len(full); i += chunkSize {
			end := min(i+chunkSize, len(full))
			if status := d.Pump(full[i:end]); status == StatusFail {
				t.Fatalf("chunkSize %d: unexpected FAIL mid-stream", chunkSize)
			}
		}
		got, err := d.Finish()
		if err != nil {
			t.Fatalf("chunkSize %d: Finish: %v", chunkSize, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("chunkSize %d (-want +got):\n%s", chunkSize, diff)
		}
	}
}

func TestFinishIdempotent(t *testing.T) {
	d := NewDecoder(nil, 0)
	d.Pump(emptyReturnChunk())
	p1, err1 := d.Finish()
	p2, err2 := d.Finish()
	if p1 != p2 || err1 != err2 {
		t.Errorf("Finish not idempotent: (%v,%v) vs (%v,%v)", p1, err1, p2, err2)
	}
}

// functionBody returns the encoding of one prototype's body (everything
// after the header, recursing into the given already-encoded children),
// with no constants and no upvalues.
func functionBody(numParams, numRegs byte, instrs []Instruction, children [][]byte) []byte {
	b := new(chunkBuilder)
	b.uint32(0)
	b.uint32(0)
	b.buf.WriteByte(numParams)
	b.buf.WriteByte(0)
	b.buf.WriteByte(numRegs)
	b.uint32(uint32(len(instrs)))
	for _, ins := range instrs {
		b.uint32(uint32(ins))
	}
	b.uint32(0) // num_constants
	b.uint32(uint32(len(children)))
	for _, child := range children {
		b.buf.Write(child)
	}
	b.uint32(0) // num_upvalues
	b.uint64(0) // source name length
	b.uint32(0) // line info count
	b.uint32(0) // locvars count
	b.uint32(0) // upvalue names count
	return b.bytes()
}

func nestedChunk(depth int) []byte {
	body := functionBody(0, 2, []Instruction{encodeInstruction(OpReturn, 0, 1, 0)}, nil)
	for i := 1; i < depth; i++ {
		body = functionBody(0, 2, []Instruction{encodeInstruction(OpReturn, 0, 1, 0)}, [][]byte{body})
	}
	b := newChunkBuilder()
	b.buf.Write(body)
	return b.bytes()
}

func TestRecursionTooDeep(t *testing.T) {
	chunk := nestedChunk(3) // root -> child -> grandchild, 3 levels deep
	_, err := DecodeAll(bytes.NewReader(chunk), nil, 2)
	var be *Error
	if !errAs(err, &be) || be.Kind != ErrorKindRecursionTooDeep {
		t.Errorf("DecodeAll with maxDepth=2 on a 3-deep chunk: err = %v; want ErrorKindRecursionTooDeep", err)
	}

	_, err = DecodeAll(bytes.NewReader(chunk), nil, 3)
	if err != nil {
		t.Errorf("DecodeAll with maxDepth=3 on a 3-deep chunk: %v", err)
	}
}

func TestBoundedAllocatorRejectsHugeInstructionCount(t *testing.T) {
	b := newChunkBuilder()
	b.uint32(0)
	b.uint32(0)
	b.buf.WriteByte(0)
	b.buf.WriteByte(0)
	b.buf.WriteByte(2)
	b.uint32(1 << 20) // claims a million instructions it never supplies
	alloc := NewBoundedAllocator(16)
	_, err := DecodeAll(bytes.NewReader(b.bytes()), alloc, 0)
	if err == nil {
		t.Fatal("DecodeAll with a tiny budget accepted a huge instruction count")
	}
	var be *Error
	if !errAs(err, &be) || be.Kind != ErrorKindAllocationFailure {
		t.Errorf("error = %v; want ErrorKindAllocationFailure", err)
	}
}

// FuzzDecodeAll checks that no input, however malformed, causes a panic:
// every error path must return a normal error instead.
func FuzzDecodeAll(f *testing.F) {
	f.Add(emptyReturnChunk())
	f.Add(append(emptyReturnChunk(), 0xFF))
	f.Add(emptyReturnChunk()[:10])
	f.Add([]byte{})
	f.Add(nestedChunk(4))

	f.Fuzz(func(t *testing.T, chunk []byte) {
		_, _ = DecodeAll(bytes.NewReader(chunk), NewBoundedAllocator(1<<20), 16)
	})
}
