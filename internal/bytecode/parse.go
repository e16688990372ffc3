// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"bytes"
	"io"
)

// header holds the decoded contents of the 18-byte bytecode preamble,
// spec.md §6 "Bytecode format (bit-exact)".
type header struct {
	littleEndian bool
	sizeInt      int
	sizeSizeT    int
	sizeIns      int
	sizeNumber   int
}

var (
	luaSignature = [4]byte{0x1B, 'L', 'u', 'a'}
	luaTail      = [6]byte{0x19, 0x93, 0x0D, 0x0A, 0x1A, 0x0A}
)

const (
	luaVersion52      = 0x52
	luaFormatOfficial = 0x00

	constTagNil     = 0
	constTagBoolean = 1
	constTagNumber  = 3
	constTagString  = 4
)

// maxReasonableCount bounds any single size_int-encoded count (number of
// instructions, constants, child prototypes, upvalues, or debug-table
// entries). Lua source files compiled by any real compiler fall far
// below this; adversarial bytecode claiming more is almost certainly
// lying about its own length; spec.md §4.3 requires overflow against the
// host's capability to be a hard fail; this is the Go-side of that
// check and also bounds allocation requested from the [Allocator].
const maxReasonableCount = 1 << 24

// parser holds the state threaded through one decode session's
// recursive-descent parse: the byte source, the decoded header, the
// configured depth bound, and the allocator. It is unexported and lives
// only inside the decoder's goroutine.
type parser struct {
	r        io.Reader
	hdr      header
	maxDepth int
	alloc    Allocator
	reserved int // bytes reserved against alloc so far this session
	scratch  [8]byte
}

func (p *parser) reserve(n int) error {
	if !p.alloc.Reserve(n) {
		return newError(ErrorKindAllocationFailure, "could not reserve %d bytes", n)
	}
	p.reserved += n
	return nil
}

// releaseAll returns every byte this session reserved back to alloc. The
// decoder calls it once the session reaches a terminal state (done or
// failed), matching spec.md §5's "on any failure path, every structure
// allocated by the session is freed": Go's garbage collector reclaims
// the actual memory, but the budget Reserve accounted for must still be
// returned so a host sharing one [Allocator] across many decode sessions
// (e.g. a long-running service) isn't permanently charged for sessions
// that have already ended.
func (p *parser) releaseAll() {
	if p.reserved != 0 {
		p.alloc.Release(p.reserved)
		p.reserved = 0
	}
}

// readHeader consumes and validates the 18-byte preamble.
func (p *parser) readHeader() error {
	var buf [18]byte
	if _, err := io.ReadFull(p.r, buf[:]); err != nil {
		return wrapReadError(err)
	}
	if !bytes.Equal(buf[0:4], luaSignature[:]) {
		return newError(ErrorKindMalformed, "bad signature")
	}
	if buf[4] != luaVersion52 {
		return newError(ErrorKindUnsupportedVersion, "version byte 0x%02x", buf[4])
	}
	if buf[5] != luaFormatOfficial {
		return newError(ErrorKindUnsupportedVersion, "non-official format byte 0x%02x", buf[5])
	}
	endian := buf[6]
	sizeInt := int(buf[7])
	sizeSizeT := int(buf[8])
	sizeIns := int(buf[9])
	sizeNumber := int(buf[10])
	// buf[11] is the integer/float constant-encoding byte; unused by the
	// verifier (spec.md §6), but still consumed as part of the header.
	if !bytes.Equal(buf[12:18], luaTail[:]) {
		return newError(ErrorKindMalformed, "bad tail")
	}
	if sizeInt == 0 || sizeSizeT == 0 || sizeIns == 0 || sizeNumber == 0 {
		return newError(ErrorKindMalformed, "zero-sized header field")
	}
	if sizeInt > 8 || sizeSizeT > 8 {
		return newError(ErrorKindMalformed, "oversized integer field")
	}
	if sizeIns < 4 {
		return newError(ErrorKindMalformed, "instruction_size %d too small for opcode layouts", sizeIns)
	}
	p.hdr = header{
		littleEndian: endian == 1,
		sizeInt:      sizeInt,
		sizeSizeT:    sizeSizeT,
		sizeIns:      sizeIns,
		sizeNumber:   sizeNumber,
	}
	return nil
}

// readUint reads an n-byte (n <= 8) integer field per the header's
// declared endianness, rejecting values that don't fit in the host int.
func (p *parser) readUint(n int) (uint64, error) {
	buf := p.scratch[:n]
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return 0, wrapReadError(err)
	}
	var v uint64
	if p.hdr.littleEndian {
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
	} else {
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(buf[i])
		}
	}
	return v, nil
}

// readCount reads a size_int-width count field, rejecting anything that
// overflows a host int or exceeds [maxReasonableCount].
func (p *parser) readCount() (int, error) {
	v, err := p.readUint(p.hdr.sizeInt)
	if err != nil {
		return 0, err
	}
	if v > maxReasonableCount {
		return 0, newError(ErrorKindMalformed, "count %d exceeds host limits", v)
	}
	return int(v), nil
}

func (p *parser) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, wrapReadError(err)
	}
	return b[0], nil
}

// skip discards n bytes.
func (p *parser) skip(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return newError(ErrorKindMalformed, "negative skip length")
	}
	if _, err := io.CopyN(io.Discard, p.r, int64(n)); err != nil {
		return wrapReadError(err)
	}
	return nil
}

// skipString skips one size_size_t-length-prefixed debug string.
func (p *parser) skipString() error {
	n, err := p.readUint(p.hdr.sizeSizeT)
	if err != nil {
		return err
	}
	if n > maxReasonableCount {
		return newError(ErrorKindMalformed, "string length %d exceeds host limits", n)
	}
	return p.skip(int(n))
}

func wrapReadError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return newError(ErrorKindTruncated, "unexpected end of input")
	}
	return newError(ErrorKindInternal, "%v", err)
}

// readInstructionWord reads one instruction_size-byte instruction and
// returns its 32-bit value.
func (p *parser) readInstructionWord() (Instruction, error) {
	n := p.hdr.sizeIns
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return 0, wrapReadError(err)
	}
	if n == 4 {
		return decodeInstructionWord(buf, p.hdr.littleEndian), nil
	}
	// size_ins > 4: the meaningful 32 bits are the low-order ones.
	if p.hdr.littleEndian {
		return decodeInstructionWord(buf[:4], true), nil
	}
	return decodeInstructionWord(buf[n-4:], false), nil
}

// decodeFunction parses one Prototype, recursing into child prototypes.
// depth is the nesting level of the function about to be parsed
// (the root prototype is depth 1).
func (p *parser) decodeFunction(depth int) (*Prototype, error) {
	if depth > p.maxDepth {
		return nil, newError(ErrorKindRecursionTooDeep, "prototype nesting exceeds limit of %d", p.maxDepth)
	}

	// line_defined, last_line_defined: not used by the verifier.
	if _, err := p.readUint(p.hdr.sizeInt); err != nil {
		return nil, err
	}
	if _, err := p.readUint(p.hdr.sizeInt); err != nil {
		return nil, err
	}

	numParams, err := p.readByte()
	if err != nil {
		return nil, err
	}
	isVarargByte, err := p.readByte()
	if err != nil {
		return nil, err
	}
	numRegs, err := p.readByte()
	if err != nil {
		return nil, err
	}

	proto := &Prototype{
		NumParams: numParams,
		IsVararg:  isVarargByte != 0,
		NumRegs:   numRegs,
	}
	if int(numParams) > int(numRegs) {
		return nil, newError(ErrorKindMalformed, "num_params %d exceeds num_regs %d", numParams, numRegs)
	}

	numInstr, err := p.readCount()
	if err != nil {
		return nil, err
	}
	if numInstr == 0 {
		return nil, newError(ErrorKindMalformed, "prototype has zero instructions")
	}
	if err := p.reserve(numInstr * 4); err != nil {
		return nil, err
	}
	proto.Code = make([]Instruction, numInstr)
	for i := range proto.Code {
		proto.Code[i], err = p.readInstructionWord()
		if err != nil {
			return nil, err
		}
	}

	numConst, err := p.readCount()
	if err != nil {
		return nil, err
	}
	if err := p.reserve(numConst); err != nil {
		return nil, err
	}
	proto.ConstantTypes = make([]ConstantType, numConst)
	for i := range proto.ConstantTypes {
		tag, err := p.readByte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case constTagNil:
			proto.ConstantTypes[i] = ConstantNil
		case constTagBoolean:
			v, err := p.readByte()
			if err != nil {
				return nil, err
			}
			if v != 0 && v != 1 {
				return nil, newError(ErrorKindMalformed, "invalid boolean constant payload 0x%02x", v)
			}
			proto.ConstantTypes[i] = ConstantBoolean
		case constTagNumber:
			if err := p.skip(p.hdr.sizeNumber); err != nil {
				return nil, err
			}
			proto.ConstantTypes[i] = ConstantNumber
		case constTagString:
			if err := p.skipString(); err != nil {
				return nil, err
			}
			proto.ConstantTypes[i] = ConstantString
		default:
			return nil, newError(ErrorKindMalformed, "invalid constant tag 0x%02x", tag)
		}
	}

	numProto, err := p.readCount()
	if err != nil {
		return nil, err
	}
	if err := p.reserve(numProto * 8); err != nil {
		return nil, err
	}
	proto.Prototypes = make([]*Prototype, numProto)
	for i := range proto.Prototypes {
		proto.Prototypes[i], err = p.decodeFunction(depth + 1)
		if err != nil {
			return nil, err
		}
	}

	numUpval, err := p.readCount()
	if err != nil {
		return nil, err
	}
	if err := p.reserve(numUpval * 2); err != nil {
		return nil, err
	}
	proto.Upvalues = make([]UpvalueDescriptor, numUpval)
	for i := range proto.Upvalues {
		inStack, err := p.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := p.readByte()
		if err != nil {
			return nil, err
		}
		proto.Upvalues[i] = UpvalueDescriptor{InStack: inStack != 0, Index: idx}
	}

	if err := p.skipDebug(); err != nil {
		return nil, err
	}

	return proto, nil
}

// skipDebug discards the source name, line info, local-variable table,
// and upvalue-name table: spec.md §4.3 step 2's final bullet. The
// verifier has no use for any of it.
func (p *parser) skipDebug() error {
	if err := p.skipString(); err != nil {
		return err
	}

	numLines, err := p.readCount()
	if err != nil {
		return err
	}
	if err := p.skip(numLines * p.hdr.sizeInt); err != nil {
		return err
	}

	numLocals, err := p.readCount()
	if err != nil {
		return err
	}
	for i := 0; i < numLocals; i++ {
		if err := p.skipString(); err != nil {
			return err
		}
		if err := p.skip(2 * p.hdr.sizeInt); err != nil {
			return err
		}
	}

	numUpvalNames, err := p.readCount()
	if err != nil {
		return err
	}
	for i := 0; i < numUpvalNames; i++ {
		if err := p.skipString(); err != nil {
			return err
		}
	}
	return nil
}
