// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import "encoding/binary"

// Field widths and positions for the Lua 5.2 iABC/iABx/iAsBx/iAx
// instruction layouts (lopcodes.h SIZE_*/POS_* constants). All four
// layouts pack into a single 32-bit word.
const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC
	sizeAx = sizeA + sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC
	posAx = posA
)

// MaxArgBx and MaxArgSBx are the largest unsigned and signed values an
// Bx/sBx field can hold.
const (
	MaxArgA   = 1<<sizeA - 1
	MaxArgB   = 1<<sizeB - 1
	MaxArgC   = 1<<sizeC - 1
	MaxArgBx  = 1<<sizeBx - 1
	MaxArgSBx = MaxArgBx >> 1
	MaxArgAx  = 1<<sizeAx - 1
)

// KBit marks a B or C field as a constant-table index rather than a
// register index (spec.md §4.1's RK encoding).
const KBit = 1 << (sizeB - 1)

// Instruction is a decoded Lua 5.2 instruction word. Field extraction is
// plain shift/mask on a Go integer, per spec.md Design Note #4: the word
// is assembled once (honoring the bytecode's declared endianness) and
// never re-read at a byte level afterward.
type Instruction uint32

// decodeInstructionWord reads one instruction_size-byte word from raw,
// honoring littleEndian, and returns it widened into a uint32. Lua 5.2's
// three iABC/iABx/iAsBx fields and the iAx field all fit within 32 bits
// (6+8+9+9 = 32, 8+9+9 = 26), so any instruction_size >= 4 carries its
// meaningful bits in its first 4 bytes; this function requires raw to be
// at least 4 bytes (the decoder rejects instruction_size < 4 earlier).
func decodeInstructionWord(raw []byte, littleEndian bool) Instruction {
	if littleEndian {
		return Instruction(binary.LittleEndian.Uint32(raw))
	}
	return Instruction(binary.BigEndian.Uint32(raw))
}

// OpCode returns the instruction's opcode field.
func (ins Instruction) OpCode() OpCode {
	return OpCode(ins >> posOp & (1<<sizeOp - 1))
}

// A returns the instruction's A field, valid for all four layouts.
func (ins Instruction) A() int {
	return int(ins >> posA & (1<<sizeA - 1))
}

// B returns the instruction's B field (iABC layout only).
func (ins Instruction) B() int {
	return int(ins >> posB & (1<<sizeB - 1))
}

// C returns the instruction's C field (iABC layout only).
func (ins Instruction) C() int {
	return int(ins >> posC & (1<<sizeC - 1))
}

// Bx returns the instruction's unsigned wide field (iABx layout).
func (ins Instruction) Bx() int {
	return int(ins >> posBx & (1<<sizeBx - 1))
}

// SBx returns the instruction's signed wide field (iAsBx layout):
// Bx biased by MaxArgSBx.
func (ins Instruction) SBx() int {
	return ins.Bx() - MaxArgSBx
}

// Ax returns the instruction's extra-large field (iAx layout).
func (ins Instruction) Ax() int {
	return int(ins >> posAx & (1<<sizeAx - 1))
}

// IsK reports whether an RK-mode B or C field value names a constant
// (rather than a register).
func IsK(rk int) bool {
	return rk&KBit != 0
}

// KIndex extracts the constant-table index from an RK-mode field value
// for which [IsK] is true.
func KIndex(rk int) int {
	return rk &^ KBit
}

// NewInstructionABC packs an opcode and its A, B, C fields into an
// iABC-layout word. Exported for callers that hand-assemble bytecode
// directly rather than going through the decoder — this package's own
// tests, internal/verify's tests, and internal/verifycli's "inspect"
// disassembly round trip all use it.
func NewInstructionABC(op OpCode, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC)
}

// NewInstructionABx packs an opcode, A, and the wide unsigned Bx field.
func NewInstructionABx(op OpCode, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

// NewInstructionAsBx packs an opcode, A, and the wide signed sBx field
// (biasing it into Bx's on-disk unsigned encoding).
func NewInstructionAsBx(op OpCode, a, sbx int) Instruction {
	return NewInstructionABx(op, a, sbx+MaxArgSBx)
}

// NewInstructionAx packs an opcode and the extra-wide Ax field.
func NewInstructionAx(op OpCode, ax int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(ax)<<posAx)
}

func encodeInstruction(op OpCode, a, b, c int) Instruction { return NewInstructionABC(op, a, b, c) }
func encodeInstructionABx(op OpCode, a, bx int) Instruction { return NewInstructionABx(op, a, bx) }
func encodeInstructionAsBx(op OpCode, a, sbx int) Instruction {
	return NewInstructionAsBx(op, a, sbx)
}
func encodeInstructionAx(op OpCode, ax int) Instruction { return NewInstructionAx(op, ax) }
