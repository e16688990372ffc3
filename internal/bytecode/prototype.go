// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

// ConstantType names a constant's Lua type tag, nothing more: spec.md
// §3 is explicit that "the values themselves are discarded after
// validation" — the verifier only ever needs to know whether a constant
// is a number or not, a string or not, and so on, never its value.
type ConstantType uint8

// The constant types the Lua 5.2 dump format allows. The numbering is
// this package's own; the decoder maps the on-disk tag bytes (nil 0,
// boolean 1, number 3, string 4) onto it.
const (
	ConstantNil ConstantType = iota
	ConstantBoolean
	ConstantNumber
	ConstantString
)

func (t ConstantType) String() string {
	switch t {
	case ConstantNil:
		return "nil"
	case ConstantBoolean:
		return "boolean"
	case ConstantNumber:
		return "number"
	case ConstantString:
		return "string"
	default:
		return "ConstantType(?)"
	}
}

// UpvalueDescriptor records where one of a function's upvalues is
// captured from, per spec.md §3.
type UpvalueDescriptor struct {
	// InStack is true if the upvalue is captured from a register of the
	// enclosing function (in which case Index is a register index), or
	// false if it is captured from one of the enclosing function's own
	// upvalues (in which case Index is an upvalue index).
	InStack bool
	Index   uint8
}

// Prototype is the fully decoded body of one Lua function, as defined by
// spec.md §3. It never holds constant values, source names, or line
// tables: the debug section is skipped by the decoder, and constants are
// reduced to their type tags.
type Prototype struct {
	// Code holds NumInstructions 4-byte instruction words, already
	// normalized to host byte order by the decoder.
	Code []Instruction

	// ConstantTypes holds one entry per constant, naming its type.
	ConstantTypes []ConstantType

	// Prototypes holds this function's nested function definitions, in
	// declaration order.
	Prototypes []*Prototype

	// Upvalues holds one descriptor per upvalue this function captures.
	Upvalues []UpvalueDescriptor

	NumParams uint8
	IsVararg  bool
	NumRegs   uint8
}

// NumInstructions returns the number of decoded instructions.
func (p *Prototype) NumInstructions() int {
	return len(p.Code)
}

// NumConstants returns the number of decoded constants.
func (p *Prototype) NumConstants() int {
	return len(p.ConstantTypes)
}

// NumUpvalues returns the number of decoded upvalue descriptors.
func (p *Prototype) NumUpvalues() int {
	return len(p.Upvalues)
}

// ValidRegister reports whether r names a register in this function's
// window, i.e. r is in [0, NumRegs).
func (p *Prototype) ValidRegister(r int) bool {
	return r >= 0 && r < int(p.NumRegs)
}

// ValidConstant reports whether k names a constant, i.e. k is in
// [0, NumConstants()).
func (p *Prototype) ValidConstant(k int) bool {
	return k >= 0 && k < len(p.ConstantTypes)
}

// ValidUpvalue reports whether u names an upvalue, i.e. u is in
// [0, NumUpvalues()).
func (p *Prototype) ValidUpvalue(u int) bool {
	return u >= 0 && u < len(p.Upvalues)
}

// ValidPrototype reports whether i names a child prototype index.
func (p *Prototype) ValidPrototype(i int) bool {
	return i >= 0 && i < len(p.Prototypes)
}
