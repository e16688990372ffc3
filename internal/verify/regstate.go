// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import (
	"errors"

	"lbcv.dev/verifier/internal/bytecode"
)

// regFlag is the per-register flag byte of spec.md §3 "Register state".
type regFlag uint8

const (
	flagKnown regFlag = 1 << iota
	flagOpen
	flagTable
	flagNumber
)

const flagTypeMask = flagTable | flagNumber

// ValueKind is the type tag [RegFile.Assignment] records for a newly
// defined register: spec.md §4.6's NONE/NIL/NUMBER/TABLE/FUNCTION
// collapse to the three kinds the register-state lattice actually
// distinguishes.
type ValueKind uint8

const (
	// ValueUnknownType is a known value of no tracked type (nil,
	// boolean, string, function, or any other non-table non-number
	// value).
	ValueUnknownType ValueKind = iota
	ValueNumber
	ValueTable
)

// KindOfConstant maps a decoded constant's type tag to the [ValueKind]
// [RegFile.Assignment] should use for it (spec.md §4.6 LOADK).
func KindOfConstant(t bytecode.ConstantType) ValueKind {
	if t == bytecode.ConstantNumber {
		return ValueNumber
	}
	return ValueUnknownType
}

// noTop is the sentinel top_base value meaning "no variable-results top
// is live", spec.md §3.
const noTop = -1

// RegFile is the per-instruction register-window snapshot of spec.md
// §3: a top_base paired with one flag byte per register. The zero value
// is not valid; use [NewRegFile].
type RegFile struct {
	topBase int
	flags   []regFlag
}

// NewRegFile returns a RegFile for a window of numRegs registers, all
// unknown, with no variable top live.
func NewRegFile(numRegs int) *RegFile {
	return &RegFile{topBase: noTop, flags: make([]regFlag, numRegs)}
}

// Clone returns an independent copy of r.
func (r *RegFile) Clone() *RegFile {
	c := &RegFile{topBase: r.topBase, flags: make([]regFlag, len(r.flags))}
	copy(c.flags, r.flags)
	return c
}

// NumRegs returns the size of the register window.
func (r *RegFile) NumRegs() int { return len(r.flags) }

// TopBase returns the current top_base, or -1 if no variable top is live.
func (r *RegFile) TopBase() int { return r.topBase }

func (r *RegFile) IsKnown(reg int) bool { return r.flags[reg]&flagKnown != 0 }
func (r *RegFile) IsOpen(reg int) bool  { return r.flags[reg]&flagOpen != 0 }
func (r *RegFile) IsTable(reg int) bool { return r.flags[reg]&flagTable != 0 }
func (r *RegFile) IsNumber(reg int) bool {
	return r.flags[reg]&flagNumber != 0
}

// SetKnown marks reg as holding a defined, untyped value.
func (r *RegFile) SetKnown(reg int) {
	r.flags[reg] |= flagKnown
}

// SetOpen marks reg as captured by an enclosing closure. Type bits are
// cleared: open upvalues are unityped to the analysis.
func (r *RegFile) SetOpen(reg int) {
	r.flags[reg] |= flagOpen
	r.flags[reg] &^= flagTypeMask
}

// SetTable marks reg as holding a known table value, unless reg is
// currently an open upvalue, in which case the type bit stays clear.
func (r *RegFile) SetTable(reg int) {
	r.setTyped(reg, flagTable)
}

// SetNumber marks reg as holding a known number value, unless reg is
// currently an open upvalue.
func (r *RegFile) SetNumber(reg int) {
	r.setTyped(reg, flagNumber)
}

func (r *RegFile) setTyped(reg int, bit regFlag) {
	if r.IsOpen(reg) {
		return
	}
	r.flags[reg] = r.flags[reg]&^flagTypeMask | bit | flagKnown
}

// UnsetKnown clears the known and type bits of reg, leaving its
// open-upvalue bit untouched.
func (r *RegFile) UnsetKnown(reg int) {
	r.flags[reg] &^= flagKnown | flagTypeMask
}

// UnsetKnownTop clears the known and type bits of every register from
// reg to the end of the window.
func (r *RegFile) UnsetKnownTop(reg int) {
	for i := reg; i < len(r.flags); i++ {
		r.UnsetKnown(i)
	}
}

// errOpenUnknown is returned by [RegFile.Move] when the destination was
// an open upvalue and the source was unknown.
var errOpenUnknown = errors.New("move would leave an open upvalue without a known value")

// Move copies src's known+type bits into dst but preserves dst's own
// open-upvalue bit (src's open-upvalue bit, if any, is not propagated):
// spec.md §4.4 and Design Note §9's "clears all but the open-upvalue bit
// of the destination before OR-ing in the source bits".
func (r *RegFile) Move(dst, src int) error {
	wasOpen := r.IsOpen(dst)
	newFlags := r.flags[dst]&flagOpen | r.flags[src]&^flagOpen
	r.flags[dst] = newFlags
	if wasOpen && newFlags&flagKnown == 0 {
		return errOpenUnknown
	}
	return nil
}

// Assignment marks reg known and records kind. Unlike [RegFile.SetTable]
// and [RegFile.SetNumber], this always clears the type bits first, even
// if reg is an open upvalue — it only skips re-setting them in that
// case (an open upvalue is unityped to the analysis either way).
func (r *RegFile) Assignment(reg int, kind ValueKind) {
	r.flags[reg] |= flagKnown
	r.flags[reg] &^= flagTypeMask
	switch kind {
	case ValueNumber:
		r.SetNumber(reg)
	case ValueTable:
		r.SetTable(reg)
	}
}

// SetTop records base as the new top_base and clears type bits (not
// known bits) from base upward: those registers may now hold
// variable-count call/vararg results.
func (r *RegFile) SetTop(base int) {
	r.topBase = base
	for i := base; i < len(r.flags); i++ {
		r.flags[i] &^= flagTypeMask
	}
}

// UseTop reports whether top_base >= base and every register in
// [base, top_base) is known.
func (r *RegFile) UseTop(base int) bool {
	if r.topBase < base {
		return false
	}
	for i := base; i < r.topBase; i++ {
		if !r.IsKnown(i) {
			return false
		}
	}
	return true
}

// MergeResult reports what [RegFile.Merge] did.
type MergeResult int

const (
	MergeUnchanged MergeResult = iota
	MergeChanged
	MergeIncompatible
)

// Merge folds other into r as the conservative meet of the two states
// (spec.md §4.4), returning whether r changed, and is the verifier's
// single monotone fixed-point operator.
func (r *RegFile) Merge(other *RegFile) MergeResult {
	changed := false

	newTop := min(r.topBase, other.topBase)
	if newTop != r.topBase {
		changed = true
	}

	for i := range r.flags {
		newFlags := r.flags[i] & other.flags[i]
		eitherOpen := r.flags[i]&flagOpen != 0 || other.flags[i]&flagOpen != 0
		if eitherOpen {
			newFlags |= flagOpen
			if newFlags&flagKnown == 0 {
				return MergeIncompatible
			}
			newFlags &^= flagTypeMask
		}
		if newFlags != r.flags[i] {
			changed = true
		}
		r.flags[i] = newFlags
	}
	r.topBase = newTop

	if changed {
		return MergeChanged
	}
	return MergeUnchanged
}
