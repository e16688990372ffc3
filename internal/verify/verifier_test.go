// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import (
	"strings"
	"testing"

	"lbcv.dev/verifier/internal/bytecode"
)

// proto is a small builder for hand-crafted prototypes, mirroring
// spec.md §8's "described by source that compiles to them" scenarios
// without needing a real Lua compiler in the test binary.
func proto(numParams, numRegs byte, isVararg bool, code ...bytecode.Instruction) *bytecode.Prototype {
	return &bytecode.Prototype{
		Code:      code,
		NumParams: numParams,
		NumRegs:   numRegs,
		IsVararg:  isVararg,
	}
}

// Scenario 1: "return" compiles to a single RETURN 0 1.
func TestVerifyEmptyReturn(t *testing.T) {
	p := proto(0, 2, false, bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0))
	if err := Verify(p); err != nil {
		t.Errorf("Verify(empty-return) = %v; want nil", err)
	}
}

// Scenario 2: RETURN 1 2 reads R1, which is never written.
func TestVerifyUninitializedReadRejected(t *testing.T) {
	p := proto(0, 2, false,
		bytecode.NewInstructionABC(bytecode.OpReturn, 1, 2, 0),
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	if err := Verify(p); err == nil {
		t.Error("Verify(uninitialized read) = nil; want rejection")
	}
}

// Scenario 3: a numeric for loop. LOADK 0,1,2 (R0=init, R1=limit,
// R2=step), FORPREP jumping to FORLOOP, FORLOOP jumping back.
func TestVerifyForLoop(t *testing.T) {
	p := proto(0, 4, false,
		bytecode.NewInstructionABx(bytecode.OpLoadK, 0, 1),     // R0 = K0 (init); Bx is 1-biased
		bytecode.NewInstructionABx(bytecode.OpLoadK, 1, 1),     // R1 = K0 (limit)
		bytecode.NewInstructionABx(bytecode.OpLoadK, 2, 1),     // R2 = K0 (step)
		bytecode.NewInstructionAsBx(bytecode.OpForPrep, 0, 0),  // -> pc 4 (FORLOOP), the next instruction
		bytecode.NewInstructionAsBx(bytecode.OpForLoop, 0, -1), // body is empty: loops back to itself
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0), // loop exit, fall-through of FORLOOP
	)
	p.ConstantTypes = []bytecode.ConstantType{bytecode.ConstantNumber}
	if err := Verify(p); err != nil {
		t.Errorf("Verify(for-loop) = %v; want nil", err)
	}
}

// Scenario 4: ADD 0 256 256 where constant 256 (K0, since 256 has the K
// bit set and KIndex(256)=0) is a string, not a number. Structurally
// valid; accepted with R0 known but not number-typed, since ADD's own
// type-safety is a runtime concern, not a static one (spec.md §8
// scenario 4).
func TestVerifyAddOnStringConstantsAccepted(t *testing.T) {
	rk := bytecode.KBit | 0
	p := proto(0, 1, false,
		bytecode.NewInstructionABC(bytecode.OpAdd, 0, rk, rk),
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	p.ConstantTypes = []bytecode.ConstantType{bytecode.ConstantString}
	if err := Verify(p); err != nil {
		t.Errorf("Verify(ADD on string constants) = %v; want nil (type-unsafety is a runtime concern)", err)
	}
}

func TestVerifyOutOfBoundsRegisterRejected(t *testing.T) {
	p := proto(0, 2, false,
		bytecode.NewInstructionABC(bytecode.OpMove, 5, 0, 0),
	)
	if err := Verify(p); err == nil {
		t.Error("Verify(out-of-bounds register) = nil; want rejection")
	}
}

func TestVerifyJumpOutOfRangeRejected(t *testing.T) {
	p := proto(0, 1, false,
		bytecode.NewInstructionAsBx(bytecode.OpJmp, 0, 100),
	)
	if err := Verify(p); err == nil {
		t.Error("Verify(jump out of instruction array) = nil; want rejection")
	}
}

func TestVerifyTestNotFollowedByJumpRejected(t *testing.T) {
	p := proto(0, 1, false,
		bytecode.NewInstructionABC(bytecode.OpTest, 0, 0, 0),
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	if err := Verify(p); err == nil {
		t.Error("Verify(T-mode opcode not followed by JMP) = nil; want rejection")
	}
}

// A CLOSURE whose child captures a parent register (InStack) is accepted
// when that register is known at the CLOSURE: here LOADNIL defines R0
// before the CLOSURE in R1 captures it as an open upvalue.
func TestVerifyClosureCapturesParentRegister(t *testing.T) {
	child := proto(0, 1, false, bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0))
	child.Upvalues = []bytecode.UpvalueDescriptor{{InStack: true, Index: 0}}

	p := proto(0, 2, false,
		bytecode.NewInstructionABC(bytecode.OpLoadNil, 0, 0, 0), // R0 known
		bytecode.NewInstructionABx(bytecode.OpClosure, 1, 0),    // captures R0 as open upvalue
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	p.Prototypes = []*bytecode.Prototype{child}

	if err := Verify(p); err != nil {
		t.Errorf("Verify(closure capturing parent register) = %v; want nil", err)
	}
}

func TestVerifyClosureCapturingUnknownRegisterRejected(t *testing.T) {
	child := proto(0, 1, false, bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0))
	child.Upvalues = []bytecode.UpvalueDescriptor{{InStack: true, Index: 0}}

	p := proto(0, 2, false,
		bytecode.NewInstructionABx(bytecode.OpClosure, 1, 0), // R0 never set
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	p.Prototypes = []*bytecode.Prototype{child}

	if err := Verify(p); err == nil {
		t.Error("Verify(closure capturing unknown register) = nil; want rejection")
	}
}

func TestVerifyRecursesIntoChildPrototypes(t *testing.T) {
	badChild := proto(0, 2, false,
		bytecode.NewInstructionABC(bytecode.OpReturn, 1, 2, 0), // reads uninitialized R1
	)
	p := proto(0, 1, false,
		bytecode.NewInstructionABx(bytecode.OpClosure, 0, 0),
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	p.Prototypes = []*bytecode.Prototype{badChild}

	if err := Verify(p); err == nil {
		t.Error("Verify(parent with rejected child) = nil; want rejection")
	}
}

// Soundness, parameters known: spec.md §8's first testable property.
func TestEntryStateParametersKnown(t *testing.T) {
	p := proto(2, 4, false,
		bytecode.NewInstructionABC(bytecode.OpMove, 2, 0, 0), // R2 = R0: only legal if R0 known
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	if err := Verify(p); err != nil {
		t.Errorf("Verify(read of in-range parameter) = %v; want nil", err)
	}

	p2 := proto(2, 4, false,
		bytecode.NewInstructionABC(bytecode.OpMove, 0, 3, 0), // R3 is not a parameter
		bytecode.NewInstructionABC(bytecode.OpReturn, 0, 1, 0),
	)
	if err := Verify(p2); err == nil {
		t.Error("Verify(read of non-parameter register at entry) = nil; want rejection")
	}
}

// VerifyBytes composes decode and verify for the non-resumable case.
func TestVerifyBytesRejectsGarbage(t *testing.T) {
	ok, err := VerifyBytes(strings.NewReader("not lua bytecode"), Options{})
	if ok || err == nil {
		t.Errorf("VerifyBytes(garbage) = (%v, %v); want (false, non-nil)", ok, err)
	}
}
