// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import "lbcv.dev/verifier/internal/bytecode"

// rkKind reports the value kind an RK-mode field names: for a constant
// index, the constant's own type; for a register, whatever the register
// is currently known to hold.
func rkKind(proto *bytecode.Prototype, regs *RegFile, rk int) ValueKind {
	if bytecode.IsK(rk) {
		return KindOfConstant(proto.ConstantTypes[bytecode.KIndex(rk)])
	}
	if regs.IsNumber(rk) {
		return ValueNumber
	}
	if regs.IsTable(rk) {
		return ValueTable
	}
	return ValueUnknownType
}

// simulate computes the abstract exit state instruction pc produces
// given entry, per spec.md §4.6. It never mutates entry. The returned
// state is the basis schedule() uses to build each successor's
// predecessor contribution (spec.md §4.7); for most opcodes that basis
// is used as-is, but a handful of opcodes with branch-dependent effects
// (TESTSET, FORLOOP, TFORLOOP) are further mutated per
// successor by schedule() itself.
func simulate(proto *bytecode.Prototype, pc int, entry *RegFile) (*RegFile, error) {
	ins := proto.Code[pc]
	op := ins.OpCode()
	a, b, c := ins.A(), ins.B(), ins.C()

	exit := entry.Clone()
	exit.topBase = noTop

	if op.Mode() == bytecode.OpModeABC {
		if isRegisterRead(op.BMode(), b) && !entry.IsKnown(b) {
			return nil, rejectf(pc, "%s: B=%d is read but not known", op, b)
		}
		if isRegisterRead(op.CMode(), c) && !entry.IsKnown(c) {
			return nil, rejectf(pc, "%s: C=%d is read but not known", op, c)
		}
	}

	switch op {
	case bytecode.OpMove:
		if err := exit.Move(a, b); err != nil {
			return nil, rejectf(pc, "MOVE: %v", err)
		}

	case bytecode.OpLoadK:
		bx := ins.Bx()
		k := bx - 1
		if bx == 0 {
			next, err := nextInstruction(proto, pc)
			if err != nil {
				return nil, err
			}
			k = next.Ax()
		}
		exit.Assignment(a, KindOfConstant(proto.ConstantTypes[k]))

	case bytecode.OpLoadNil:
		for r := a; r <= b; r++ {
			exit.Assignment(r, ValueUnknownType)
		}

	case bytecode.OpSetTable:
		if !entry.IsKnown(a) {
			return nil, rejectf(pc, "SETTABLE: A=%d is not known", a)
		}

	case bytecode.OpNewTable:
		exit.SetTable(a)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		exit.Assignment(a, ValueUnknownType)
		if rkKind(proto, entry, b) == ValueNumber && rkKind(proto, entry, c) == ValueNumber {
			exit.SetNumber(a)
		}

	case bytecode.OpUnm:
		exit.Assignment(a, ValueUnknownType)
		if entry.IsNumber(b) {
			exit.SetNumber(a)
		}

	case bytecode.OpConcat:
		for r := b; r <= c; r++ {
			if !entry.IsKnown(r) {
				return nil, rejectf(pc, "CONCAT: R%d is not known", r)
			}
		}
		exit.Assignment(a, ValueUnknownType)

	case bytecode.OpTest:
		if !entry.IsKnown(a) {
			return nil, rejectf(pc, "TEST: A=%d is not known", a)
		}

	case bytecode.OpCall, bytecode.OpTailCall:
		exit.UnsetKnownTop(a + 1)
		if op == bytecode.OpCall && c == 0 {
			exit.SetTop(a)
		} else if op == bytecode.OpCall {
			for r := a; r <= a+c-2; r++ {
				exit.Assignment(r, ValueUnknownType)
			}
		} else {
			exit.SetTop(a)
		}
		if b == 0 {
			if !entry.UseTop(a + 1) {
				return nil, rejectf(pc, "%s: top not usable from A+1=%d", op, a+1)
			}
			if !entry.IsKnown(a) {
				return nil, rejectf(pc, "%s: A=%d is not known", op, a)
			}
		} else {
			for r := a; r <= a+b-1; r++ {
				if !entry.IsKnown(r) {
					return nil, rejectf(pc, "%s: R%d is not known", op, r)
				}
			}
		}
		for r := a; r < int(proto.NumRegs); r++ {
			if entry.IsOpen(r) {
				return nil, rejectf(pc, "%s: open upvalue at R%d in call range", op, r)
			}
		}

	case bytecode.OpReturn:
		if b == 0 {
			if !entry.UseTop(a) {
				return nil, rejectf(pc, "RETURN: top not usable from A=%d", a)
			}
		} else {
			for r := a; r <= a+b-2; r++ {
				if !entry.IsKnown(r) {
					return nil, rejectf(pc, "RETURN: R%d is not known", r)
				}
			}
		}

	case bytecode.OpForLoop:
		if !entry.IsNumber(a) || !entry.IsNumber(a+1) || !entry.IsNumber(a+2) {
			return nil, rejectf(pc, "FORLOOP: R%d..R%d are not all numbers", a, a+2)
		}

	case bytecode.OpForPrep:
		for r := a; r < a+3; r++ {
			if !entry.IsKnown(r) {
				return nil, rejectf(pc, "FORPREP: R%d is not known", r)
			}
			exit.SetNumber(r)
		}

	case bytecode.OpTForCall:
		exit.UnsetKnownTop(a + 4)
		for r := a + 3; r < int(proto.NumRegs); r++ {
			if entry.IsOpen(r) {
				return nil, rejectf(pc, "TFORCALL: open upvalue at R%d", r)
			}
		}
		if !entry.IsKnown(a) || !entry.IsKnown(a+1) || !entry.IsKnown(a+2) {
			return nil, rejectf(pc, "TFORCALL: R%d..R%d are not all known", a, a+2)
		}
		for r := a + 3; r <= a+2+c; r++ {
			exit.Assignment(r, ValueUnknownType)
		}
		if !entry.IsKnown(a + 1) {
			return nil, rejectf(pc, "TFORCALL: A+1=%d is not known", a+1)
		}

	case bytecode.OpTForLoop:
		if !entry.IsKnown(a + 1) {
			return nil, rejectf(pc, "TFORLOOP: A+1=%d is not known", a+1)
		}

	case bytecode.OpSetList:
		if !entry.IsTable(a) {
			return nil, rejectf(pc, "SETLIST: A=%d is not a table", a)
		}
		if b == 0 && !entry.UseTop(a) {
			return nil, rejectf(pc, "SETLIST: top not usable from A=%d", a)
		}
		for r := a + 1; r <= a+b; r++ {
			if !entry.IsKnown(r) {
				return nil, rejectf(pc, "SETLIST: R%d is not known", r)
			}
		}

	case bytecode.OpClose:
		for r := a; r < int(proto.NumRegs); r++ {
			exit.flags[r] &^= flagOpen
		}

	case bytecode.OpClosure:
		exit.Assignment(a, ValueUnknownType)
		child := proto.Prototypes[ins.Bx()]
		for _, uv := range child.Upvalues {
			if !uv.InStack {
				continue
			}
			reg := int(uv.Index)
			if !exit.IsKnown(reg) {
				return nil, rejectf(pc, "CLOSURE: captured R%d is not known", reg)
			}
			exit.SetOpen(reg)
		}

	case bytecode.OpVararg:
		if b == 0 {
			exit.SetTop(a)
		} else {
			for r := a; r <= a+b-2; r++ {
				exit.Assignment(r, ValueUnknownType)
			}
		}

	case bytecode.OpSelf:
		if err := exit.Move(a+1, b); err != nil {
			return nil, rejectf(pc, "SELF: %v", err)
		}
		if !bytecode.IsK(c) && !exit.IsKnown(c) {
			return nil, rejectf(pc, "SELF: C=%d is not known", c)
		}
		if op.SetsA() {
			exit.Assignment(a, ValueUnknownType)
		}

	default:
		if op.SetsA() {
			exit.Assignment(a, ValueUnknownType)
		}
	}

	return exit, nil
}

// isRegisterRead reports whether a field using the given mode is read as
// a plain register in the simulation preamble: mode is Reg, or mode is
// RK and v does not name a constant.
func isRegisterRead(mode bytecode.ArgMode, v int) bool {
	switch mode {
	case bytecode.ArgReg:
		return true
	case bytecode.ArgRK:
		return !bytecode.IsK(v)
	default:
		return false
	}
}
