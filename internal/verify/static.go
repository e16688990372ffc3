// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import "lbcv.dev/verifier/internal/bytecode"

// checkStatic runs the opcode-metadata-driven and opcode-specific static
// checks of spec.md §4.5 against instruction pc of proto. It inspects
// only the instruction's fields and the prototype's declared sizes,
// never register state, and runs exactly once per instruction (the
// caller is responsible for that, per spec.md §4.8).
func checkStatic(proto *bytecode.Prototype, pc int) error {
	ins := proto.Code[pc]
	op := ins.OpCode()
	if !op.Valid() {
		return rejectf(pc, "unknown opcode %d", op)
	}

	a, b, c := ins.A(), ins.B(), ins.C()

	if op.SetsA() && !proto.ValidRegister(a) {
		return rejectf(pc, "%s: A=%d is not a valid register", op, a)
	}
	if op.Mode() == bytecode.OpModeABC {
		if err := checkArgMode(proto, pc, op, op.BMode(), b, 'B'); err != nil {
			return err
		}
		if err := checkArgMode(proto, pc, op, op.CMode(), c, 'C'); err != nil {
			return err
		}
	}
	if op.IsTest() {
		if err := requireFollowedByJump(proto, pc); err != nil {
			return err
		}
	}

	switch op {
	case bytecode.OpLoadK:
		bx := ins.Bx()
		if bx == 0 {
			next, err := nextInstruction(proto, pc)
			if err != nil {
				return err
			}
			if next.OpCode() != bytecode.OpExtraArg || !proto.ValidConstant(next.Ax()) {
				return rejectf(pc, "LOADK: Bx=0 but following EXTRAARG does not name a valid constant")
			}
		} else if !proto.ValidConstant(bx - 1) {
			return rejectf(pc, "LOADK: Bx-1=%d is not a valid constant", bx-1)
		}

	case bytecode.OpLoadBool:
		if b != 0 && b != 1 {
			return rejectf(pc, "LOADBOOL: B=%d is not 0 or 1", b)
		}

	case bytecode.OpLoadNil:
		if !proto.ValidRegister(b) || b < a {
			return rejectf(pc, "LOADNIL: B=%d is not a valid register >= A=%d", b, a)
		}

	case bytecode.OpGetUpval, bytecode.OpGetTabUp, bytecode.OpSetUpval:
		if !proto.ValidUpvalue(b) {
			return rejectf(pc, "%s: B=%d is not a valid upvalue", op, b)
		}

	case bytecode.OpSetTabUp:
		if !proto.ValidUpvalue(a) {
			return rejectf(pc, "SETTABUP: A=%d is not a valid upvalue", a)
		}

	case bytecode.OpSelf:
		if !proto.ValidRegister(a + 1) {
			return rejectf(pc, "SELF: A+1=%d is not a valid register", a+1)
		}
		if err := checkArgMode(proto, pc, op, bytecode.ArgRK, c, 'C'); err != nil {
			return err
		}

	case bytecode.OpConcat:
		if c <= b {
			return rejectf(pc, "CONCAT: C=%d is not greater than B=%d", c, b)
		}

	case bytecode.OpCall:
		if c >= 3 && !proto.ValidRegister(a+c-2) {
			return rejectf(pc, "CALL: A+C-2=%d is not a valid register", a+c-2)
		}
		if b >= 2 && !proto.ValidRegister(a+b-1) {
			return rejectf(pc, "CALL: A+B-1=%d is not a valid register", a+b-1)
		}

	case bytecode.OpTailCall:
		if b >= 2 && !proto.ValidRegister(a+b-1) {
			return rejectf(pc, "TAILCALL: A+B-1=%d is not a valid register", a+b-1)
		}

	case bytecode.OpTForLoop:
		if !proto.ValidRegister(a + 1) {
			return rejectf(pc, "TFORLOOP: A+1=%d is not a valid register", a+1)
		}

	case bytecode.OpReturn:
		if b != 1 && !proto.ValidRegister(a) {
			return rejectf(pc, "RETURN: A=%d is not a valid register", a)
		}

	case bytecode.OpVararg:
		if !proto.IsVararg {
			return rejectf(pc, "VARARG: prototype is not vararg")
		}
		if b >= 3 && !proto.ValidRegister(a+b-2) {
			return rejectf(pc, "VARARG: A+B-2=%d is not a valid register", a+b-2)
		}

	case bytecode.OpTForCall:
		if !proto.ValidRegister(a + 2 + c) {
			return rejectf(pc, "TFORCALL: A+2+C=%d is not a valid register", a+2+c)
		}

	case bytecode.OpForLoop:
		if !proto.ValidRegister(a + 3) {
			return rejectf(pc, "FORLOOP: A+3=%d is not a valid register", a+3)
		}

	case bytecode.OpForPrep:
		if !proto.ValidRegister(a + 2) {
			return rejectf(pc, "FORPREP: A+2=%d is not a valid register", a+2)
		}

	case bytecode.OpSetList:
		if !proto.ValidRegister(a) {
			return rejectf(pc, "SETLIST: A=%d is not a valid register", a)
		}
		if c == 0 {
			next, err := nextInstruction(proto, pc)
			if err != nil {
				return err
			}
			if next.OpCode() != bytecode.OpExtraArg {
				return rejectf(pc, "SETLIST: C=0 but next instruction is not EXTRAARG")
			}
		}

	case bytecode.OpClose:
		if !proto.ValidRegister(a) {
			return rejectf(pc, "CLOSE: A=%d is not a valid register", a)
		}

	case bytecode.OpClosure:
		if !proto.ValidPrototype(ins.Bx()) {
			return rejectf(pc, "CLOSURE: Bx=%d is not a valid child prototype", ins.Bx())
		}
		child := proto.Prototypes[ins.Bx()]
		for i, uv := range child.Upvalues {
			if uv.InStack {
				if !proto.ValidRegister(int(uv.Index)) {
					return rejectf(pc, "CLOSURE: child upvalue %d names invalid parent register %d", i, uv.Index)
				}
			} else if !proto.ValidUpvalue(int(uv.Index)) {
				return rejectf(pc, "CLOSURE: child upvalue %d names invalid parent upvalue %d", i, uv.Index)
			}
		}
	}

	return nil
}

// checkArgMode validates one B or C field against its [bytecode.ArgMode],
// identifying the field as 'B' or 'C' in error messages.
func checkArgMode(proto *bytecode.Prototype, pc int, op bytecode.OpCode, mode bytecode.ArgMode, v int, field byte) error {
	switch mode {
	case bytecode.ArgUnused:
		return nil
	case bytecode.ArgReg:
		if !proto.ValidRegister(v) {
			return rejectf(pc, "%s: %c=%d is not a valid register", op, field, v)
		}
	case bytecode.ArgConst:
		if !proto.ValidConstant(v) {
			return rejectf(pc, "%s: %c=%d is not a valid constant", op, field, v)
		}
	case bytecode.ArgRK:
		if bytecode.IsK(v) {
			if !proto.ValidConstant(bytecode.KIndex(v)) {
				return rejectf(pc, "%s: %c names constant %d, not valid", op, field, bytecode.KIndex(v))
			}
		} else if !proto.ValidRegister(v) {
			return rejectf(pc, "%s: %c=%d is not a valid register", op, field, v)
		}
	}
	return nil
}

// nextInstruction returns the instruction following pc, failing if pc is
// the last instruction in proto.
func nextInstruction(proto *bytecode.Prototype, pc int) (bytecode.Instruction, error) {
	if pc+1 >= proto.NumInstructions() {
		return 0, rejectf(pc, "expected a following instruction, but this is the last one")
	}
	return proto.Code[pc+1], nil
}

// requireFollowedByJump enforces T-mode: a test opcode must be
// immediately followed by JMP.
func requireFollowedByJump(proto *bytecode.Prototype, pc int) error {
	next, err := nextInstruction(proto, pc)
	if err != nil {
		return err
	}
	if next.OpCode() != bytecode.OpJmp {
		return rejectf(pc, "test opcode not followed by JMP")
	}
	return nil
}
