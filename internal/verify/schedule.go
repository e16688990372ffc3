// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import (
	"lbcv.dev/verifier/internal/bytecode"
)

// schedule enqueues pc's successor instruction(s), using exit (the state
// [simulate] computed) as the predecessor contribution, per spec.md
// §4.7. Three opcodes (TESTSET, FORLOOP, TFORLOOP) make a
// branch-dependent change to that state before one of their two
// successors sees it; LOADBOOL only chooses its single successor.
// schedule mutates a
// private clone of exit for that purpose, one successor at a time, the
// same order-dependent way the grounding C source reuses its single
// scratch register-state buffer across sequential enqueue calls.
func schedule(proto *bytecode.Prototype, records []instRecord, work worklist, pc int, exit *RegFile) error {
	ins := proto.Code[pc]
	op := ins.OpCode()
	a, b, c := ins.A(), ins.B(), ins.C()

	scratch := exit.Clone()

	switch op {
	case bytecode.OpLoadBool:
		target := pc + 1
		if c != 0 {
			target = pc + 2
		}
		return enqueue(proto, records, work, target, scratch)

	case bytecode.OpReturn:
		return nil

	case bytecode.OpTestSet:
		if err := enqueue(proto, records, work, pc+2, scratch); err != nil {
			return err
		}
		if err := scratch.Move(a, b); err != nil {
			return rejectf(pc, "TESTSET: %v", err)
		}
		return enqueue(proto, records, work, pc+1, scratch)

	case bytecode.OpForLoop:
		if err := enqueue(proto, records, work, pc+1, scratch); err != nil {
			return err
		}
		if err := scratch.Move(a+3, a); err != nil {
			return rejectf(pc, "FORLOOP: %v", err)
		}
		return enqueue(proto, records, work, pc+1+ins.SBx(), scratch)

	case bytecode.OpTForLoop:
		if err := enqueue(proto, records, work, pc+1, scratch); err != nil {
			return err
		}
		if err := scratch.Move(a, a+1); err != nil {
			return rejectf(pc, "TFORLOOP: %v", err)
		}
		return enqueue(proto, records, work, pc+1+ins.SBx(), scratch)

	default:
		if op.IsTest() {
			if err := enqueue(proto, records, work, pc+2, scratch); err != nil {
				return err
			}
		}
		target := pc + 1
		if op.Mode() == bytecode.OpModeAsBx {
			target = pc + 1 + ins.SBx()
		}
		return enqueue(proto, records, work, target, scratch)
	}
}

// enqueue records state as target's predecessor contribution, merging
// with any existing entry state, and arms target for (re)processing if
// its entry state is new or changed (spec.md §4.7's enqueue rule).
func enqueue(proto *bytecode.Prototype, records []instRecord, work worklist, target int, state *RegFile) error {
	if target < 0 || target >= proto.NumInstructions() {
		return rejectf(target, "jump target out of range")
	}
	rec := &records[target]
	if rec.regs == nil {
		rec.regs = state.Clone()
	} else {
		switch rec.regs.Merge(state) {
		case MergeIncompatible:
			return rejectf(target, "incompatible register states merge at a join point")
		case MergeUnchanged:
			return nil
		}
	}
	if !rec.queued {
		rec.queued = true
		work.pushFront(target)
	}
	return nil
}
