// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verify

import (
	"io"

	"lbcv.dev/verifier/internal/bytecode"
	"lbcv.dev/verifier/internal/deque"
)

// instRecord is the per-instruction, per-prototype bookkeeping of
// spec.md §3's "Instruction record": whether the instruction has ever
// been statically validated, whether it is currently in the worklist,
// and the merged entry state across all discovered predecessors (nil
// until the instruction is first reached). The intrusive "next_to_trace"
// link field of spec.md is realized instead as membership in [worklist],
// an [deque.Deque]-backed queue of pc indices, per Design Note #2 (§9).
type instRecord struct {
	seen   bool
	queued bool
	regs   *RegFile
}

// worklist is the O(1) enqueue/dequeue queue of pc indices that drives
// the fixed point, with an implicit "in-queue" predicate carried in each
// [instRecord]'s queued field rather than in the queue itself (so an
// instruction is never pushed twice).
type worklist struct {
	d *deque.Deque[int]
}

func newWorklist() worklist {
	return worklist{d: new(deque.Deque[int])}
}

func (w worklist) pushFront(pc int) {
	w.d.PushFront(pc)
}

func (w worklist) popFront() (int, bool) {
	pc, ok := w.d.Front()
	if ok {
		w.d.PopFront(1)
	}
	return pc, ok
}

func (w worklist) len() int {
	return w.d.Len()
}

// Verify runs the worklist fixed-point algorithm of spec.md §4.8 against
// proto, then recursively against each of proto's child prototypes with
// a fresh driver state, per spec.md §3's "there is no shared state
// between sibling verifications". It returns nil if proto (and its
// entire descendant tree) is accepted, or the first [*Error] encountered
// otherwise — verification aborts at the first failure and does not
// continue looking for others.
func Verify(proto *bytecode.Prototype) error {
	if err := verifyOne(proto); err != nil {
		return err
	}
	for _, child := range proto.Prototypes {
		if err := Verify(child); err != nil {
			return err
		}
	}
	return nil
}

// verifyOne runs the fixed point on proto alone, never descending into
// its children (that is [Verify]'s job, so that a failure in a child
// does not re-run the parent's already-converged analysis).
func verifyOne(proto *bytecode.Prototype) error {
	n := proto.NumInstructions()
	records := make([]instRecord, n)

	entry := NewRegFile(int(proto.NumRegs))
	for r := 0; r < int(proto.NumParams); r++ {
		entry.SetKnown(r)
	}
	records[0].regs = entry
	records[0].queued = true

	work := newWorklist()
	work.pushFront(0)

	for {
		pc, ok := work.popFront()
		if !ok {
			break
		}
		rec := &records[pc]
		rec.queued = false

		if !rec.seen {
			if err := checkStatic(proto, pc); err != nil {
				return err
			}
			rec.seen = true
		}

		exit, err := simulate(proto, pc, rec.regs)
		if err != nil {
			return err
		}
		if err := schedule(proto, records, work, pc, exit); err != nil {
			return err
		}
	}

	return nil
}

// Options configures [VerifyBytes].
type Options struct {
	// Allocator bounds the decode session's memory use. Nil means
	// [bytecode.NoLimitAllocator].
	Allocator bytecode.Allocator
	// MaxDepth bounds prototype nesting. Zero means
	// [bytecode.DefaultMaxDepth].
	MaxDepth int
}

// VerifyBytes is spec.md §6's synchronous "verify_bytes" entry point: it
// decodes all of r in one shot and, if decoding succeeds, verifies the
// result. It is a convenience composition of [bytecode.DecodeAll] and
// [Verify] for hosts that have the whole chunk available and don't need
// the decoder's resumability; hosts that receive bytecode incrementally
// should drive [bytecode.NewDecoder] themselves and call [Verify] on the
// prototype [bytecode.Decoder.Finish] returns.
func VerifyBytes(r io.Reader, opts Options) (ok bool, err error) {
	proto, err := bytecode.DecodeAll(r, opts.Allocator, opts.MaxDepth)
	if err != nil {
		return false, err
	}
	if err := Verify(proto); err != nil {
		return false, err
	}
	return true, nil
}
