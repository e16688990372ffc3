// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import "sync/atomic"

// Allocator lets a host impose and observe a memory budget on a decode
// session, standing in for spec.md §6's "(user_data, old_ptr, old_size,
// new_size) → new_ptr | null" callback (Design Note #5, §9). Go's
// garbage collector performs the actual allocation; Reserve's job is the
// one thing spec.md's allocator does that the GC does not: let the host
// refuse a request before it is made, with a false return standing in
// for the C allocator's null.
type Allocator interface {
	// Reserve accounts for n additional bytes of session state and
	// reports whether the session may proceed. A false return causes
	// decoding to fail with [ErrorKindAllocationFailure].
	Reserve(n int) bool

	// Release returns n bytes to the budget. The decoder calls it once,
	// when a session ends, with the session's total reservation.
	Release(n int)
}

// NoLimitAllocator never refuses a reservation: the "default to the
// platform allocator when the host has no opinion" case of Design
// Note #5.
type noLimitAllocator struct{}

func (noLimitAllocator) Reserve(int) bool { return true }
func (noLimitAllocator) Release(int)      {}

// NoLimitAllocator is the zero-configuration [Allocator]: it imposes no
// budget at all.
var NoLimitAllocator Allocator = noLimitAllocator{}

// BoundedAllocator is an [Allocator] that rejects any reservation once a
// fixed byte budget is exhausted, for hosts decoding bytecode from an
// untrusted source that want a hard ceiling on memory committed to a
// single decode session regardless of what the header's size fields
// claim.
type BoundedAllocator struct {
	limit int64
	used  atomic.Int64
}

// NewBoundedAllocator returns an [Allocator] that allows at most limit
// bytes to be reserved at any one time.
func NewBoundedAllocator(limit int64) *BoundedAllocator {
	return &BoundedAllocator{limit: limit}
}

func (b *BoundedAllocator) Reserve(n int) bool {
	if n <= 0 {
		return true
	}
	for {
		used := b.used.Load()
		next := used + int64(n)
		if next > b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, next) {
			return true
		}
	}
}

func (b *BoundedAllocator) Release(n int) {
	if n <= 0 {
		return
	}
	b.used.Add(-int64(n))
}
