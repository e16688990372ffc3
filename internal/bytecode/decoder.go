// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import "io"

// Status is the result of one [Decoder.Pump] call, matching spec.md
// §4.3's pump return values.
type Status int

const (
	// StatusYield means the supplied bytes were fully consumed and the
	// decoder is waiting for more.
	StatusYield Status = iota
	// StatusFail means the input is structurally invalid; decoding has
	// stopped for good.
	StatusFail
	// StatusInternalError means the decoder hit a condition that should
	// be unreachable from any input.
	StatusInternalError
	// StatusOutOfMemory means the configured [Allocator] refused a
	// reservation.
	StatusOutOfMemory
)

func (s Status) String() string {
	switch s {
	case StatusYield:
		return "YIELD"
	case StatusFail:
		return "FAIL"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	default:
		return "Status(?)"
	}
}

// DefaultMaxDepth is the prototype-nesting depth [NewDecoder] enforces
// when no explicit limit is given.
const DefaultMaxDepth = 200

// chanReader is an io.Reader whose Read blocks until bytes are handed to
// it across toReader, or toReader is closed (signaling no more bytes
// will ever come). Each time it has copied out the last byte of a chunk
// (at once for a zero-length chunk) it sends one signal on fromReader.
// It is the bridge that lets [parser]'s ordinary
// blocking, straight-line parse code run inside a single goroutine while
// [Decoder.Pump] feeds it chunk by chunk — the coroutine-based
// realization of resumability that spec.md's Design Notes §9 explicitly
// sanction as an alternative to a hand-rolled state machine.
type chanReader struct {
	toReader   <-chan []byte
	fromReader chan<- struct{}
	buf        []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		chunk, ok := <-r.toReader
		if !ok {
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.fromReader <- struct{}{}
	}
	return n, nil
}

// Decoder is a resumable Lua 5.2 bytecode decoder: spec.md §4.3's
// init/pump/finish state machine. A Decoder must eventually have
// [Decoder.Finish] called on it exactly once, even if the caller gives
// up early, or its parse goroutine leaks blocked forever — the same
// contract as the C implementation's "finish must be callable at any
// time ... and frees any partial state."
type Decoder struct {
	toReader   chan []byte
	fromReader chan struct{}
	done       chan struct{}

	result *Prototype
	err    error

	finished bool
}

// NewDecoder allocates a decode session using alloc as its memory budget
// and rejecting prototype nesting deeper than maxDepth. A nil alloc is
// equivalent to [NoLimitAllocator]; a maxDepth <= 0 is equivalent to
// [DefaultMaxDepth].
func NewDecoder(alloc Allocator, maxDepth int) *Decoder {
	if alloc == nil {
		alloc = NoLimitAllocator
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	d := &Decoder{
		toReader: make(chan []byte),
		// fromReader is buffered by one so the parser goroutine's "chunk
		// fully consumed" signal never blocks on Pump being there to
		// receive it; Pump waits for that signal (or for the parser to
		// finish) after each hand-off, so it returns only once the chunk
		// it handed over has been copied out.
		fromReader: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	reader := &chanReader{toReader: d.toReader, fromReader: d.fromReader}
	p := &parser{r: reader, maxDepth: maxDepth, alloc: alloc}

	go func() {
		defer close(d.done)
		defer p.releaseAll()
		if err := p.readHeader(); err != nil {
			d.err = err
			return
		}
		root, err := p.decodeFunction(1)
		if err != nil {
			d.err = err
			return
		}
		var extra [1]byte
		n, err := reader.Read(extra[:])
		if n > 0 {
			d.err = newError(ErrorKindSurplusInput, "unexpected trailing byte after root prototype")
			return
		}
		if err != nil && err != io.EOF {
			d.err = err
			return
		}
		d.result = root
	}()

	return d
}

// Pump feeds the decoder the next chunk of bytes, which may be any
// length including zero. It never blocks longer than it takes the
// parser to either exhaust the chunk (returning [StatusYield]) or reach
// a terminal state.
func (d *Decoder) Pump(chunk []byte) Status {
	if d.finished {
		return StatusFail
	}
	select {
	case d.toReader <- chunk:
		select {
		case <-d.fromReader:
			return StatusYield
		case <-d.done:
			d.finished = true
			return d.terminalStatus()
		}
	case <-d.done:
		d.finished = true
		return d.terminalStatus()
	}
}

func (d *Decoder) terminalStatus() Status {
	if d.err == nil {
		return StatusYield // done without error means Finish should be called
	}
	var be *Error
	if errAs(d.err, &be) {
		if be.Kind == ErrorKindAllocationFailure {
			return StatusOutOfMemory
		}
		if be.Kind == ErrorKindInternal {
			return StatusInternalError
		}
	}
	return StatusFail
}

// Finish ends the decode session. If the state machine had reached
// "done" cleanly with no surplus bytes remaining, it returns the root
// prototype and a nil error. Otherwise it returns a nil prototype and
// the terminal error (which is [ErrorKindTruncated] if end-of-input
// arrived before the parse completed). Finish is idempotent: calling it
// again returns the same result.
func (d *Decoder) Finish() (*Prototype, error) {
	if !d.finished {
		close(d.toReader)
		<-d.done
		d.finished = true
	}
	return d.result, d.err
}

// errAs is a tiny local stand-in for errors.As specialized to *Error,
// avoiding an import cycle concern with wrapped sentinel comparisons
// elsewhere in the package.
func errAs(err error, target **Error) bool {
	be, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = be
	return true
}

// DecodeAll is the non-resumable convenience form: it pumps all of r's
// bytes in one shot and finishes. Hosts that already have the whole
// chunk in memory (most CLI and HTTP-service callers) use this instead
// of driving [NewDecoder] by hand.
func DecodeAll(r io.Reader, alloc Allocator, maxDepth int) (*Prototype, error) {
	d := NewDecoder(alloc, maxDepth)
	data, err := io.ReadAll(r)
	if err != nil {
		d.Finish()
		return nil, newError(ErrorKindInternal, "reading input: %v", err)
	}
	d.Pump(data)
	return d.Finish()
}
