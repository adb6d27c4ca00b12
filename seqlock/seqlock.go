// Package seqlock implements the per-slot seqlock word (spec §3 "Seqlock
// word", §5): a single 64-bit cell whose low bit is the commit flag and
// whose upper 63 bits are the sequence value. It is the only shared-memory
// concurrency primitive in the system -- single writer, any number of
// concurrent readers, torn-free.
package seqlock

import (
	"unsafe"

	"go.uber.org/atomic"
)

// Word aliases an 8-byte cell inside a mapped header slot. Callers obtain
// one via At() over a borrowed []byte view of the slot; it must never be
// copied out of the mapping.
type Word struct {
	a *atomic.Uint64
}

// At reinterprets the first 8 bytes of b as a seqlock Word. b must be at
// least 8 bytes and 8-byte aligned (true for any slot carved out of an mmap
// region at a 256-byte or stride_bytes multiple, both assumed >=8).
func At(b []byte) Word {
	if len(b) < 8 {
		panic("seqlock: slot too small for seqlock word")
	}
	return Word{a: (*atomic.Uint64)(unsafe.Pointer(&b[0]))}
}

// InProgress encodes the in-progress value for sequence seq: (seq<<1)|0.
func InProgress(seq uint64) uint64 { return seq << 1 }

// Committed encodes the committed value for sequence seq: (seq<<1)|1.
func Committed(seq uint64) uint64 { return (seq << 1) | 1 }

// IsCommitted reports whether raw is a committed value.
func IsCommitted(raw uint64) bool { return raw&1 == 1 }

// SeqOf extracts the sequence number carried by raw, regardless of whether
// it is the in-progress or committed encoding.
func SeqOf(raw uint64) uint64 { return raw >> 1 }

// Load performs an acquire load of the word.
func (w Word) Load() uint64 { return w.a.Load() }

// StoreInProgress performs a release store of the in-progress encoding --
// the writer's step before any payload write (spec §4.2 step 3).
func (w Word) StoreInProgress(seq uint64) { w.a.Store(InProgress(seq)) }

// StoreCommitted performs a release store of the committed encoding -- the
// writer's last step, ordered after every other write to the slot (spec
// §4.2 step 8, §5). Go's atomic.Uint64.Store is itself a release operation
// on amd64/arm64, so no additional fence is required beyond ordering the
// plain writes to the slot body before this call in program order.
func (w Word) StoreCommitted(seq uint64) { w.a.Store(Committed(seq)) }

// ReadResult is the outcome of a reader's bounded-retry attempt.
type ReadResult int

const (
	Ready ReadResult = iota
	NotReady
	GapOrLate
)

// TryRead performs the single-attempt seqlock read protocol (spec §5):
// acquire-load, check against the wanted sequence, and -- if committed for
// that sequence -- reload to confirm nothing changed between the two loads.
// It does NOT copy the slot body; callers must do that between the two
// loads returned via the copy callback, exactly mirroring the original's
// "read happens between reload checks" ordering.
func TryRead(w Word, wantSeq uint64, copyFn func()) ReadResult {
	first := w.Load()
	if !IsCommitted(first) {
		if SeqOf(first) == wantSeq {
			return NotReady
		}
		// in-progress for some other (always larger, monotonically
		// advancing) sequence: the wanted one was already overwritten.
		return GapOrLate
	}
	if SeqOf(first) != wantSeq {
		return GapOrLate
	}
	if copyFn != nil {
		copyFn()
	}
	second := w.Load()
	if second != first {
		return NotReady
	}
	return Ready
}
