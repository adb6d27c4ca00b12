// Package trace implements the 64-bit trace id generator (spec §4.9):
// (timestamp_ms << (node_bits+seq_bits)) | (node << seq_bits) | seq, with
// strict monotonicity across concurrent callers and a guarantee of never
// returning zero.
package trace

import (
	"time"

	"go.uber.org/atomic"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// BitSplit configures how the composite id's bits are divided between
// node id and sequence; timestamp gets whatever remains of 63 bits (bit 63
// is never set so the value is never interpreted as negative if cast to
// int64, and 0 can only occur if every field is 0, which Next() forbids).
type BitSplit struct {
	NodeBits uint
	SeqBits  uint
}

var DefaultBitSplit = BitSplit{NodeBits: 10, SeqBits: 12}

// Generator is a process-global monotonic id source. ClockOffsetMs is
// subtracted from the wall clock so that small deployments can keep the
// timestamp component small; it must not be in the future at Init (spec §5
// "Timeouts": "trace-id offset clock must not be in the future at init").
type Generator struct {
	split     BitSplit
	nodeID    uint64
	offsetMs  int64
	combined  atomic.Uint64 // packed (timestampMs << seqBits) | seq, used for the CAS loop
}

// combined word layout: we reuse the low seqBits for sequence and the rest
// for a monotonic logical-millisecond counter (not the raw node-shifted id,
// to keep the CAS loop's arithmetic independent of NodeBits).

func NewGenerator(nodeID uint64, split BitSplit, offsetMs int64) (*Generator, error) {
	if split.NodeBits+split.SeqBits >= 63 {
		return nil, cos.NewConfigErr("trace: node_bits+seq_bits must leave room for a timestamp field")
	}
	maxNode := uint64(1)<<split.NodeBits - 1
	if nodeID > maxNode {
		return nil, cos.NewConfigErr("trace: node id %d exceeds %d bits", nodeID, split.NodeBits)
	}
	nowMs := time.Now().UnixMilli()
	if offsetMs > nowMs {
		return nil, cos.NewConfigErr("trace: clock offset %dms is in the future", offsetMs)
	}
	g := &Generator{split: split, nodeID: nodeID, offsetMs: offsetMs}
	return g, nil
}

func (g *Generator) nowMs() int64 { return time.Now().UnixMilli() - g.offsetMs }

// Next returns the next strictly-increasing composite id. It spins on clock
// regression until the previously published timestamp is reached (spec
// §4.9(b)), and bumps the sequence within the same millisecond, resetting it
// on advancement.
func (g *Generator) Next() uint64 {
	seqMask := uint64(1)<<g.split.SeqBits - 1
	for {
		prev := g.combined.Load()
		prevMs := int64(prev >> g.split.SeqBits)
		prevSeq := prev & seqMask

		nowMs := g.nowMs()
		var newMs int64
		var newSeq uint64
		switch {
		case nowMs > prevMs:
			newMs = nowMs
			newSeq = 0
		case nowMs == prevMs:
			if prevSeq == seqMask {
				// sequence exhausted this millisecond: wait for the clock
				// to advance rather than overflow into the timestamp field.
				continue
			}
			newMs = prevMs
			newSeq = prevSeq + 1
		default:
			// clock regression: spin until we catch back up to prevMs.
			continue
		}
		next := uint64(newMs)<<g.split.SeqBits | newSeq
		if g.combined.CompareAndSwap(prev, next) {
			id := uint64(newMs)<<(g.split.NodeBits+g.split.SeqBits) | g.nodeID<<g.split.SeqBits | newSeq
			if id == 0 {
				// can only happen if newMs==0 (i.e. offsetMs == now at
				// process start) and node/seq are both 0; retry on the next
				// millisecond tick rather than ever surface a zero id.
				continue
			}
			return id
		}
	}
}

// Decompose splits a composite id back into (timestampMs, node, seq) using
// the generator's own bit split -- used by tests.
func (g *Generator) Decompose(id uint64) (timestampMs int64, node uint64, seq uint64) {
	seqMask := uint64(1)<<g.split.SeqBits - 1
	nodeMask := uint64(1)<<g.split.NodeBits - 1
	seq = id & seqMask
	node = (id >> g.split.SeqBits) & nodeMask
	timestampMs = int64(id >> (g.split.NodeBits + g.split.SeqBits))
	return
}
