package consumer

import (
	"time"

	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/tpcmn/cos"
)

const defaultReadDeadline = 100 * time.Millisecond

// ReadFrame implements spec §4.5's read_frame: compute i = seq mod nslots,
// attempt the seqlock protocol, and retry on NotReady until deadline, after
// which a still-not-ready result is reported as GapOrLate (a descriptor for
// this seq should already have arrived by then; anything still in-progress
// this long indicates the writer lapped the reader).
func (c *Consumer) ReadFrame(seq uint64, out *Frame) (ReadResult, error) {
	c.mu.Lock()
	header := c.header
	pools := c.pools
	nslots := c.cfg.HeaderNSlots
	c.mu.Unlock()
	if header == nil {
		return ErrResult, cos.NewNotReadyErr("consumer: not attached")
	}

	i := uint32(seq % uint64(nslots))
	off := 64 + int(i)*seqlock.SlotBytes
	view := header.View()
	if off+seqlock.SlotBytes > len(view) {
		return ErrResult, cos.NewLayoutMismatchErr("consumer: slot index %d out of range", i)
	}
	slot := view[off : off+seqlock.SlotBytes]
	w := seqlock.At(slot)

	var poolStride uint32
	deadline := time.Now().Add(defaultReadDeadline)
	for {
		var sh *seqlock.SlotHeader
		var th *tensor.Header
		var poolView []byte
		res := seqlock.TryRead(w, seq, func() {
			sh, _ = seqlock.DecodeSlotHeader(slot)
			tb := seqlock.TensorBytes(slot)
			th, _ = tensor.Decode(tb)
			if pool := pools[sh.PoolID]; pool != nil {
				poolView = pool.View()
			}
			poolStride = c.strideOf(sh.PoolID)
		})
		switch res {
		case seqlock.Ready:
			if out != nil && sh != nil {
				out.SlotHeader = *sh
				if th != nil {
					out.TensorHdr = *th
				}
				out.Payload = slicePayload(poolView, sh, poolStride)
			}
			return Ok, nil
		case seqlock.GapOrLate:
			return ErrResult, cos.NewGapOrLateErr("consumer: seq %d is stale or overwritten", seq)
		case seqlock.NotReady:
			if time.Now().After(deadline) {
				return ErrResult, cos.NewGapOrLateErr("consumer: seq %d not ready within read deadline", seq)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// strideOf returns the configured stride for poolID, used to locate a
// slot's payload within its pool (spec §4.2 step 1: P = pool_p + 64 +
// i*stride_p).
func (c *Consumer) strideOf(poolID uint16) uint32 {
	for _, pb := range c.cfg.Pools {
		if pb.PoolID == poolID {
			return pb.StrideBytes
		}
	}
	return 0
}

// slicePayload extracts exactly the committed payload bytes for the slot
// from the pool's full view: the slot's base is 64 + payload_slot*stride,
// offset further by the header's payload_offset field, length values_len_bytes.
func slicePayload(poolView []byte, sh *seqlock.SlotHeader, stride uint32) []byte {
	if poolView == nil || sh == nil || stride == 0 {
		return nil
	}
	base := 64 + int(sh.PayloadSlot)*int(stride)
	start := base + int(sh.PayloadOffset)
	end := start + int(sh.ValuesLenBytes)
	if start < 0 || end > len(poolView) {
		return nil
	}
	return poolView[start:end]
}
