package seqlock

import (
	"encoding/binary"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// SlotHeader is the fixed header written at S[8..] immediately after the
// seqlock word (spec §4.2 step 5). Followed by a 4-byte length prefix and
// the encoded tensor header, all within the 256-byte slot.
type SlotHeader struct {
	ValuesLenBytes uint32
	PayloadSlot    uint32
	PoolID         uint16
	PayloadOffset  uint32
	TimestampNs    uint64
	MetaVersion    uint32
	// 26-byte pad, always zeroed on encode.
}

const (
	SlotBytes       = 256
	slotHeaderSize  = 4 + 4 + 2 + 4 + 8 + 4 // 26
	padSize         = 26
	tensorLenPrefix = 4
)

// Offsets within a slot, after the 8-byte seqlock word.
const (
	offValuesLen    = 8
	offPayloadSlot  = offValuesLen + 4
	offPoolID       = offPayloadSlot + 4
	offPayloadOff   = offPoolID + 2
	offTimestamp    = offPayloadOff + 4
	offMetaVersion  = offTimestamp + 8
	offPad          = offMetaVersion + 4
	offTensorLen    = offPad + padSize
	offTensor       = offTensorLen + tensorLenPrefix
)

func init() {
	// sanity: slot header + pad must fit before the tensor length prefix.
	if offTensorLen != 8+slotHeaderSize+padSize {
		panic("seqlock: slot header layout drifted")
	}
}

// EncodeSlotHeader writes the slot header and zeroes the pad region at b[8:].
// b must be the full 256-byte slot.
func EncodeSlotHeader(b []byte, h *SlotHeader) {
	if len(b) < SlotBytes {
		panic("seqlock: slot buffer too small")
	}
	binary.LittleEndian.PutUint32(b[offValuesLen:], h.ValuesLenBytes)
	binary.LittleEndian.PutUint32(b[offPayloadSlot:], h.PayloadSlot)
	binary.LittleEndian.PutUint16(b[offPoolID:], h.PoolID)
	binary.LittleEndian.PutUint32(b[offPayloadOff:], h.PayloadOffset)
	binary.LittleEndian.PutUint64(b[offTimestamp:], h.TimestampNs)
	binary.LittleEndian.PutUint32(b[offMetaVersion:], h.MetaVersion)
	for i := offPad; i < offPad+padSize; i++ {
		b[i] = 0
	}
}

func DecodeSlotHeader(b []byte) (*SlotHeader, error) {
	if len(b) < SlotBytes {
		return nil, cos.NewInvalidWireErr("seqlock: slot buffer too small: %d", len(b))
	}
	return &SlotHeader{
		ValuesLenBytes: binary.LittleEndian.Uint32(b[offValuesLen:]),
		PayloadSlot:    binary.LittleEndian.Uint32(b[offPayloadSlot:]),
		PoolID:         binary.LittleEndian.Uint16(b[offPoolID:]),
		PayloadOffset:  binary.LittleEndian.Uint32(b[offPayloadOff:]),
		TimestampNs:    binary.LittleEndian.Uint64(b[offTimestamp:]),
		MetaVersion:    binary.LittleEndian.Uint32(b[offMetaVersion:]),
	}, nil
}

// TensorRegion writes the 4-byte length prefix for the tensor header
// that follows the pad region, and returns the slice the tensor header
// bytes should be copied into.
func TensorRegion(b []byte, tensorLen int) []byte {
	binary.LittleEndian.PutUint32(b[offTensorLen:], uint32(tensorLen))
	return b[offTensor : offTensor+tensorLen]
}

func DecodeTensorLen(b []byte) int {
	return int(binary.LittleEndian.Uint32(b[offTensorLen:]))
}

func TensorBytes(b []byte) []byte {
	n := DecodeTensorLen(b)
	return b[offTensor : offTensor+n]
}

// ValidateStrideAlignment is a best-effort advisory check that a payload
// pool's stride is aligned to the cache line size (64 bytes when cacheLine
// is 0) (spec §4.1 validate_superblock). It only reports the result; callers
// decide whether to log or hard-fail.
func ValidateStrideAlignment(strideBytes uint32, cacheLine uint32) bool {
	if cacheLine == 0 {
		cacheLine = 64
	}
	return strideBytes%cacheLine == 0
}
