// Package tensor implements the tensor header (spec §3 "Tensor header"):
// its in-memory shape, validation, and the codec used to encode it inside
// a header slot and inside a frameDescriptor's carried copy.
package tensor

import (
	"encoding/binary"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

type DType uint8

const (
	UINT8 DType = iota
	INT8
	UINT16
	INT16
	UINT32
	INT32
	UINT64
	INT64
	FLOAT32
	FLOAT64
	BOOL
	BYTES
	BIT
	dtypeCount
)

func (d DType) Valid() bool { return d < dtypeCount }

type MajorOrder uint8

const (
	ROW MajorOrder = iota
	COLUMN
	majorOrderCount
)

func (m MajorOrder) Valid() bool { return m < majorOrderCount }

type ProgressUnit uint8

const (
	NONE ProgressUnit = iota
	ROWS
	COLUMNS
	progressUnitCount
)

func (p ProgressUnit) Valid() bool { return p < progressUnitCount }

const MaxDims = 8

// Header is the tensor header living inside every header slot and inside
// the descriptor payload's carried copy.
type Header struct {
	DType                DType
	MajorOrder           MajorOrder
	NDims                uint8
	ProgressUnit         ProgressUnit
	ProgressStrideBytes  uint32
	Dims                 [MaxDims]uint32
	Strides              [MaxDims]uint32
}

// Validate rejects any invariant violation (spec §3): ndims<=8, valid enums,
// and it normalizes by zeroing unused dim/stride slots so that re-validating
// an already-valid header is idempotent (spec §8 property).
func (h *Header) Validate() error {
	if h.NDims > MaxDims {
		return cos.NewInvalidWireErr("tensor header: ndims %d exceeds max %d", h.NDims, MaxDims)
	}
	if !h.DType.Valid() {
		return cos.NewInvalidWireErr("tensor header: invalid dtype %d", h.DType)
	}
	if !h.MajorOrder.Valid() {
		return cos.NewInvalidWireErr("tensor header: invalid major_order %d", h.MajorOrder)
	}
	if !h.ProgressUnit.Valid() {
		return cos.NewInvalidWireErr("tensor header: invalid progress_unit %d", h.ProgressUnit)
	}
	for i := int(h.NDims); i < MaxDims; i++ {
		h.Dims[i] = 0
		h.Strides[i] = 0
	}
	return nil
}

// wire layout: dtype(1) major_order(1) ndims(1) progress_unit(1)
// progress_stride_bytes(4) dims(8x4) strides(8x4) = 8 + 64 = 72 bytes.
const EncodedSize = 8 + MaxDims*4*2

func (h *Header) Encode(b []byte) {
	if len(b) < EncodedSize {
		panic("tensor: encode buffer too small")
	}
	b[0] = byte(h.DType)
	b[1] = byte(h.MajorOrder)
	b[2] = h.NDims
	b[3] = byte(h.ProgressUnit)
	binary.LittleEndian.PutUint32(b[4:8], h.ProgressStrideBytes)
	off := 8
	for i := 0; i < MaxDims; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], h.Dims[i])
		off += 4
	}
	for i := 0; i < MaxDims; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], h.Strides[i])
		off += 4
	}
}

func Decode(b []byte) (*Header, error) {
	if len(b) < EncodedSize {
		return nil, cos.NewInvalidWireErr("tensor header: short buffer %d < %d", len(b), EncodedSize)
	}
	h := &Header{
		DType:               DType(b[0]),
		MajorOrder:          MajorOrder(b[1]),
		NDims:               b[2],
		ProgressUnit:        ProgressUnit(b[3]),
		ProgressStrideBytes: binary.LittleEndian.Uint32(b[4:8]),
	}
	off := 8
	for i := 0; i < MaxDims; i++ {
		h.Dims[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	for i := 0; i < MaxDims; i++ {
		h.Strides[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}
