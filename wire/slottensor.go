package wire

import (
	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/tensor"
)

// SlotHeaderMsg and TensorHeaderMsg give the in-slot slotHeader/tensorHeader
// encodings (seqlock.SlotHeader, tensor.Header) a standalone message-header
// framing, so they can be encoded and decoded outside of a live SHM slot
// (spec §4.8 message set).
type SlotHeaderMsg struct {
	seqlock.SlotHeader
}

const slotHeaderMsgBlockLen = 4 + 4 + 2 + 4 + 8 + 4 // 26

func (m *SlotHeaderMsg) Encode() []byte {
	w := NewWriter(HeaderSize + slotHeaderMsgBlockLen)
	hdr := Header{BlockLength: slotHeaderMsgBlockLen, TemplateID: TplSlotHeader, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.ValuesLenBytes)
	w.U32(m.PayloadSlot)
	w.U16(m.PoolID)
	w.U32(m.PayloadOffset)
	w.U64(m.TimestampNs)
	w.U32(m.MetaVersion)
	return w.Bytes()
}

func DecodeSlotHeaderMsg(b []byte) (*SlotHeaderMsg, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplSlotHeader, slotHeaderMsgBlockLen, false); err != nil {
		return nil, err
	}
	m := &SlotHeaderMsg{}
	if m.ValuesLenBytes, err = r.U32(); err != nil {
		return nil, err
	}
	if m.PayloadSlot, err = r.U32(); err != nil {
		return nil, err
	}
	if m.PoolID, err = r.U16(); err != nil {
		return nil, err
	}
	if m.PayloadOffset, err = r.U32(); err != nil {
		return nil, err
	}
	if m.TimestampNs, err = r.U64(); err != nil {
		return nil, err
	}
	if m.MetaVersion, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

type TensorHeaderMsg struct {
	tensor.Header
}

const tensorHeaderMsgBlockLen = uint16(tensor.EncodedSize)

func (m *TensorHeaderMsg) Encode() []byte {
	w := NewWriter(HeaderSize + int(tensorHeaderMsgBlockLen))
	hdr := Header{BlockLength: tensorHeaderMsgBlockLen, TemplateID: TplTensorHeader, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	var tb [tensor.EncodedSize]byte
	m.Header.Encode(tb[:])
	w.Raw(tb[:])
	return w.Bytes()
}

func DecodeTensorHeaderMsg(b []byte) (*TensorHeaderMsg, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplTensorHeader, tensorHeaderMsgBlockLen, false); err != nil {
		return nil, err
	}
	raw, err := r.Raw(tensor.EncodedSize)
	if err != nil {
		return nil, err
	}
	th, err := tensor.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &TensorHeaderMsg{Header: *th}, nil
}
