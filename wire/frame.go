package wire

// FrameDescriptor is the sole trigger for consumer-side reads (spec §3
// "Descriptor"). Fixed block only, no variable fields.
type FrameDescriptor struct {
	StreamID    uint32
	Epoch       uint64
	Seq         uint64
	TimestampNs uint64
	MetaVersion uint32
	TraceID     uint64
}

const frameDescriptorBlockLen = 4 + 8 + 8 + 8 + 4 + 8 // 40

func (m *FrameDescriptor) Encode() []byte {
	w := NewWriter(HeaderSize + frameDescriptorBlockLen)
	hdr := Header{BlockLength: frameDescriptorBlockLen, TemplateID: TplFrameDescriptor, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.Epoch)
	w.U64(m.Seq)
	w.U64(m.TimestampNs)
	w.U32(m.MetaVersion)
	w.U64(m.TraceID)
	return w.Bytes()
}

func DecodeFrameDescriptor(b []byte) (*FrameDescriptor, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplFrameDescriptor, frameDescriptorBlockLen, false); err != nil {
		return nil, err
	}
	m := &FrameDescriptor{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.U64(); err != nil {
		return nil, err
	}
	if m.TimestampNs, err = r.U64(); err != nil {
		return nil, err
	}
	if m.MetaVersion, err = r.U32(); err != nil {
		return nil, err
	}
	if m.TraceID, err = r.U64(); err != nil {
		return nil, err
	}
	return m, nil
}

// FrameProgress corresponds to spec §3 "Frame progress record".
type ProgressState uint8

const (
	Started ProgressState = iota
	InProgress
	Complete
)

type FrameProgress struct {
	StreamID           uint32
	Epoch              uint64
	Seq                uint64
	PayloadBytesFilled uint64
	State              ProgressState
}

const frameProgressBlockLen = 4 + 8 + 8 + 8 + 1 // 29

func (m *FrameProgress) Encode() []byte {
	w := NewWriter(HeaderSize + frameProgressBlockLen)
	hdr := Header{BlockLength: frameProgressBlockLen, TemplateID: TplFrameProgress, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.Epoch)
	w.U64(m.Seq)
	w.U64(m.PayloadBytesFilled)
	w.U8(uint8(m.State))
	return w.Bytes()
}

func DecodeFrameProgress(b []byte) (*FrameProgress, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplFrameProgress, frameProgressBlockLen, false); err != nil {
		return nil, err
	}
	m := &FrameProgress{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.U64(); err != nil {
		return nil, err
	}
	if m.PayloadBytesFilled, err = r.U64(); err != nil {
		return nil, err
	}
	st, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.State = ProgressState(st)
	return m, nil
}
