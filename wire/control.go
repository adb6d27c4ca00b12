package wire

// ConsumerMode mirrors the registry entry's `mode` field (spec §3).
type ConsumerMode uint8

const (
	ModeNormal ConsumerMode = iota
	ModeRateLimited
)

// ConsumerHello is sent by a consumer on the control stream on attach/re-attach.
// URI_MAX_LENGTH governs DescriptorChannel/ControlChannel; over-length
// channels are silently cleared by the registry rather than failing the
// hello (spec §4.4).
const URIMaxLength = 256

type ConsumerHello struct {
	ConsumerID              uint64
	Mode                    ConsumerMode
	MaxRateHz               uint32 // NullU32 if unset
	SupportsProgress        bool
	ProgressIntervalUs      uint32 // NullU32 if unset
	ProgressBytesDelta      uint64 // NullU64 if unset
	ProgressMajorDeltaUnits int64  // verbatim, see SPEC_FULL.md open-question decision
	DescriptorStreamID      uint32 // NullU32 if unset
	ControlStreamID         uint32 // NullU32 if unset
	DescriptorChannel       string
	ControlChannel          string
}

const consumerHelloBlockLen = 8 + 1 + 4 + 1 + 4 + 8 + 8 + 4 + 4 // 42

func (m *ConsumerHello) Encode() []byte {
	w := NewWriter(128)
	hdr := Header{BlockLength: consumerHelloBlockLen, TemplateID: TplConsumerHello, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.ConsumerID)
	w.U8(uint8(m.Mode))
	w.U32(m.MaxRateHz)
	sp := uint8(0)
	if m.SupportsProgress {
		sp = 1
	}
	w.U8(sp)
	w.U32(m.ProgressIntervalUs)
	w.U64(m.ProgressBytesDelta)
	w.U64(uint64(m.ProgressMajorDeltaUnits))
	w.U32(m.DescriptorStreamID)
	w.U32(m.ControlStreamID)
	w.Str(m.DescriptorChannel)
	w.Str(m.ControlChannel)
	return w.Bytes()
}

func DecodeConsumerHello(b []byte) (*ConsumerHello, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplConsumerHello, consumerHelloBlockLen, false); err != nil {
		return nil, err
	}
	m := &ConsumerHello{}
	if m.ConsumerID, err = r.U64(); err != nil {
		return nil, err
	}
	mode, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Mode = ConsumerMode(mode)
	if m.MaxRateHz, err = r.U32(); err != nil {
		return nil, err
	}
	sp, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.SupportsProgress = sp != 0
	if m.ProgressIntervalUs, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ProgressBytesDelta, err = r.U64(); err != nil {
		return nil, err
	}
	mdu, err := r.U64()
	if err != nil {
		return nil, err
	}
	m.ProgressMajorDeltaUnits = int64(mdu)
	if m.DescriptorStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ControlStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.DescriptorChannel, err = r.Str(); err != nil {
		return nil, err
	}
	if m.ControlChannel, err = r.Str(); err != nil {
		return nil, err
	}
	if len(m.DescriptorChannel) > URIMaxLength {
		m.DescriptorChannel = ""
		m.DescriptorStreamID = NullU32
	}
	if len(m.ControlChannel) > URIMaxLength {
		m.ControlChannel = ""
		m.ControlStreamID = NullU32
	}
	return m, nil
}

// ConsumerConfig is the producer's reply to a hello.
type ConsumerConfig struct {
	StreamID                   uint32
	Epoch                      uint64
	AssignedDescriptorStreamID uint32
	AssignedControlStreamID    uint32
}

const consumerConfigBlockLen = 4 + 8 + 4 + 4 // 20

func (m *ConsumerConfig) Encode() []byte {
	w := NewWriter(HeaderSize + consumerConfigBlockLen)
	hdr := Header{BlockLength: consumerConfigBlockLen, TemplateID: TplConsumerConfig, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.Epoch)
	w.U32(m.AssignedDescriptorStreamID)
	w.U32(m.AssignedControlStreamID)
	return w.Bytes()
}

func DecodeConsumerConfig(b []byte) (*ConsumerConfig, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplConsumerConfig, consumerConfigBlockLen, false); err != nil {
		return nil, err
	}
	m := &ConsumerConfig{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.U64(); err != nil {
		return nil, err
	}
	if m.AssignedDescriptorStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.AssignedControlStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

// ControlResponse is a generic correlated ack/nack used across the control
// and driver-control streams.
type ControlCode uint8

const (
	CtlOK ControlCode = iota
	CtlInvalidParams
	CtlRejected
	CtlUnsupported
	CtlInternalError
)

type ControlResponse struct {
	CorrelationID uint64
	Code          ControlCode
	Message       string
}

const controlResponseBlockLen = 8 + 1 // 9

func (m *ControlResponse) Encode() []byte {
	w := NewWriter(64)
	hdr := Header{BlockLength: controlResponseBlockLen, TemplateID: TplControlResponse, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U8(uint8(m.Code))
	w.Str(m.Message)
	return w.Bytes()
}

func DecodeControlResponse(b []byte) (*ControlResponse, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplControlResponse, controlResponseBlockLen, false); err != nil {
		return nil, err
	}
	m := &ControlResponse{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	code, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Code = ControlCode(code)
	if m.Message, err = r.Str(); err != nil {
		return nil, err
	}
	return m, nil
}
