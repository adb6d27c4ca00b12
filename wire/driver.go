package wire

// Role mirrors spec §4.6 attach request role.
type Role uint8

const (
	RoleProducer Role = iota
	RoleConsumer
)

type PublishMode uint8

const (
	RequireExisting PublishMode = iota
	ExistingOrCreate
)

type HugepagesRequirement uint8

const (
	HugepagesUnspecified HugepagesRequirement = iota
	HugepagesStandard
	HugepagesRequired
)

// ShmAttachRequest is the client->driver attach request (spec §4.6).
type ShmAttachRequest struct {
	CorrelationID         uint64
	StreamID              uint32
	ClientID              uint64
	Role                  Role
	ExpectedLayoutVersion uint32
	PublishMode           PublishMode
	RequireHugepages      HugepagesRequirement
	DesiredNodeID         uint32 // NullU32 if unset
}

const shmAttachRequestBlockLen = 8 + 4 + 8 + 1 + 4 + 1 + 1 + 4 // 31

func (m *ShmAttachRequest) Encode() []byte {
	w := NewWriter(HeaderSize + shmAttachRequestBlockLen)
	hdr := Header{BlockLength: shmAttachRequestBlockLen, TemplateID: TplShmAttachRequest, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U32(m.StreamID)
	w.U64(m.ClientID)
	w.U8(uint8(m.Role))
	w.U32(m.ExpectedLayoutVersion)
	w.U8(uint8(m.PublishMode))
	w.U8(uint8(m.RequireHugepages))
	w.U32(m.DesiredNodeID)
	return w.Bytes()
}

func DecodeShmAttachRequest(b []byte) (*ShmAttachRequest, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmAttachRequest, shmAttachRequestBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmAttachRequest{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ClientID, err = r.U64(); err != nil {
		return nil, err
	}
	role, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Role = Role(role)
	if m.ExpectedLayoutVersion, err = r.U32(); err != nil {
		return nil, err
	}
	pm, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.PublishMode = PublishMode(pm)
	hp, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.RequireHugepages = HugepagesRequirement(hp)
	if m.DesiredNodeID, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

type AttachCode uint8

const (
	AttachOK AttachCode = iota
	AttachInvalidParams
	AttachRejected
	AttachUnsupported
	AttachInternalError
)

// PoolDescriptor is one element of shmAttachResponse's pools repeating group.
type PoolDescriptor struct {
	PoolID      uint16
	StrideBytes uint32
	URI         string
}

// ShmAttachResponse is the driver's reply (spec §4.6).
type ShmAttachResponse struct {
	CorrelationID         uint64
	Code                  AttachCode
	ErrorMessage          string
	LeaseID               uint64
	LeaseExpiryTimestampNs uint64
	StreamID              uint32
	Epoch                 uint64
	LayoutVersion         uint32
	HeaderNSlots          uint32
	HeaderSlotBytes       uint32
	NodeID                uint32
	HeaderRegionURI       string
	Pools                 []PoolDescriptor
}

const shmAttachResponseBlockLen = 8 + 1 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + 4 // 53

func (m *ShmAttachResponse) Encode() []byte {
	w := NewWriter(256)
	hdr := Header{BlockLength: shmAttachResponseBlockLen, TemplateID: TplShmAttachResponse, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U8(uint8(m.Code))
	w.U64(m.LeaseID)
	w.U64(m.LeaseExpiryTimestampNs)
	w.U32(m.StreamID)
	w.U64(m.Epoch)
	w.U32(m.LayoutVersion)
	w.U32(m.HeaderNSlots)
	w.U32(m.HeaderSlotBytes)
	w.U32(m.NodeID)
	w.Str(m.ErrorMessage)
	w.Str(m.HeaderRegionURI)
	w.GroupHeader(len(m.Pools), uint16(poolInfoFixedLen))
	for _, p := range m.Pools {
		w.U16(p.PoolID)
		w.U32(p.StrideBytes)
		w.Str(p.URI)
	}
	return w.Bytes()
}

func DecodeShmAttachResponse(b []byte) (*ShmAttachResponse, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmAttachResponse, shmAttachResponseBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmAttachResponse{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	code, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Code = AttachCode(code)
	if m.LeaseID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.LeaseExpiryTimestampNs, err = r.U64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.U64(); err != nil {
		return nil, err
	}
	if m.LayoutVersion, err = r.U32(); err != nil {
		return nil, err
	}
	if m.HeaderNSlots, err = r.U32(); err != nil {
		return nil, err
	}
	if m.HeaderSlotBytes, err = r.U32(); err != nil {
		return nil, err
	}
	if m.NodeID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ErrorMessage, err = r.Str(); err != nil {
		return nil, err
	}
	if m.HeaderRegionURI, err = r.Str(); err != nil {
		return nil, err
	}
	count, elemLen, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	_ = elemLen
	m.Pools = make([]PoolDescriptor, 0, count)
	for i := 0; i < count; i++ {
		var p PoolDescriptor
		if p.PoolID, err = r.U16(); err != nil {
			return nil, err
		}
		if p.StrideBytes, err = r.U32(); err != nil {
			return nil, err
		}
		if p.URI, err = r.Str(); err != nil {
			return nil, err
		}
		m.Pools = append(m.Pools, p)
	}
	return m, nil
}

// ShmKeepalive is the client->driver keepalive (spec §4.6 "Keepalive"), sent
// every keepalive_interval_ns. Like shmDetachRequest, this message is a
// necessary counterpart the §4.8 listing omitted: the driver's expiry
// arithmetic (last_keepalive_ns + interval*grace) has nothing to drive it
// without a wire carrier.
type ShmKeepalive struct {
	LeaseID uint64
	NowNs   uint64
}

const shmKeepaliveBlockLen = 8 + 8 // 16

func (m *ShmKeepalive) Encode() []byte {
	w := NewWriter(HeaderSize + shmKeepaliveBlockLen)
	hdr := Header{BlockLength: shmKeepaliveBlockLen, TemplateID: TplShmKeepalive, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.LeaseID)
	w.U64(m.NowNs)
	return w.Bytes()
}

func DecodeShmKeepalive(b []byte) (*ShmKeepalive, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmKeepalive, shmKeepaliveBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmKeepalive{}
	if m.LeaseID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.NowNs, err = r.U64(); err != nil {
		return nil, err
	}
	return m, nil
}

// ShmDetachRequest is the client->driver detach request. The message set in
// spec §4.8 names shmDetachResponse but not its request counterpart; this
// mirrors shmAttachRequest's minimal shape since a response needs something
// to correlate against.
type ShmDetachRequest struct {
	CorrelationID uint64
	LeaseID       uint64
}

const shmDetachRequestBlockLen = 8 + 8 // 16

func (m *ShmDetachRequest) Encode() []byte {
	w := NewWriter(HeaderSize + shmDetachRequestBlockLen)
	hdr := Header{BlockLength: shmDetachRequestBlockLen, TemplateID: TplShmDetachRequest, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U64(m.LeaseID)
	return w.Bytes()
}

func DecodeShmDetachRequest(b []byte) (*ShmDetachRequest, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmDetachRequest, shmDetachRequestBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmDetachRequest{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.LeaseID, err = r.U64(); err != nil {
		return nil, err
	}
	return m, nil
}

// ShmDetachResponse acknowledges a detach request.
type ShmDetachResponse struct {
	CorrelationID uint64
	Code          ControlCode
}

const shmDetachResponseBlockLen = 8 + 1 // 9

func (m *ShmDetachResponse) Encode() []byte {
	w := NewWriter(HeaderSize + shmDetachResponseBlockLen)
	hdr := Header{BlockLength: shmDetachResponseBlockLen, TemplateID: TplShmDetachResponse, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U8(uint8(m.Code))
	return w.Bytes()
}

func DecodeShmDetachResponse(b []byte) (*ShmDetachResponse, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmDetachResponse, shmDetachResponseBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmDetachResponse{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	code, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Code = ControlCode(code)
	return m, nil
}

type RevokeReason uint8

const (
	ReasonExpired RevokeReason = iota
	ReasonAdmin
	ReasonShutdown
)

// ShmLeaseRevoked is emitted by the driver on the control stream (spec §4.6
// point 6).
type ShmLeaseRevoked struct {
	LeaseID uint64
	Reason  RevokeReason
}

const shmLeaseRevokedBlockLen = 8 + 1 // 9

func (m *ShmLeaseRevoked) Encode() []byte {
	w := NewWriter(HeaderSize + shmLeaseRevokedBlockLen)
	hdr := Header{BlockLength: shmLeaseRevokedBlockLen, TemplateID: TplShmLeaseRevoked, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.LeaseID)
	w.U8(uint8(m.Reason))
	return w.Bytes()
}

func DecodeShmLeaseRevoked(b []byte) (*ShmLeaseRevoked, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmLeaseRevoked, shmLeaseRevokedBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmLeaseRevoked{}
	if m.LeaseID, err = r.U64(); err != nil {
		return nil, err
	}
	reason, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Reason = RevokeReason(reason)
	return m, nil
}

// ShmDriverShutdown is broadcast by the driver before exiting.
type ShmDriverShutdown struct {
	Reason string
}

const shmDriverShutdownBlockLen = 0

func (m *ShmDriverShutdown) Encode() []byte {
	w := NewWriter(64)
	hdr := Header{BlockLength: shmDriverShutdownBlockLen, TemplateID: TplShmDriverShutdown, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.Str(m.Reason)
	return w.Bytes()
}

func DecodeShmDriverShutdown(b []byte) (*ShmDriverShutdown, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmDriverShutdown, shmDriverShutdownBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmDriverShutdown{}
	if m.Reason, err = r.Str(); err != nil {
		return nil, err
	}
	return m, nil
}
