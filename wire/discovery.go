package wire

// DiscoveryRequest queries the directory service by any subset of fields
// (spec §4.7 query). Zero/Null fields are "don't filter on this".
type DiscoveryRequest struct {
	CorrelationID      uint64
	StreamID           uint32 // NullU32 if unset
	ProducerID         uint64 // NullU64 if unset
	DataSourceID       uint64 // NullU64 if unset
	DataSourceName     string
	Tags               []string
	ResponseStreamID   uint32 // NullU32 if no response endpoint (silent drop)
}

const discoveryRequestBlockLen = 8 + 4 + 8 + 8 + 4 // 32

func (m *DiscoveryRequest) Encode() []byte {
	w := NewWriter(256)
	hdr := Header{BlockLength: discoveryRequestBlockLen, TemplateID: TplDiscoveryRequest, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U32(m.StreamID)
	w.U64(m.ProducerID)
	w.U64(m.DataSourceID)
	w.U32(m.ResponseStreamID)
	w.Str(m.DataSourceName)
	w.GroupHeader(len(m.Tags), 0)
	for _, t := range m.Tags {
		w.Str(t)
	}
	return w.Bytes()
}

func DecodeDiscoveryRequest(b []byte) (*DiscoveryRequest, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplDiscoveryRequest, discoveryRequestBlockLen, false); err != nil {
		return nil, err
	}
	m := &DiscoveryRequest{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ProducerID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.DataSourceID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.ResponseStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.DataSourceName, err = r.Str(); err != nil {
		return nil, err
	}
	count, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Tags = make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, err := r.Str()
		if err != nil {
			return nil, err
		}
		m.Tags = append(m.Tags, s)
	}
	return m, nil
}

type DiscoveryStatus uint8

const (
	DiscoveryOK DiscoveryStatus = iota
	DiscoveryErrLimit
)

// DiscoveryResult is one element of discoveryResponse's results group.
type DiscoveryResult struct {
	StreamID        uint32
	ProducerID      uint64
	Epoch           uint64
	LayoutVersion   uint32
	HeaderNSlots    uint32
	HeaderSlotBytes uint32
	MaxDims         uint8
	DataSourceID    uint64
	DataSourceName  string
	HeaderRegionURI string
	Pools           []PoolDescriptor
	Tags            []string
}

type DiscoveryResponse struct {
	CorrelationID uint64
	Status        DiscoveryStatus
	ErrorMessage  string
	Results       []DiscoveryResult
}

const discoveryResponseBlockLen = 8 + 1 // 9

func (m *DiscoveryResponse) Encode() []byte {
	w := NewWriter(512)
	hdr := Header{BlockLength: discoveryResponseBlockLen, TemplateID: TplDiscoveryResponse, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U8(uint8(m.Status))
	w.Str(m.ErrorMessage)
	w.GroupHeader(len(m.Results), 0)
	for _, res := range m.Results {
		w.U32(res.StreamID)
		w.U64(res.ProducerID)
		w.U64(res.Epoch)
		w.U32(res.LayoutVersion)
		w.U32(res.HeaderNSlots)
		w.U32(res.HeaderSlotBytes)
		w.U8(res.MaxDims)
		w.U64(res.DataSourceID)
		w.Str(res.DataSourceName)
		w.Str(res.HeaderRegionURI)
		w.GroupHeader(len(res.Pools), uint16(poolInfoFixedLen))
		for _, p := range res.Pools {
			w.U16(p.PoolID)
			w.U32(p.StrideBytes)
			w.Str(p.URI)
		}
		w.GroupHeader(len(res.Tags), 0)
		for _, t := range res.Tags {
			w.Str(t)
		}
	}
	return w.Bytes()
}

func DecodeDiscoveryResponse(b []byte) (*DiscoveryResponse, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplDiscoveryResponse, discoveryResponseBlockLen, false); err != nil {
		return nil, err
	}
	m := &DiscoveryResponse{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	status, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Status = DiscoveryStatus(status)
	if m.ErrorMessage, err = r.Str(); err != nil {
		return nil, err
	}
	rcount, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Results = make([]DiscoveryResult, 0, rcount)
	for i := 0; i < rcount; i++ {
		var res DiscoveryResult
		if res.StreamID, err = r.U32(); err != nil {
			return nil, err
		}
		if res.ProducerID, err = r.U64(); err != nil {
			return nil, err
		}
		if res.Epoch, err = r.U64(); err != nil {
			return nil, err
		}
		if res.LayoutVersion, err = r.U32(); err != nil {
			return nil, err
		}
		if res.HeaderNSlots, err = r.U32(); err != nil {
			return nil, err
		}
		if res.HeaderSlotBytes, err = r.U32(); err != nil {
			return nil, err
		}
		if res.MaxDims, err = r.U8(); err != nil {
			return nil, err
		}
		if res.DataSourceID, err = r.U64(); err != nil {
			return nil, err
		}
		if res.DataSourceName, err = r.Str(); err != nil {
			return nil, err
		}
		if res.HeaderRegionURI, err = r.Str(); err != nil {
			return nil, err
		}
		pcount, _, err := r.GroupHeader()
		if err != nil {
			return nil, err
		}
		res.Pools = make([]PoolDescriptor, 0, pcount)
		for j := 0; j < pcount; j++ {
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
			res.Pools = append(res.Pools, p)
		}
		tcount, _, err := r.GroupHeader()
		if err != nil {
			return nil, err
		}
		res.Tags = make([]string, 0, tcount)
		for j := 0; j < tcount; j++ {
			s, err := r.Str()
			if err != nil {
				return nil, err
			}
			res.Tags = append(res.Tags, s)
		}
		m.Results = append(m.Results, res)
	}
	return m, nil
}
