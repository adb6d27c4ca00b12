package wire

import "github.com/tensorpool/tpool/tpcmn/cos"

// TraceLinkSet links a committed frame to its causal parents across streams
// (spec §4.9). Decoders and encoders reject duplicate parent trace ids and
// empty parent arrays.
type TraceLinkSet struct {
	StreamID uint32
	Epoch    uint64
	Seq      uint64
	TraceID  uint64
	Parents  []uint64
}

const traceLinkSetBlockLen = 4 + 8 + 8 + 8 // 28

func validateParents(parents []uint64) error {
	if len(parents) == 0 {
		return cos.NewInvalidWireErr("wire: traceLinkSet: parents must not be empty")
	}
	seen := make(map[uint64]bool, len(parents))
	for _, p := range parents {
		if seen[p] {
			return cos.NewInvalidWireErr("wire: traceLinkSet: duplicate parent trace id %d", p)
		}
		seen[p] = true
	}
	return nil
}

func (m *TraceLinkSet) Encode() ([]byte, error) {
	if err := validateParents(m.Parents); err != nil {
		return nil, err
	}
	w := NewWriter(128)
	hdr := Header{BlockLength: traceLinkSetBlockLen, TemplateID: TplTraceLinkSet, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.Epoch)
	w.U64(m.Seq)
	w.U64(m.TraceID)
	w.GroupHeader(len(m.Parents), 8)
	for _, p := range m.Parents {
		w.U64(p)
	}
	return w.Bytes(), nil
}

func DecodeTraceLinkSet(b []byte) (*TraceLinkSet, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplTraceLinkSet, traceLinkSetBlockLen, false); err != nil {
		return nil, err
	}
	m := &TraceLinkSet{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.U64(); err != nil {
		return nil, err
	}
	if m.TraceID, err = r.U64(); err != nil {
		return nil, err
	}
	count, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Parents = make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		p, err := r.U64()
		if err != nil {
			return nil, err
		}
		m.Parents = append(m.Parents, p)
	}
	if err := validateParents(m.Parents); err != nil {
		return nil, err
	}
	return m, nil
}
