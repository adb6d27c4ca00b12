package wire

import "github.com/tensorpool/tpool/tpcmn/cos"

// PoolInfo is one element of shmPoolAnnounce's pools repeating group.
// NSlots must equal the announce's HeaderNSlots (spec §4.7); the directory
// rejects any announce where a pool's slot count diverges from the header
// ring's, since the two are indexed by the same seq mod nslots.
type PoolInfo struct {
	PoolID      uint16
	StrideBytes uint32
	NSlots      uint32
	URI         string
}

const poolInfoFixedLen = 2 + 4 + 4 // 10, URI is trailing variable within the element

// ShmPoolAnnounce is the periodic producer->directory/consumers announcement
// of a stream's SHM layout (spec §4.7).
type ShmPoolAnnounce struct {
	StreamID        uint32
	ProducerID      uint64
	Epoch           uint64
	LayoutVersion   uint32
	HeaderNSlots    uint32
	HeaderSlotBytes uint32
	HeaderRegionURI string
	Pools           []PoolInfo
}

const shmPoolAnnounceBlockLen = 4 + 8 + 8 + 4 + 4 + 4 // 32

func (m *ShmPoolAnnounce) Encode() []byte {
	w := NewWriter(256)
	hdr := Header{BlockLength: shmPoolAnnounceBlockLen, TemplateID: TplShmPoolAnnounce, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.ProducerID)
	w.U64(m.Epoch)
	w.U32(m.LayoutVersion)
	w.U32(m.HeaderNSlots)
	w.U32(m.HeaderSlotBytes)
	w.Str(m.HeaderRegionURI)
	w.GroupHeader(len(m.Pools), uint16(poolInfoFixedLen))
	for _, p := range m.Pools {
		w.U16(p.PoolID)
		w.U32(p.StrideBytes)
		w.U32(p.NSlots)
		w.Str(p.URI)
	}
	return w.Bytes()
}

func DecodeShmPoolAnnounce(b []byte) (*ShmPoolAnnounce, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplShmPoolAnnounce, shmPoolAnnounceBlockLen, false); err != nil {
		return nil, err
	}
	m := &ShmPoolAnnounce{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.ProducerID, err = r.U64(); err != nil {
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
	if m.HeaderRegionURI, err = r.Str(); err != nil {
		return nil, err
	}
	count, elemLen, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	if elemLen < poolInfoFixedLen {
		return nil, cos.NewInvalidWireErr("wire: shmPoolAnnounce pool element too short: %d", elemLen)
	}
	m.Pools = make([]PoolInfo, 0, count)
	for i := 0; i < count; i++ {
		var p PoolInfo
		if p.PoolID, err = r.U16(); err != nil {
			return nil, err
		}
		if p.StrideBytes, err = r.U32(); err != nil {
			return nil, err
		}
		if p.NSlots, err = r.U32(); err != nil {
			return nil, err
		}
		if p.URI, err = r.Str(); err != nil {
			return nil, err
		}
		m.Pools = append(m.Pools, p)
	}
	return m, nil
}

// DataSourceAnnounce names a stream's producing data source.
type DataSourceAnnounce struct {
	StreamID     uint32
	DataSourceID uint64
	Name         string
}

const dataSourceAnnounceBlockLen = 4 + 8 // 12

func (m *DataSourceAnnounce) Encode() []byte {
	w := NewWriter(64)
	hdr := Header{BlockLength: dataSourceAnnounceBlockLen, TemplateID: TplDataSourceAnnounce, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.DataSourceID)
	w.Str(m.Name)
	return w.Bytes()
}

func DecodeDataSourceAnnounce(b []byte) (*DataSourceAnnounce, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplDataSourceAnnounce, dataSourceAnnounceBlockLen, false); err != nil {
		return nil, err
	}
	m := &DataSourceAnnounce{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.DataSourceID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Name, err = r.Str(); err != nil {
		return nil, err
	}
	return m, nil
}

// Attribute is one element of dataSourceMeta's attributes repeating group.
type Attribute struct {
	Key   string
	Value string
}

// DataSourceMeta carries a data source's free-form summary plus attributes.
type DataSourceMeta struct {
	StreamID     uint32
	DataSourceID uint64
	Summary      string
	Attributes   []Attribute
}

const dataSourceMetaBlockLen = 4 + 8 // 12

func (m *DataSourceMeta) Encode() []byte {
	w := NewWriter(256)
	hdr := Header{BlockLength: dataSourceMetaBlockLen, TemplateID: TplDataSourceMeta, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.StreamID)
	w.U64(m.DataSourceID)
	w.Str(m.Summary)
	w.GroupHeader(len(m.Attributes), 0) // fully-variable elements: block length 0 is advisory only
	for _, a := range m.Attributes {
		w.Str(a.Key)
		w.Str(a.Value)
	}
	return w.Bytes()
}

func DecodeDataSourceMeta(b []byte) (*DataSourceMeta, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplDataSourceMeta, dataSourceMetaBlockLen, false); err != nil {
		return nil, err
	}
	m := &DataSourceMeta{}
	if m.StreamID, err = r.U32(); err != nil {
		return nil, err
	}
	if m.DataSourceID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Summary, err = r.Str(); err != nil {
		return nil, err
	}
	count, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Attributes = make([]Attribute, 0, count)
	for i := 0; i < count; i++ {
		var a Attribute
		if a.Key, err = r.Str(); err != nil {
			return nil, err
		}
		if a.Value, err = r.Str(); err != nil {
			return nil, err
		}
		m.Attributes = append(m.Attributes, a)
	}
	return m, nil
}

// MetaBlobAnnounce/Chunk/Complete implement chunked out-of-band metadata
// transfer (spec §4.8 message set).
type MetaBlobAnnounce struct {
	BlobID      uint64
	TotalBytes  uint64
	TotalChunks uint32
	Name        string
}

const metaBlobAnnounceBlockLen = 8 + 8 + 4 // 20

func (m *MetaBlobAnnounce) Encode() []byte {
	w := NewWriter(64)
	hdr := Header{BlockLength: metaBlobAnnounceBlockLen, TemplateID: TplMetaBlobAnnounce, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.BlobID)
	w.U64(m.TotalBytes)
	w.U32(m.TotalChunks)
	w.Str(m.Name)
	return w.Bytes()
}

func DecodeMetaBlobAnnounce(b []byte) (*MetaBlobAnnounce, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplMetaBlobAnnounce, metaBlobAnnounceBlockLen, false); err != nil {
		return nil, err
	}
	m := &MetaBlobAnnounce{}
	if m.BlobID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.TotalBytes, err = r.U64(); err != nil {
		return nil, err
	}
	if m.TotalChunks, err = r.U32(); err != nil {
		return nil, err
	}
	if m.Name, err = r.Str(); err != nil {
		return nil, err
	}
	return m, nil
}

type MetaBlobChunk struct {
	BlobID     uint64
	ChunkIndex uint32
	Data       []byte
}

const metaBlobChunkBlockLen = 8 + 4 // 12

func (m *MetaBlobChunk) Encode() []byte {
	w := NewWriter(len(m.Data) + 64)
	hdr := Header{BlockLength: metaBlobChunkBlockLen, TemplateID: TplMetaBlobChunk, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.BlobID)
	w.U32(m.ChunkIndex)
	w.U32(uint32(len(m.Data)))
	w.Raw(m.Data)
	return w.Bytes()
}

func DecodeMetaBlobChunk(b []byte) (*MetaBlobChunk, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplMetaBlobChunk, metaBlobChunkBlockLen, false); err != nil {
		return nil, err
	}
	m := &MetaBlobChunk{}
	if m.BlobID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.ChunkIndex, err = r.U32(); err != nil {
		return nil, err
	}
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if m.Data, err = r.Raw(int(n)); err != nil {
		return nil, err
	}
	return m, nil
}

type MetaBlobComplete struct {
	BlobID uint64
	Crc32  uint32 // NullU32 if not checked
}

const metaBlobCompleteBlockLen = 8 + 4 // 12

func (m *MetaBlobComplete) Encode() []byte {
	w := NewWriter(HeaderSize + metaBlobCompleteBlockLen)
	hdr := Header{BlockLength: metaBlobCompleteBlockLen, TemplateID: TplMetaBlobComplete, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.BlobID)
	w.U32(m.Crc32)
	return w.Bytes()
}

func DecodeMetaBlobComplete(b []byte) (*MetaBlobComplete, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplMetaBlobComplete, metaBlobCompleteBlockLen, false); err != nil {
		return nil, err
	}
	m := &MetaBlobComplete{}
	if m.BlobID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.Crc32, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}
