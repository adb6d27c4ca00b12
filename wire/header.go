package wire

import "github.com/tensorpool/tpool/tpcmn/cos"

// SchemaID is the single schema id all decoders in this build share; a
// decode whose header carries a different schema id returns ErrNotMine
// (spec §7: "soft not mine (1) rather than a hard error, so multiple
// codecs can share a subscription").
const SchemaID = uint16(1)

// Template ids, one per message type in spec §4.8.
const (
	TplConsumerHello           uint16 = 1
	TplConsumerConfig          uint16 = 2
	TplDataSourceAnnounce      uint16 = 3
	TplDataSourceMeta          uint16 = 4
	TplMetaBlobAnnounce        uint16 = 5
	TplMetaBlobChunk           uint16 = 6
	TplMetaBlobComplete        uint16 = 7
	TplControlResponse         uint16 = 8
	TplShmPoolAnnounce         uint16 = 9
	TplFrameDescriptor         uint16 = 10
	TplFrameProgress           uint16 = 11
	TplSlotHeader              uint16 = 12
	TplTensorHeader            uint16 = 13
	TplShmAttachRequest        uint16 = 14
	TplShmAttachResponse       uint16 = 15
	TplShmDetachResponse       uint16 = 16
	TplShmLeaseRevoked         uint16 = 17
	TplShmDriverShutdown       uint16 = 18
	TplDiscoveryRequest        uint16 = 19
	TplDiscoveryResponse       uint16 = 20
	TplSequenceMergeMapAnnounce uint16 = 21
	TplSequenceMergeMapRequest  uint16 = 22
	TplTimestampMergeMapAnnounce uint16 = 23
	TplTimestampMergeMapRequest uint16 = 24
	TplTraceLinkSet            uint16 = 25
	TplShmDetachRequest        uint16 = 26
	TplShmKeepalive            uint16 = 27
)

// DecoderVersion is this build's decoder version; a message whose version
// field exceeds it is rejected (spec §4.8).
const DecoderVersion = uint16(1)

const HeaderSize = 8 // block_length(2) template_id(2) schema_id(2) version(2)

// Header is the common message-header prefix of every wire message.
type Header struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

func (h *Header) Encode(w *Writer) {
	w.U16(h.BlockLength)
	w.U16(h.TemplateID)
	w.U16(h.SchemaID)
	w.U16(h.Version)
}

func DecodeHeader(r *Reader) (*Header, error) {
	bl, err := r.U16()
	if err != nil {
		return nil, err
	}
	tid, err := r.U16()
	if err != nil {
		return nil, err
	}
	sid, err := r.U16()
	if err != nil {
		return nil, err
	}
	ver, err := r.U16()
	if err != nil {
		return nil, err
	}
	return &Header{BlockLength: bl, TemplateID: tid, SchemaID: sid, Version: ver}, nil
}

// ErrNotMine is returned (not panicked/wrapped fatally) when the schema id
// doesn't match this build's decoders; callers treat it as "skip, not an
// error" so several codecs can multiplex a subscription.
var ErrNotMine = cos.NewInvalidWireErr("wire: schema id mismatch (not mine)")

// CheckHeader validates schema id and version per spec §4.8, and -- unless
// relaxed is true -- the exact fixed block length.
func CheckHeader(h *Header, wantTemplate uint16, wantBlockLen uint16, relaxed bool) error {
	if h.SchemaID != SchemaID {
		return ErrNotMine
	}
	if h.TemplateID != wantTemplate {
		return cos.NewInvalidWireErr("wire: template id mismatch: want %d got %d", wantTemplate, h.TemplateID)
	}
	if h.Version > DecoderVersion {
		return cos.NewInvalidWireErr("wire: version %d exceeds decoder version %d", h.Version, DecoderVersion)
	}
	if !relaxed && h.BlockLength != wantBlockLen {
		return cos.NewInvalidWireErr("wire: block_length mismatch: want %d got %d", wantBlockLen, h.BlockLength)
	}
	return nil
}
