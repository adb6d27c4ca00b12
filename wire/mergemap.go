package wire

import "github.com/tensorpool/tpool/tpcmn/cos"

// RuleType enumerates the merge-map rule kinds; both message families
// reject unknown rule_type values at decode time (spec §9 "Merge maps").
type RuleType uint8

const (
	RuleSum RuleType = iota
	RuleLatest
	RuleNearest
	ruleTypeCount
)

func (r RuleType) Valid() bool { return r < ruleTypeCount }

// MergeRule is one element of a merge-map's rules repeating group.
type MergeRule struct {
	InputStreamID uint32
	RuleType      RuleType
}

const mergeRuleFixedLen = 4 + 1 // 5

func validateRules(rules []MergeRule) error {
	seen := make(map[uint32]bool, len(rules))
	for _, rl := range rules {
		if !rl.RuleType.Valid() {
			return cos.NewInvalidWireErr("wire: merge map: unknown rule_type %d", rl.RuleType)
		}
		if seen[rl.InputStreamID] {
			return cos.NewInvalidWireErr("wire: merge map: duplicated input_stream_id %d", rl.InputStreamID)
		}
		seen[rl.InputStreamID] = true
	}
	return nil
}

// SequenceMergeMapAnnounce aligns sequence numbers across streams for an
// external aligner (spec §9); this core only encodes/decodes it.
type SequenceMergeMapAnnounce struct {
	OutputStreamID uint32
	Rules          []MergeRule
}

const sequenceMergeMapAnnounceBlockLen = 4 // 4

func (m *SequenceMergeMapAnnounce) Encode() ([]byte, error) {
	if err := validateRules(m.Rules); err != nil {
		return nil, err
	}
	w := NewWriter(128)
	hdr := Header{BlockLength: sequenceMergeMapAnnounceBlockLen, TemplateID: TplSequenceMergeMapAnnounce, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.OutputStreamID)
	w.GroupHeader(len(m.Rules), uint16(mergeRuleFixedLen))
	for _, rl := range m.Rules {
		w.U32(rl.InputStreamID)
		w.U8(uint8(rl.RuleType))
	}
	return w.Bytes(), nil
}

func DecodeSequenceMergeMapAnnounce(b []byte) (*SequenceMergeMapAnnounce, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplSequenceMergeMapAnnounce, sequenceMergeMapAnnounceBlockLen, false); err != nil {
		return nil, err
	}
	m := &SequenceMergeMapAnnounce{}
	if m.OutputStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	count, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Rules = make([]MergeRule, 0, count)
	for i := 0; i < count; i++ {
		var rl MergeRule
		if rl.InputStreamID, err = r.U32(); err != nil {
			return nil, err
		}
		rt, err := r.U8()
		if err != nil {
			return nil, err
		}
		rl.RuleType = RuleType(rt)
		m.Rules = append(m.Rules, rl)
	}
	if err := validateRules(m.Rules); err != nil {
		return nil, err
	}
	return m, nil
}

// SequenceMergeMapRequest requests a fresh SequenceMergeMapAnnounce.
type SequenceMergeMapRequest struct {
	CorrelationID  uint64
	OutputStreamID uint32
}

const sequenceMergeMapRequestBlockLen = 8 + 4 // 12

func (m *SequenceMergeMapRequest) Encode() []byte {
	w := NewWriter(HeaderSize + sequenceMergeMapRequestBlockLen)
	hdr := Header{BlockLength: sequenceMergeMapRequestBlockLen, TemplateID: TplSequenceMergeMapRequest, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U32(m.OutputStreamID)
	return w.Bytes()
}

func DecodeSequenceMergeMapRequest(b []byte) (*SequenceMergeMapRequest, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplSequenceMergeMapRequest, sequenceMergeMapRequestBlockLen, false); err != nil {
		return nil, err
	}
	m := &SequenceMergeMapRequest{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.OutputStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

// TimestampSource selects what clock a timestampMergeMap rule aligns on;
// an invalid source is rejected at decode time same as unknown rule_type.
type TimestampSource uint8

const (
	TimestampFrame TimestampSource = iota
	TimestampProgress
	timestampSourceCount
)

func (t TimestampSource) Valid() bool { return t < timestampSourceCount }

type TimestampMergeRule struct {
	InputStreamID uint32
	Source        TimestampSource
}

const timestampMergeRuleFixedLen = 4 + 1 // 5

// TimestampMergeMapAnnounce is the timestamp-domain analogue of
// SequenceMergeMapAnnounce.
type TimestampMergeMapAnnounce struct {
	OutputStreamID uint32
	Rules          []TimestampMergeRule
}

const timestampMergeMapAnnounceBlockLen = 4

func validateTimestampRules(rules []TimestampMergeRule) error {
	seen := make(map[uint32]bool, len(rules))
	for _, rl := range rules {
		if !rl.Source.Valid() {
			return cos.NewInvalidWireErr("wire: timestamp merge map: invalid timestamp source %d", rl.Source)
		}
		if seen[rl.InputStreamID] {
			return cos.NewInvalidWireErr("wire: timestamp merge map: duplicated input_stream_id %d", rl.InputStreamID)
		}
		seen[rl.InputStreamID] = true
	}
	return nil
}

func (m *TimestampMergeMapAnnounce) Encode() ([]byte, error) {
	if err := validateTimestampRules(m.Rules); err != nil {
		return nil, err
	}
	w := NewWriter(128)
	hdr := Header{BlockLength: timestampMergeMapAnnounceBlockLen, TemplateID: TplTimestampMergeMapAnnounce, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U32(m.OutputStreamID)
	w.GroupHeader(len(m.Rules), uint16(timestampMergeRuleFixedLen))
	for _, rl := range m.Rules {
		w.U32(rl.InputStreamID)
		w.U8(uint8(rl.Source))
	}
	return w.Bytes(), nil
}

func DecodeTimestampMergeMapAnnounce(b []byte) (*TimestampMergeMapAnnounce, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplTimestampMergeMapAnnounce, timestampMergeMapAnnounceBlockLen, false); err != nil {
		return nil, err
	}
	m := &TimestampMergeMapAnnounce{}
	if m.OutputStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	count, _, err := r.GroupHeader()
	if err != nil {
		return nil, err
	}
	m.Rules = make([]TimestampMergeRule, 0, count)
	for i := 0; i < count; i++ {
		var rl TimestampMergeRule
		if rl.InputStreamID, err = r.U32(); err != nil {
			return nil, err
		}
		src, err := r.U8()
		if err != nil {
			return nil, err
		}
		rl.Source = TimestampSource(src)
		m.Rules = append(m.Rules, rl)
	}
	if err := validateTimestampRules(m.Rules); err != nil {
		return nil, err
	}
	return m, nil
}

type TimestampMergeMapRequest struct {
	CorrelationID  uint64
	OutputStreamID uint32
}

const timestampMergeMapRequestBlockLen = 8 + 4

func (m *TimestampMergeMapRequest) Encode() []byte {
	w := NewWriter(HeaderSize + timestampMergeMapRequestBlockLen)
	hdr := Header{BlockLength: timestampMergeMapRequestBlockLen, TemplateID: TplTimestampMergeMapRequest, SchemaID: SchemaID, Version: DecoderVersion}
	hdr.Encode(w)
	w.U64(m.CorrelationID)
	w.U32(m.OutputStreamID)
	return w.Bytes()
}

func DecodeTimestampMergeMapRequest(b []byte) (*TimestampMergeMapRequest, error) {
	r := NewReader(b)
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	if err := CheckHeader(hdr, TplTimestampMergeMapRequest, timestampMergeMapRequestBlockLen, false); err != nil {
		return nil, err
	}
	m := &TimestampMergeMapRequest{}
	if m.CorrelationID, err = r.U64(); err != nil {
		return nil, err
	}
	if m.OutputStreamID, err = r.U32(); err != nil {
		return nil, err
	}
	return m, nil
}
