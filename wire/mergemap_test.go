package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/wire"
)

func TestSequenceMergeMapAnnounceRoundTrip(t *testing.T) {
	in := &wire.SequenceMergeMapAnnounce{
		OutputStreamID: 5,
		Rules:          []wire.MergeRule{{InputStreamID: 1, RuleType: wire.RuleSum}, {InputStreamID: 2, RuleType: wire.RuleLatest}},
	}
	b, err := in.Encode()
	require.NoError(t, err)
	out, err := wire.DecodeSequenceMergeMapAnnounce(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSequenceMergeMapAnnounceRejectsDuplicateInputStream(t *testing.T) {
	in := &wire.SequenceMergeMapAnnounce{
		OutputStreamID: 5,
		Rules:          []wire.MergeRule{{InputStreamID: 1, RuleType: wire.RuleSum}, {InputStreamID: 1, RuleType: wire.RuleLatest}},
	}
	_, err := in.Encode()
	require.Error(t, err)
}

func TestSequenceMergeMapRequestRoundTrip(t *testing.T) {
	in := &wire.SequenceMergeMapRequest{CorrelationID: 1, OutputStreamID: 5}
	out, err := wire.DecodeSequenceMergeMapRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTimestampMergeMapAnnounceRoundTrip(t *testing.T) {
	in := &wire.TimestampMergeMapAnnounce{
		OutputStreamID: 5,
		Rules:          []wire.TimestampMergeRule{{InputStreamID: 1, Source: wire.TimestampFrame}},
	}
	b, err := in.Encode()
	require.NoError(t, err)
	out, err := wire.DecodeTimestampMergeMapAnnounce(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTimestampMergeMapAnnounceRejectsInvalidSource(t *testing.T) {
	in := &wire.TimestampMergeMapAnnounce{
		OutputStreamID: 5,
		Rules:          []wire.TimestampMergeRule{{InputStreamID: 1, Source: 99}},
	}
	_, err := in.Encode()
	require.Error(t, err)
}

func TestTimestampMergeMapRequestRoundTrip(t *testing.T) {
	in := &wire.TimestampMergeMapRequest{CorrelationID: 1, OutputStreamID: 5}
	out, err := wire.DecodeTimestampMergeMapRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTraceLinkSetRoundTrip(t *testing.T) {
	in := &wire.TraceLinkSet{StreamID: 1, Epoch: 1, Seq: 5, TraceID: 99, Parents: []uint64{1, 2, 3}}
	b, err := in.Encode()
	require.NoError(t, err)
	out, err := wire.DecodeTraceLinkSet(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTraceLinkSetRejectsEmptyParents(t *testing.T) {
	in := &wire.TraceLinkSet{StreamID: 1, Epoch: 1, Seq: 5, TraceID: 99}
	_, err := in.Encode()
	require.Error(t, err)
}

func TestTraceLinkSetRejectsDuplicateParents(t *testing.T) {
	in := &wire.TraceLinkSet{StreamID: 1, Epoch: 1, Seq: 5, TraceID: 99, Parents: []uint64{1, 1}}
	_, err := in.Encode()
	require.Error(t, err)
}
