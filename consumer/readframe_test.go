package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/consumer"
	"github.com/tensorpool/tpool/producer"
	"github.com/tensorpool/tpool/shm"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/trace"
)

// TestReadFrameRoundTripsAProducedFrame wires a producer and a consumer to
// the same on-disk regions, the way a local attach would, and confirms a
// published frame reads back byte for byte through the seqlock protocol.
func TestReadFrameRoundTripsAProducedFrame(t *testing.T) {
	dir := t.TempDir()
	headerURI := createHeaderFile(t, dir, 1, testNSlots)
	poolURI := createPoolFile(t, dir, "pool0", 0, testNSlots, 64)

	writableHeader, err := shm.Map(headerURI, true, []string{dir})
	require.NoError(t, err)
	writablePool, err := shm.Map(poolURI, true, []string{dir})
	require.NoError(t, err)

	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 1, HeaderRing: writableHeader, NSlots: testNSlots,
		Pools:      []*producer.Pool{{Region: writablePool, PoolID: 0, NSlots: testNSlots, StrideBytes: 64}},
		NodeID:     1,
		TraceSplit: trace.DefaultBitSplit,
	})
	require.NoError(t, err)

	payload := []byte("tensor-payload-bytes")
	h := &tensor.Header{DType: tensor.FLOAT32, MajorOrder: tensor.ROW, NDims: 1}
	h.Dims[0] = uint32(len(payload) / 4)
	require.NoError(t, p.OfferFrame(h, payload, 555, 1))

	c := consumer.Init(consumer.Config{
		StreamID: 1, Epoch: 1, LayoutVersion: 1,
		HeaderRegionURI: headerURI, HeaderNSlots: testNSlots,
		Pools:        []consumer.PoolBinding{{PoolID: 0, URI: poolURI, StrideBytes: 64}},
		AllowedBases: []string{dir},
	})
	require.NoError(t, c.Attach())

	var frame consumer.Frame
	res, err := c.ReadFrame(0, &frame)
	require.NoError(t, err)
	assert.Equal(t, consumer.Ok, res)
	assert.Equal(t, payload, frame.Payload)
	assert.Equal(t, uint32(len(payload)), frame.SlotHeader.ValuesLenBytes)
	assert.Equal(t, h.Dims[0], frame.TensorHdr.Dims[0])
}

// TestReadFrameReportsGapOrLateForAnOverwrittenSequence confirms that asking
// for a sequence number lower than what the writer has already moved past
// (in a tiny ring, "moved past" happens fast) surfaces ErrResult rather than
// blocking until the read deadline.
func TestReadFrameReportsGapOrLateForAnOverwrittenSequence(t *testing.T) {
	dir := t.TempDir()
	headerURI := createHeaderFile(t, dir, 1, testNSlots)
	poolURI := createPoolFile(t, dir, "pool0", 0, testNSlots, 64)

	writableHeader, err := shm.Map(headerURI, true, []string{dir})
	require.NoError(t, err)
	writablePool, err := shm.Map(poolURI, true, []string{dir})
	require.NoError(t, err)

	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 1, HeaderRing: writableHeader, NSlots: testNSlots,
		Pools:      []*producer.Pool{{Region: writablePool, PoolID: 0, NSlots: testNSlots, StrideBytes: 64}},
		NodeID:     1,
		TraceSplit: trace.DefaultBitSplit,
	})
	require.NoError(t, err)

	payload := []byte("x")
	h := &tensor.Header{DType: tensor.FLOAT32, MajorOrder: tensor.ROW, NDims: 1}
	h.Dims[0] = 1
	for i := 0; i < testNSlots+1; i++ {
		require.NoError(t, p.OfferFrame(h, payload, 0, 0))
	}

	c := consumer.Init(consumer.Config{
		StreamID: 1, Epoch: 1, LayoutVersion: 1,
		HeaderRegionURI: headerURI, HeaderNSlots: testNSlots,
		Pools:        []consumer.PoolBinding{{PoolID: 0, URI: poolURI, StrideBytes: 64}},
		AllowedBases: []string{dir},
	})
	require.NoError(t, c.Attach())

	var frame consumer.Frame
	res, err := c.ReadFrame(0, &frame)
	require.Error(t, err)
	assert.Equal(t, consumer.ErrResult, res)
}
