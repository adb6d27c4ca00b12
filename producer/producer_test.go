package producer_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/producer"
	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/shm"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/trace"
	"github.com/tensorpool/tpool/wire"
)

const testNSlots = 8

func mustCreateRegion(t *testing.T, dir, name string, regionType shm.RegionType, nslots, strideOrSlot uint32) *shm.Region {
	t.Helper()
	path := filepath.Join(dir, name)
	uri := fmt.Sprintf("shm:file?path=%s", path)
	sb := &shm.Superblock{
		LayoutVersion: 1, Epoch: 1, StreamID: 1,
		RegionType: regionType, NSlots: nslots, StrideBytes: strideOrSlot,
	}
	r, err := shm.Create(uri, nslots, strideOrSlot, sb, []string{dir})
	require.NoError(t, err)
	return r
}

func newTestProducer(t *testing.T, dir string) *producer.Producer {
	t.Helper()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA", shm.PayloadPool, testNSlots, 64)
	poolB := mustCreateRegion(t, dir, "poolB", shm.PayloadPool, testNSlots, 256)

	p, err := producer.Init(producer.Config{
		StreamID: 1,
		Epoch:    1,
		HeaderRing: header,
		NSlots:   testNSlots,
		Pools: []*producer.Pool{
			{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64},
			{Region: poolB, PoolID: 1, NSlots: testNSlots, StrideBytes: 256},
		},
		NodeID:     1,
		TraceSplit: trace.DefaultBitSplit,
	})
	require.NoError(t, err)
	return p
}

func TestInitRejectsNonPowerOfTwoNSlots(t *testing.T) {
	dir := t.TempDir()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, 6, seqlock.SlotBytes)
	_, err := producer.Init(producer.Config{HeaderRing: header, NSlots: 6})
	require.Error(t, err)
}

func tensorHeader(n int) *tensor.Header {
	h := &tensor.Header{DType: tensor.FLOAT32, MajorOrder: tensor.ROW, NDims: 1}
	h.Dims[0] = uint32(n)
	return h
}

func TestOfferFrameRoundTripsThroughSeqlock(t *testing.T) {
	dir := t.TempDir()

	lb := fabric.NewLoopback(4)
	descPub := lb.CreatePublication(100)
	descSub := lb.CreateSubscription(100)
	p2 := withDescriptorPub(t, dir, descPub)

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, p2.OfferFrame(tensorHeader(32), payload, 1000, 1))

	n := descSub.Poll(func(frag []byte) {
		desc, err := wire.DecodeFrameDescriptor(frag)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), desc.Seq)
		assert.Equal(t, uint32(1), desc.StreamID)
	}, 1)
	assert.Equal(t, 1, n)
}

// withDescriptorPub builds a fresh producer wired to the given publication,
// since Config's pub is set at Init time.
func withDescriptorPub(t *testing.T, dir string, pub fabric.Publication) *producer.Producer {
	t.Helper()
	header := mustCreateRegion(t, dir, "header2", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA2", shm.PayloadPool, testNSlots, 64)

	p, err := producer.Init(producer.Config{
		StreamID: 1,
		Epoch:    1,
		HeaderRing: header,
		NSlots:   testNSlots,
		Pools: []*producer.Pool{
			{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64},
		},
		NodeID:        1,
		TraceSplit:    trace.DefaultBitSplit,
		DescriptorPub: pub,
	})
	require.NoError(t, err)
	return p
}

func TestSelectPoolPicksSmallestFittingStride(t *testing.T) {
	dir := t.TempDir()
	p := newTestProducer(t, dir)

	// 32 bytes fits both the 64- and 256-byte pools; expect the 64-byte one.
	require.NoError(t, p.OfferFrame(tensorHeader(8), make([]byte, 32), 0, 0))

	claim, err := p.TryClaim(1, 200)
	require.NoError(t, err)
	assert.Len(t, claim.Buffer(), 200)

	_, err = p.TryClaim(0, 100)
	require.Error(t, err, "100 bytes exceeds pool 0's 64-byte stride")
}

func TestOfferFrameRejectsPayloadWithNoFittingPool(t *testing.T) {
	dir := t.TempDir()
	p := newTestProducer(t, dir)
	err := p.OfferFrame(tensorHeader(1000), make([]byte, 1000), 0, 0)
	require.Error(t, err)
}

func TestTryClaimCommitClaimRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := newTestProducer(t, dir)

	claim, err := p.TryClaim(1, 256)
	require.NoError(t, err)
	buf := claim.Buffer()
	for i := range buf[:16] {
		buf[i] = byte(i + 1)
	}
	require.NoError(t, p.CommitClaim(claim, tensorHeader(4), 16, 12345, 2))

	// a second commit on the same claim must be rejected
	require.Error(t, p.CommitClaim(claim, tensorHeader(4), 16, 0, 0))
}

func TestAbortClaimLeavesSlotUncommitted(t *testing.T) {
	dir := t.TempDir()
	p := newTestProducer(t, dir)

	claim, err := p.TryClaim(0, 32)
	require.NoError(t, err)
	p.AbortClaim(claim)

	// a subsequent claim advances past the aborted sequence without error
	claim2, err := p.TryClaim(0, 32)
	require.NoError(t, err)
	require.NoError(t, p.CommitClaim(claim2, tensorHeader(4), 32, 0, 0))
}

func TestFanOutDescriptorRateLimitsPerConsumerStream(t *testing.T) {
	dir := t.TempDir()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA", shm.PayloadPool, testNSlots, 64)

	lb := fabric.NewLoopback(8)
	controlPub := lb.CreatePublication(777)
	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 1, HeaderRing: header, NSlots: testNSlots,
		Pools:      []*producer.Pool{{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64}},
		NodeID:     1,
		TraceSplit: trace.DefaultBitSplit,
		ControlSub: lb.CreateSubscription(777),
	})
	require.NoError(t, err)

	p.EnableConsumerManager(func(streamID uint32) (fabric.Publication, error) {
		return lb.CreatePublication(streamID), nil
	})
	hello := &wire.ConsumerHello{
		ConsumerID: 1, Mode: wire.ModeRateLimited, MaxRateHz: 1,
		DescriptorStreamID: 900, ControlStreamID: wire.NullU32,
		DescriptorChannel: "loopback",
	}
	require.Equal(t, fabric.OfferOK, controlPub.Offer(hello.Encode()))
	require.Equal(t, 1, p.PollControl(10))

	sub := lb.CreateSubscription(900)
	require.NoError(t, p.OfferFrame(tensorHeader(4), make([]byte, 4), 0, 0))
	require.NoError(t, p.OfferFrame(tensorHeader(4), make([]byte, 4), 0, 0))

	received := sub.Poll(func([]byte) {}, 10)
	assert.Equal(t, 1, received, "second offer within the rate-limit window should be dropped")
}

func TestAnnounceEmitsShmPoolAnnounceOverMetadataPub(t *testing.T) {
	dir := t.TempDir()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA", shm.PayloadPool, testNSlots, 64)

	lb := fabric.NewLoopback(8)
	metaSub := lb.CreateSubscription(1300)
	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 7, LayoutVersion: 2, HeaderRing: header, HeaderRegionURI: "shm:file?path=/dev/shm/header",
		NSlots:      testNSlots,
		Pools:       []*producer.Pool{{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64, URI: "shm:file?path=/dev/shm/poolA"}},
		NodeID:      42,
		TraceSplit:  trace.DefaultBitSplit,
		MetadataPub: lb.CreatePublication(1300),
	})
	require.NoError(t, err)

	require.True(t, p.Announce(1000))

	n := metaSub.Poll(func(payload []byte) {
		a, err := wire.DecodeShmPoolAnnounce(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), a.StreamID)
		assert.Equal(t, uint64(42), a.ProducerID)
		assert.Equal(t, uint64(7), a.Epoch)
		assert.Equal(t, uint32(2), a.LayoutVersion)
		assert.Equal(t, uint32(testNSlots), a.HeaderNSlots)
		require.Len(t, a.Pools, 1)
		assert.Equal(t, uint32(testNSlots), a.Pools[0].NSlots)
		assert.Equal(t, "shm:file?path=/dev/shm/poolA", a.Pools[0].URI)
	}, 1)
	assert.Equal(t, 1, n)
}

func TestAnnounceRepublishesCachedDataSourceAnnounceAndMeta(t *testing.T) {
	dir := t.TempDir()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA", shm.PayloadPool, testNSlots, 64)

	lb := fabric.NewLoopback(8)
	metaSub := lb.CreateSubscription(1300)
	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 1, HeaderRing: header, NSlots: testNSlots,
		Pools:       []*producer.Pool{{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64}},
		NodeID:      1,
		TraceSplit:  trace.DefaultBitSplit,
		MetadataPub: lb.CreatePublication(1300),
	})
	require.NoError(t, err)

	p.SetDataSourceAnnounce(&wire.DataSourceAnnounce{StreamID: 1, DataSourceID: 9, Name: "camera-0"})
	p.SetDataSourceMeta(&wire.DataSourceMeta{StreamID: 1, DataSourceID: 9, Summary: "rgb"})

	require.True(t, p.Announce(0))

	// shmPoolAnnounce, then the cached data-source announce, then meta.
	_ = metaSub.Poll(func([]byte) {}, 1)

	sawAnnounce, sawMeta := false, false
	metaSub.Poll(func(payload []byte) {
		if a, err := wire.DecodeDataSourceAnnounce(payload); err == nil {
			assert.Equal(t, "camera-0", a.Name)
			sawAnnounce = true
			return
		}
		if m, err := wire.DecodeDataSourceMeta(payload); err == nil {
			assert.Equal(t, "rgb", m.Summary)
			sawMeta = true
		}
	}, 2)
	assert.True(t, sawAnnounce, "expected a republished dataSourceAnnounce")
	assert.True(t, sawMeta, "expected a republished dataSourceMeta")
}

func TestAnnounceGatedByPeriod(t *testing.T) {
	dir := t.TempDir()
	header := mustCreateRegion(t, dir, "header", shm.HeaderRing, testNSlots, seqlock.SlotBytes)
	poolA := mustCreateRegion(t, dir, "poolA", shm.PayloadPool, testNSlots, 64)

	lb := fabric.NewLoopback(8)
	p, err := producer.Init(producer.Config{
		StreamID: 1, Epoch: 1, HeaderRing: header, NSlots: testNSlots,
		Pools:          []*producer.Pool{{Region: poolA, PoolID: 0, NSlots: testNSlots, StrideBytes: 64}},
		NodeID:         1,
		TraceSplit:     trace.DefaultBitSplit,
		MetadataPub:    lb.CreatePublication(1300),
		AnnouncePeriod: time.Second,
	})
	require.NoError(t, err)

	require.True(t, p.Announce(1000))
	assert.False(t, p.Announce(1000+int64(500*time.Millisecond)), "a second call within the period is a no-op")
	assert.True(t, p.Announce(1000+int64(2*time.Second)), "a call past the period announces again")
}

func TestAnnounceWithoutMetadataPubIsANoOp(t *testing.T) {
	dir := t.TempDir()
	p := newTestProducer(t, dir)
	assert.False(t, p.Announce(0))
}
