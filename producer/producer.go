// Package producer is the producer-side core (spec §4.2, §4.3, public API
// surface): publishes frames into a payload pool behind the seqlock
// protocol, fans descriptors out to the shared and per-consumer
// publications, and aggregates the consumer registry's progress policy.
package producer

import (
	"sync"
	"time"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/registry"
	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/shm"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/debug"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/trace"
	"github.com/tensorpool/tpool/wire"
)

// Pool is one mapped payload pool the producer writes into. URI is the
// value advertised in shmPoolAnnounce's pools group (spec §4.7); it plays
// no part in the seqlock path itself.
type Pool struct {
	Region      *shm.Region
	PoolID      uint16
	NSlots      uint32
	StrideBytes uint32
	URI         string
}

func (p *Pool) slotOffset(i uint32) int { return shm.SuperblockSize + int(i)*int(p.StrideBytes) }

// Config describes the regions and identity a producer publishes under; the
// caller (typically a driver_client attach response, spec §4.6) is
// responsible for mapping the regions before constructing the producer.
type Config struct {
	StreamID        uint32
	Epoch           uint64
	LayoutVersion   uint32
	HeaderRing      *shm.Region
	HeaderRegionURI string
	NSlots          uint32
	Pools           []*Pool
	NodeID          uint64
	TraceSplit      trace.BitSplit

	DescriptorPub fabric.Publication
	ControlSub    fabric.Subscription
	QosPub        fabric.Publication
	MetadataPub   fabric.Publication

	// AnnouncePeriod gates Announce: calls less than AnnouncePeriod apart
	// since the last successful announce are no-ops (spec §4.2 "periodic
	// SHM-pool announcements"). Zero means every call announces.
	AnnouncePeriod time.Duration

	// DropUnconnectedDescriptors swallows a not_connected offer result on
	// the shared descriptor publication instead of surfacing it (spec §4.3).
	DropUnconnectedDescriptors bool
}

// BufferClaim is the handle returned by TryClaim; CommitClaim/AbortClaim
// consume it exactly once.
type BufferClaim struct {
	seq     uint64
	pool    *Pool
	slot    uint32
	payload []byte
	claimed bool
}

// Producer is the public producer handle (spec §6 "producer").
type Producer struct {
	cfg Config
	tr  *trace.Generator
	hist *trace.History

	mu      sync.Mutex
	nextSeq uint64

	registry     *registry.Registry
	consumerMgr  bool
	progress     map[uint32]*registry.ProgressState // keyed by consumer stream id; producer keeps one shared cursor per stream in simple mode
	sharedProgress registry.ProgressState

	dataSourceMeta    *wire.DataSourceMeta
	dataSourceAnnounce *wire.DataSourceAnnounce

	lastAnnounceNs int64

	closed bool
}

func Init(cfg Config) (*Producer, error) {
	if !shm.IsPowerOfTwo(cfg.NSlots) {
		return nil, cos.NewLayoutMismatchErr("producer: nslots %d is not a power of two", cfg.NSlots)
	}
	gen, err := trace.NewGenerator(cfg.NodeID, cfg.TraceSplit, 0)
	if err != nil {
		return nil, err
	}
	p := &Producer{
		cfg:      cfg,
		tr:       gen,
		hist:     trace.NewHistory(cfg.NSlots),
		progress: make(map[uint32]*registry.ProgressState),
	}
	return p, nil
}

// EnableConsumerManager turns on the per-consumer registry and progress
// aggregation (spec §4.3, §4.4); newPub is used to lazily create per-consumer
// publications named in a consumerHello.
func (p *Producer) EnableConsumerManager(newPub registry.PublicationFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry = registry.New(newPub)
	p.consumerMgr = true
}

func (p *Producer) SetDataSourceMeta(m *wire.DataSourceMeta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dataSourceMeta = m
}

func (p *Producer) SetDataSourceAnnounce(a *wire.DataSourceAnnounce) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dataSourceAnnounce = a
}

// Announce builds and offers a shmPoolAnnounce over MetadataPub, along
// with a republish of the cached data-source announce/meta if set, and
// refreshes the header ring's activity timestamp (spec §4.2 "periodic
// SHM-pool announcements", §5 "Shared-resource discipline"). The caller
// drives this cooperatively, same as PollControl; calls within
// cfg.AnnouncePeriod of the last one are a no-op and return false.
func (p *Producer) Announce(nowNs int64) bool {
	p.mu.Lock()
	if p.cfg.MetadataPub == nil {
		p.mu.Unlock()
		return false
	}
	if p.cfg.AnnouncePeriod > 0 && p.lastAnnounceNs != 0 && nowNs-p.lastAnnounceNs < int64(p.cfg.AnnouncePeriod) {
		p.mu.Unlock()
		return false
	}
	p.lastAnnounceNs = nowNs
	dsAnnounce := p.dataSourceAnnounce
	dsMeta := p.dataSourceMeta
	p.mu.Unlock()

	pools := make([]wire.PoolInfo, len(p.cfg.Pools))
	for i, pl := range p.cfg.Pools {
		pools[i] = wire.PoolInfo{PoolID: pl.PoolID, StrideBytes: pl.StrideBytes, NSlots: pl.NSlots, URI: pl.URI}
	}
	announce := &wire.ShmPoolAnnounce{
		StreamID:        p.cfg.StreamID,
		ProducerID:      p.cfg.NodeID,
		Epoch:           p.cfg.Epoch,
		LayoutVersion:   p.cfg.LayoutVersion,
		HeaderNSlots:    p.cfg.NSlots,
		HeaderSlotBytes: seqlock.SlotBytes,
		HeaderRegionURI: p.cfg.HeaderRegionURI,
		Pools:           pools,
	}
	p.cfg.MetadataPub.Offer(announce.Encode())

	if dsAnnounce != nil {
		p.cfg.MetadataPub.Offer(dsAnnounce.Encode())
	}
	if dsMeta != nil {
		p.cfg.MetadataPub.Offer(dsMeta.Encode())
	}

	p.cfg.HeaderRing.TouchActivity(uint64(nowNs))
	return true
}

// selectPool picks the smallest-stride pool able to hold payloadLen bytes
// (spec §4.2 "Pool selection").
func (p *Producer) selectPool(payloadLen int) (*Pool, error) {
	var best *Pool
	for _, pl := range p.cfg.Pools {
		if int(pl.StrideBytes) < payloadLen {
			continue
		}
		if best == nil || pl.StrideBytes < best.StrideBytes {
			best = pl
		}
	}
	if best == nil {
		return nil, cos.NewNoPoolErr("producer: no pool with stride >= %d bytes", payloadLen)
	}
	return best, nil
}

// headerSlot returns the borrowed 256-byte slot view for header index i.
func (p *Producer) headerSlot(i uint32) []byte {
	view := p.cfg.HeaderRing.View()
	off := shm.SuperblockSize + int(i)*seqlock.SlotBytes
	return view[off : off+seqlock.SlotBytes]
}

// publish runs spec §4.2 steps 2-9 for a committed sequence against the
// given pool+slot with tensorHdr/payload already resolved.
func (p *Producer) publish(seq uint64, pool *Pool, slotIdx uint32, tensorHdr *tensor.Header, payload []byte, tsNs uint64, metaVersion uint32) error {
	if err := tensorHdr.Validate(); err != nil {
		return err
	}
	payloadOff := pool.slotOffset(slotIdx)
	payloadView := pool.Region.View()
	if payloadOff+len(payload) > len(payloadView) {
		return cos.NewTooSmallErr("producer: payload pool too small for slot %d", slotIdx)
	}

	slot := p.headerSlot(slotIdx)
	w := seqlock.At(slot)
	w.StoreInProgress(seq)

	copy(payloadView[payloadOff:payloadOff+len(payload)], payload)

	if tsNs == 0 {
		tsNs = uint64(time.Now().UnixNano())
	}
	seqlock.EncodeSlotHeader(slot, &seqlock.SlotHeader{
		ValuesLenBytes: uint32(len(payload)),
		PayloadSlot:    slotIdx,
		PoolID:         pool.PoolID,
		PayloadOffset:  0,
		TimestampNs:    tsNs,
		MetaVersion:    metaVersion,
	})
	var tb [tensor.EncodedSize]byte
	tensorHdr.Encode(tb[:])
	region := seqlock.TensorRegion(slot, tensor.EncodedSize)
	copy(region, tb[:])

	w.StoreCommitted(seq)

	traceID := p.tr.Next()
	if p.fanOutDescriptor(seq, tsNs, metaVersion, traceID) {
		p.hist.Record(slotIdx, seq, traceID)
	}
	return nil
}

// OfferFrame is the simplest producer entry point: pick a pool, publish at
// the next sequence number, fan out a descriptor (spec §4.2).
func (p *Producer) OfferFrame(tensorHdr *tensor.Header, payload []byte, tsNs uint64, metaVersion uint32) error {
	pool, err := p.selectPool(len(payload))
	if err != nil {
		return err
	}
	p.mu.Lock()
	seq := p.nextSeq
	p.nextSeq++
	p.mu.Unlock()

	slotIdx := uint32(seq % uint64(p.cfg.NSlots))
	debug.Assert(slotIdx < p.cfg.NSlots)
	return p.publish(seq, pool, slotIdx, tensorHdr, payload, tsNs, metaVersion)
}

// TryClaim reserves the next sequence's slot in the given pool without
// writing the payload yet (spec §4.2 "try_claim").
func (p *Producer) TryClaim(poolID uint16, maxLen int) (*BufferClaim, error) {
	var pool *Pool
	for _, pl := range p.cfg.Pools {
		if pl.PoolID == poolID {
			pool = pl
			break
		}
	}
	if pool == nil {
		return nil, cos.NewNoPoolErr("producer: no pool with id %d", poolID)
	}
	if maxLen > int(pool.StrideBytes) {
		return nil, cos.NewTooSmallErr("producer: claim length %d exceeds pool stride %d", maxLen, pool.StrideBytes)
	}
	p.mu.Lock()
	seq := p.nextSeq
	p.nextSeq++
	p.mu.Unlock()

	slotIdx := uint32(seq % uint64(p.cfg.NSlots))
	off := pool.slotOffset(slotIdx)
	view := pool.Region.View()
	return &BufferClaim{seq: seq, pool: pool, slot: slotIdx, payload: view[off : off+maxLen], claimed: true}, nil
}

// Buffer returns the claimed payload region the caller should write into
// directly before calling CommitClaim.
func (c *BufferClaim) Buffer() []byte { return c.payload }

// CommitClaim runs the publish steps 5-9 against a previously reserved
// claim (spec §4.2 "commit_claim").
func (p *Producer) CommitClaim(c *BufferClaim, tensorHdr *tensor.Header, length int, tsNs uint64, metaVersion uint32) error {
	if !c.claimed {
		return cos.NewRejectedErr("producer: claim already consumed")
	}
	c.claimed = false
	return p.publish(c.seq, c.pool, c.slot, tensorHdr, c.payload[:length], tsNs, metaVersion)
}

// AbortClaim is a no-op against the seqlock: the sequence is simply skipped
// (spec §4.2 "abort_claim").
func (p *Producer) AbortClaim(c *BufferClaim) {
	c.claimed = false
}

// QueueClaim performs an atomic in-progress store with a freshly assigned
// sequence; only meaningful in fixed-pool mode (spec §4.2 "queue_claim").
func (p *Producer) QueueClaim(poolID uint16) (*BufferClaim, error) {
	c, err := p.TryClaim(poolID, int(p.poolByID(poolID).StrideBytes))
	if err != nil {
		return nil, err
	}
	slot := p.headerSlot(c.slot)
	seqlock.At(slot).StoreInProgress(c.seq)
	return c, nil
}

func (p *Producer) poolByID(id uint16) *Pool {
	for _, pl := range p.cfg.Pools {
		if pl.PoolID == id {
			return pl
		}
	}
	return nil
}

// fanOutDescriptor implements spec §4.3: shared publication, then
// rate-limited per-consumer publications. It reports whether at least one
// offer succeeded; the caller only records trace history in that case,
// since a traceLinkSet can only legitimately reference a seq/trace_id
// that actually reached a subscriber.
func (p *Producer) fanOutDescriptor(seq uint64, tsNs uint64, metaVersion uint32, traceID uint64) bool {
	desc := &wire.FrameDescriptor{
		StreamID:    p.cfg.StreamID,
		Epoch:       p.cfg.Epoch,
		Seq:         seq,
		TimestampNs: tsNs,
		MetaVersion: metaVersion,
		TraceID:     traceID,
	}
	encoded := desc.Encode()

	anyOK := false
	if p.cfg.DescriptorPub != nil {
		res := p.cfg.DescriptorPub.Offer(encoded)
		switch res {
		case fabric.OfferOK:
			anyOK = true
		case fabric.OfferNotConnected:
			if !p.cfg.DropUnconnectedDescriptors {
				nlog.Warningf("producer: descriptor offer failed: not connected")
			}
		default:
			nlog.Warningf("producer: descriptor offer failed: %v", res.Error())
		}
	}

	if p.consumerMgr && p.registry != nil {
		now := time.Now().UnixNano()
		for _, e := range p.registry.Entries() {
			if e.DescriptorPub == nil {
				continue
			}
			if e.Mode == wire.ModeRateLimited && e.MaxRateHz > 0 {
				minIntervalNs := int64(1e9 / float64(e.MaxRateHz))
				if now-e.LastDescriptorNs < minIntervalNs {
					continue
				}
				e.LastDescriptorNs = now
			}
			if e.DescriptorPub.Offer(encoded) == fabric.OfferOK {
				anyOK = true
			}
		}
	}

	return anyOK
}

// OfferProgress computes the aggregated progress policy across the
// registry and, if ShouldPublishProgress agrees, offers a frameProgress
// message (spec §4.4).
func (p *Producer) OfferProgress(seq uint64, bytesFilled uint64, majorUnit int64, state registry.ProgressState, pub fabric.Publication) (registry.ProgressState, bool) {
	var policy registry.Policy
	if p.consumerMgr && p.registry != nil {
		policy = registry.AggregateProgressPolicy(p.registry.Entries())
	} else {
		policy = registry.AggregateProgressPolicy(nil)
	}
	now := time.Now().UnixNano()
	if !registry.ShouldPublishProgress(&state, policy, now, bytesFilled, majorUnit) {
		return state, false
	}
	msg := &wire.FrameProgress{
		StreamID:           p.cfg.StreamID,
		Epoch:              p.cfg.Epoch,
		Seq:                seq,
		PayloadBytesFilled: bytesFilled,
		State:              wire.InProgress,
	}
	if pub != nil {
		pub.Offer(msg.Encode())
	}
	return state, true
}

// PollControl drains the control subscription, dispatching consumerHello
// messages into the registry (spec §4.4 update(hello)).
func (p *Producer) PollControl(limit int) int {
	if p.cfg.ControlSub == nil {
		return 0
	}
	n := 0
	p.cfg.ControlSub.Poll(func(payload []byte) {
		hello, err := wire.DecodeConsumerHello(payload)
		if err != nil {
			if err == wire.ErrNotMine {
				return
			}
			nlog.Warningf("producer: consumerHello decode failed: %v", err)
			return
		}
		if p.registry != nil {
			if err := p.registry.Update(hello, time.Now().UnixNano()); err != nil {
				nlog.Warningf("producer: registry update rejected hello from consumer %d: %v", hello.ConsumerID, err)
			}
		}
		n++
	}, limit)
	return n
}

// Sweep evicts stale registry entries (spec §4.4 sweep); the caller supplies
// staleNs, typically tpcfg.Rom.StaleConsumer().
func (p *Producer) Sweep(staleNs int64) []uint64 {
	if p.registry == nil {
		return nil
	}
	return p.registry.Sweep(time.Now().UnixNano(), staleNs)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cfg.DescriptorPub != nil {
		p.cfg.DescriptorPub.Close()
	}
	if p.cfg.QosPub != nil {
		p.cfg.QosPub.Close()
	}
	if p.cfg.MetadataPub != nil {
		p.cfg.MetadataPub.Close()
	}
	if p.cfg.ControlSub != nil {
		p.cfg.ControlSub.Close()
	}
	return p.cfg.HeaderRing.Unmap(true)
}
