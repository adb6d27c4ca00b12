// Package consumer is the consumer-side state machine (spec §4.5): maps the
// header ring and pools published by a producer, validates superblocks,
// drains descriptor/control/progress subscriptions, and reads committed
// frames through the seqlock protocol.
package consumer

import (
	"sync"
	"time"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/shm"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

type State int

const (
	Unmapped State = iota
	Mapped
	Fallback
)

// PoolBinding is one expected payload pool, identified the way a
// shmPoolAnnounce/shmAttachResponse names it.
type PoolBinding struct {
	PoolID      uint16
	URI         string
	StrideBytes uint32
}

// Config is everything the consumer needs to attach (spec §4.5 "attach").
type Config struct {
	StreamID        uint32
	Epoch           uint64
	LayoutVersion   uint32
	HeaderRegionURI string
	HeaderNSlots    uint32
	Pools           []PoolBinding
	AllowedBases    []string

	// FallbackPayloadURI, if set, is tried when superblock validation fails,
	// transitioning the consumer to Fallback instead of failing attach.
	FallbackPayloadURI string

	DescriptorSub fabric.Subscription
	ControlSub    fabric.Subscription
	ProgressSub   fabric.Subscription
}

// ReadResult mirrors seqlock.ReadResult at the consumer's public surface.
type ReadResult = seqlock.ReadResult

const (
	Ok        = seqlock.Ready
	NotReady  = seqlock.NotReady
	ErrResult = seqlock.GapOrLate
)

// Frame is what ReadFrame copies into on success.
type Frame struct {
	SlotHeader  seqlock.SlotHeader
	TensorHdr   tensor.Header
	Payload     []byte
}

type DescriptorHandler func(*wire.FrameDescriptor, any)
type ProgressHandler func(*wire.FrameProgress, any)

// Consumer is the public consumer handle (spec §6 "consumer").
type Consumer struct {
	cfg    Config
	state  State
	header *shm.Region
	pools  map[uint16]*shm.Region

	mu sync.Mutex

	descHandler DescriptorHandler
	descClientd any
	progHandler ProgressHandler
	progClientd any

	lastSeqSeen  int64
	dropsGap     uint64
	dropsLate    uint64

	reattachFailures int
	reattachDeadline time.Time
	reattachPending  bool
	errState         bool
}

func Init(cfg Config) *Consumer {
	return &Consumer{
		cfg:        cfg,
		state:      Unmapped,
		pools:      make(map[uint16]*shm.Region),
		lastSeqSeen: -1,
	}
}

// Attach maps the header ring and every configured pool, validating each
// superblock against what the attach response promised (spec §4.5).
func (c *Consumer) Attach() error {
	header, err := shm.Map(c.cfg.HeaderRegionURI, false, c.cfg.AllowedBases)
	if err != nil {
		return c.attachFailure(err)
	}
	streamID := c.cfg.StreamID
	epoch := c.cfg.Epoch
	layout := c.cfg.LayoutVersion
	nslots := c.cfg.HeaderNSlots
	headerType := shm.HeaderRing
	if _, err := shm.ValidateSuperblock(header.View(), &shm.Expected{
		StreamID: &streamID, Epoch: &epoch, LayoutVersion: &layout,
		RegionType: &headerType, NSlots: &nslots,
	}); err != nil {
		header.Unmap(true)
		return c.attachFailure(err)
	}

	pools := make(map[uint16]*shm.Region, len(c.cfg.Pools))
	for _, pb := range c.cfg.Pools {
		region, err := shm.Map(pb.URI, false, c.cfg.AllowedBases)
		if err != nil {
			for _, r := range pools {
				r.Unmap(true)
			}
			header.Unmap(true)
			return c.attachFailure(err)
		}
		poolType := shm.PayloadPool
		poolID := pb.PoolID
		stride := pb.StrideBytes
		if _, err := shm.ValidateSuperblock(region.View(), &shm.Expected{
			StreamID: &streamID, Epoch: &epoch, LayoutVersion: &layout,
			RegionType: &poolType, PoolID: &poolID, NSlots: &nslots, StrideBytes: &stride,
		}); err != nil {
			region.Unmap(true)
			for _, r := range pools {
				r.Unmap(true)
			}
			header.Unmap(true)
			return c.attachFailure(err)
		}
		pools[pb.PoolID] = region
	}

	c.mu.Lock()
	c.header = header
	c.pools = pools
	c.state = Mapped
	c.mu.Unlock()
	return nil
}

// attachFailure transitions to Fallback if a fallback URI is configured,
// else surfaces the original error (spec §4.5).
func (c *Consumer) attachFailure(cause error) error {
	if c.cfg.FallbackPayloadURI == "" {
		return cause
	}
	region, ferr := shm.Map(c.cfg.FallbackPayloadURI, false, c.cfg.AllowedBases)
	if ferr != nil {
		return cos.NewNotReadyErr("consumer: attach failed (%v) and fallback failed (%v)", cause, ferr)
	}
	c.mu.Lock()
	c.pools = map[uint16]*shm.Region{0: region}
	c.state = Fallback
	c.mu.Unlock()
	nlog.Warningf("consumer: attach failed (%v), using fallback payload URI", cause)
	return nil
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) SetDescriptorHandler(h DescriptorHandler, clientd any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descHandler, c.descClientd = h, clientd
}

func (c *Consumer) SetProgressHandler(h ProgressHandler, clientd any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progHandler, c.progClientd = h, clientd
}

// PollDescriptors drains up to limit descriptor fragments, updating drop
// accounting and invoking the installed handler (spec §4.5).
func (c *Consumer) PollDescriptors(limit int) int {
	if c.cfg.DescriptorSub == nil {
		return 0
	}
	n := c.cfg.DescriptorSub.Poll(func(payload []byte) {
		desc, err := wire.DecodeFrameDescriptor(payload)
		if err != nil {
			if err != wire.ErrNotMine {
				nlog.Warningf("consumer: frameDescriptor decode failed: %v", err)
			}
			return
		}
		c.trackSeq(int64(desc.Seq))
		c.mu.Lock()
		h, clientd := c.descHandler, c.descClientd
		c.mu.Unlock()
		if h != nil {
			h(desc, clientd)
		}
	}, limit)
	return n
}

func (c *Consumer) trackSeq(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.lastSeqSeen < 0:
	case seq > c.lastSeqSeen+1:
		c.dropsGap += uint64(seq - c.lastSeqSeen - 1)
	case seq <= c.lastSeqSeen:
		c.dropsLate++
	}
	if seq > c.lastSeqSeen {
		c.lastSeqSeen = seq
	}
}

// PollProgress drains progress fragments, invoking the installed handler.
func (c *Consumer) PollProgress(limit int) int {
	if c.cfg.ProgressSub == nil {
		return 0
	}
	n := c.cfg.ProgressSub.Poll(func(payload []byte) {
		p, err := wire.DecodeFrameProgress(payload)
		if err != nil {
			if err != wire.ErrNotMine {
				nlog.Warningf("consumer: frameProgress decode failed: %v", err)
			}
			return
		}
		c.mu.Lock()
		h, clientd := c.progHandler, c.progClientd
		c.mu.Unlock()
		if h != nil {
			h(p, clientd)
		}
	}, limit)
	return n
}

// PollControl drains control-stream fragments (lease_revoked, driver
// shutdown) that affect this consumer's state.
func (c *Consumer) PollControl(limit int) int {
	if c.cfg.ControlSub == nil {
		return 0
	}
	n := c.cfg.ControlSub.Poll(func(payload []byte) {
		if rev, err := wire.DecodeShmLeaseRevoked(payload); err == nil {
			c.onRevocation(rev)
			return
		}
		if sd, err := wire.DecodeShmDriverShutdown(payload); err == nil {
			nlog.Warningf("consumer: driver shutdown: %s", sd.Reason)
			c.markError()
			return
		}
	}, limit)
	return n
}

func (c *Consumer) onRevocation(rev *wire.ShmLeaseRevoked) {
	nlog.Warningf("consumer: lease %d revoked: reason=%d", rev.LeaseID, rev.Reason)
	c.markError()
	c.ScheduleReattach(time.Now())
}

func (c *Consumer) markError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errState = true
	c.state = Unmapped
}

func (c *Consumer) ErrState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errState
}

// GetDropCounts returns (gap, late) drop counters accumulated so far.
func (c *Consumer) GetDropCounts() (gap, late uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropsGap, c.dropsLate
}

// ScheduleReattach sets the backoff deadline per spec §4.5: 100ms *
// 2^min(failures,5).
func (c *Consumer) ScheduleReattach(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shift := c.reattachFailures
	if shift > 5 {
		shift = 5
	}
	backoff := 100 * time.Millisecond * time.Duration(uint64(1)<<uint(shift))
	c.reattachDeadline = now.Add(backoff)
	c.reattachPending = true
	c.reattachFailures++
}

// ReattachDue reports whether a pending reattach's backoff has elapsed.
func (c *Consumer) ReattachDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reattachPending && !now.Before(c.reattachDeadline)
}

// ReattachSucceeded clears pending/failure state after a successful Attach.
func (c *Consumer) ReattachSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reattachPending = false
	c.reattachFailures = 0
	c.errState = false
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, r := range c.pools {
		if err := r.Unmap(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.header != nil {
		if err := c.header.Unmap(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.cfg.DescriptorSub != nil {
		c.cfg.DescriptorSub.Close()
	}
	if c.cfg.ControlSub != nil {
		c.cfg.ControlSub.Close()
	}
	if c.cfg.ProgressSub != nil {
		c.cfg.ProgressSub.Close()
	}
	c.state = Unmapped
	return firstErr
}
