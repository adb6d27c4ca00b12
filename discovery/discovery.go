// Package discovery is the directory service named in spec §4.7: maintains
// per-stream SHM and data-source announcement state, expires stale entries,
// and answers subset-match queries.
package discovery

import (
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

// Entry is the directory entry named in the glossary.
type Entry struct {
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
	Pools           []wire.PoolDescriptor
	Tags            []string
	LastAnnounceNs  int64

	tagsHash uint64
}

// tagsSeed is an arbitrary fixed seed, mirroring the convention of hashing
// with a constant seed rather than zero.
const tagsSeed = 0x9e3779b9

// tagsFingerprint is a fast, order-sensitive hash of a tag set, used only to
// detect whether SetTags actually changes anything worth logging.
func tagsFingerprint(tags []string) uint64 {
	var h uint64 = tagsSeed
	for _, t := range tags {
		h = xxhash.Checksum64S([]byte(t), h)
	}
	return h
}

// Service implements init/start/do_work/apply_announce/apply_data_source/
// set_tags/query/close (spec §6 "discovery_service").
type Service struct {
	mu             sync.Mutex
	entries        map[uint32]*Entry
	announcePeriod time.Duration
	maxResults     int
	maxEntries     int

	requestSub  fabric.Subscription
	responsePub map[uint32]fabric.Publication // cached by response_stream_id
	newPub      func(streamID uint32) (fabric.Publication, error)

	closed bool
}

// Config mirrors the original tp_discovery_config.c surface: max_results
// bounds a single query's response, max_entries independently bounds the
// directory's total retained entries (supplemented feature, not named by
// the distilled spec).
type Config struct {
	AnnouncePeriod time.Duration
	MaxResults     int
	MaxEntries     int
	RequestSub     fabric.Subscription
	NewPub         func(streamID uint32) (fabric.Publication, error)
}

func Init(cfg Config) *Service {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 256
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Service{
		entries:        make(map[uint32]*Entry),
		announcePeriod: cfg.AnnouncePeriod,
		maxResults:     maxResults,
		maxEntries:     maxEntries,
		requestSub:     cfg.RequestSub,
		responsePub:    make(map[uint32]fabric.Publication),
		newPub:         cfg.NewPub,
	}
}

func (s *Service) Start() {}

// DoWork drives one iteration: drains discovery requests and answers them.
// Mirrors the teacher's cooperative do-work convention shared with
// fabric.Client.
func (s *Service) DoWork(limit int) int {
	if s.requestSub == nil {
		return 0
	}
	n := 0
	s.requestSub.Poll(func(payload []byte) {
		req, err := wire.DecodeDiscoveryRequest(payload)
		if err != nil {
			if err != wire.ErrNotMine {
				nlog.Warningf("discovery: request decode failed: %v", err)
			}
			return
		}
		n++
		s.handleRequest(req)
	}, limit)
	return n
}

// freshness is 3x announce period (spec §3 "Directory entry lifecycle").
func (s *Service) freshness() int64 { return int64(3 * s.announcePeriod) }

// ApplyAnnounce applies a shmPoolAnnounce fragment (spec §4.7). Malformed or
// stale announcements are rejected with a warning and no retained state.
func (s *Service) ApplyAnnounce(a *wire.ShmPoolAnnounce, nowNs int64) error {
	if a.HeaderSlotBytes != 256 {
		return warnReject("shmPoolAnnounce: header_slot_bytes must be 256, got %d", a.HeaderSlotBytes)
	}
	if len(a.Pools) == 0 {
		return warnReject("shmPoolAnnounce: pool_count is zero")
	}
	if a.HeaderNSlots == 0 {
		return warnReject("shmPoolAnnounce: header_nslots is zero")
	}
	for _, p := range a.Pools {
		if p.NSlots != a.HeaderNSlots {
			return warnReject("shmPoolAnnounce: pool %d nslots %d != header_nslots %d", p.PoolID, p.NSlots, a.HeaderNSlots)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[a.StreamID]
	if ok && a.Epoch < e.Epoch {
		nlog.Warningf("discovery: ignoring stale announce for stream %d: epoch %d < current %d", a.StreamID, a.Epoch, e.Epoch)
		return nil
	}
	if !ok {
		e = &Entry{StreamID: a.StreamID, LastAnnounceNs: nowNs}
		s.entries[a.StreamID] = e
		s.evictOldestLocked()
	}
	e.ProducerID = a.ProducerID
	e.Epoch = a.Epoch
	e.LayoutVersion = a.LayoutVersion
	e.HeaderNSlots = a.HeaderNSlots
	e.HeaderSlotBytes = a.HeaderSlotBytes
	e.HeaderRegionURI = a.HeaderRegionURI
	e.Pools = make([]wire.PoolDescriptor, 0, len(a.Pools))
	for _, p := range a.Pools {
		e.Pools = append(e.Pools, wire.PoolDescriptor{PoolID: p.PoolID, StrideBytes: p.StrideBytes, URI: p.URI})
	}
	e.LastAnnounceNs = nowNs
	return nil
}

func warnReject(format string, a ...any) error {
	err := cos.NewInvalidWireErr(format, a...)
	nlog.Warningf("discovery: rejected: %v", err)
	return nil
}

// ApplyDataSource applies a dataSourceAnnounce fragment.
func (s *Service) ApplyDataSource(a *wire.DataSourceAnnounce, nowNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[a.StreamID]
	if !ok {
		e = &Entry{StreamID: a.StreamID, LastAnnounceNs: nowNs}
		s.entries[a.StreamID] = e
		s.evictOldestLocked()
	}
	e.DataSourceID = a.DataSourceID
	e.DataSourceName = a.Name
	e.LastAnnounceNs = nowNs
}

// SetTags assigns (overwrites) the tag set for a stream, independent of any
// wire announcement (spec §6 "set_tags").
func (s *Service) SetTags(streamID uint32, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[streamID]
	if !ok {
		e = &Entry{StreamID: streamID}
		s.entries[streamID] = e
	}
	newHash := tagsFingerprint(tags)
	if e.tagsHash != 0 && e.tagsHash != newHash {
		nlog.Infof("discovery: stream %d tags changed: %v -> %v", streamID, e.Tags, tags)
	}
	e.Tags = tags
	e.tagsHash = newHash
}

// sweepExpired drops entries past the freshness window; called lazily by
// Query and DoWork so a property test driving only apply_announce/query
// still observes expiry.
func (s *Service) sweepExpired(nowNs int64) {
	fresh := s.freshness()
	for id, e := range s.entries {
		if nowNs-e.LastAnnounceNs > fresh {
			delete(s.entries, id)
		}
	}
}

// evictOldestLocked drops the entry with the smallest LastAnnounceNs once
// the directory exceeds maxEntries (supplemented from the original's
// tp_discovery_config.c, independent of the per-query maxResults cap).
// Caller holds s.mu.
func (s *Service) evictOldestLocked() {
	if len(s.entries) <= s.maxEntries {
		return
	}
	var oldestID uint32
	var oldestNs int64 = -1
	for id, e := range s.entries {
		if oldestNs == -1 || e.LastAnnounceNs < oldestNs {
			oldestID, oldestNs = id, e.LastAnnounceNs
		}
	}
	delete(s.entries, oldestID)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, p := range s.responsePub {
		p.Close()
	}
	if s.requestSub != nil {
		s.requestSub.Close()
	}
	return nil
}
