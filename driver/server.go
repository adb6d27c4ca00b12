package driver

import (
	"sync"
	"time"

	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

// StreamConfig is the driver's static knowledge of one stream, normally
// sourced from the driver daemon's config.toml.
type StreamConfig struct {
	StreamID        uint32
	LayoutVersion   uint32
	HeaderNSlots    uint32
	HeaderSlotBytes uint32
	HeaderRegionURI string
	HugepagesBacked bool
	Pools           []wire.PoolDescriptor
}

type streamState struct {
	cfg          StreamConfig
	epoch        uint64
	everExisted  bool
	producer     *Lease // exclusive (spec §4.6 point 2)
	leases       map[uint64]*Lease
	cooldownTill map[uint32]int64 // node id -> cooldown expiry ns
}

// ServerConfig carries the timing knobs named in spec §5 "Timeouts".
type ServerConfig struct {
	KeepaliveIntervalNs   int64
	LeaseExpiryGraceIntvs int
	CooldownNs            int64
}

// Server is the driver's attach/keepalive/detach authority (spec §4.6). It
// holds no fabric dependency itself; the daemon wrapping it (cmd/tp-driverd)
// decodes requests off the wire and re-encodes responses.
type Server struct {
	cfg ServerConfig

	mu          sync.Mutex
	streams     map[uint32]*streamState
	nextLeaseID uint64
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.KeepaliveIntervalNs == 0 {
		cfg.KeepaliveIntervalNs = int64(time.Second)
	}
	if cfg.LeaseExpiryGraceIntvs == 0 {
		cfg.LeaseExpiryGraceIntvs = 3
	}
	if cfg.CooldownNs == 0 {
		cfg.CooldownNs = int64(10 * time.Second)
	}
	return &Server{cfg: cfg, streams: make(map[uint32]*streamState), nextLeaseID: 1}
}

// RegisterStream seeds the driver with a stream's static layout. Attaches
// against an unregistered stream fail with AttachRejected, except a producer
// attach with publish_mode=EXISTING_OR_CREATE, which creates the stream.
func (s *Server) RegisterStream(cfg StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[cfg.StreamID] = &streamState{
		cfg:          cfg,
		leases:       make(map[uint64]*Lease),
		cooldownTill: make(map[uint32]int64),
	}
}

// Attach implements spec §4.6's driver-side policy list in order.
func (s *Server) Attach(req *wire.ShmAttachRequest, nowNs int64) *wire.ShmAttachResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &wire.ShmAttachResponse{CorrelationID: req.CorrelationID, StreamID: req.StreamID}

	st, ok := s.streams[req.StreamID]
	if !ok {
		if req.PublishMode == wire.ExistingOrCreate && req.Role == wire.RoleProducer {
			st = &streamState{
				cfg: StreamConfig{
					StreamID:      req.StreamID,
					LayoutVersion: req.ExpectedLayoutVersion,
				},
				leases:       make(map[uint64]*Lease),
				cooldownTill: make(map[uint32]int64),
			}
			s.streams[req.StreamID] = st
		} else {
			resp.Code = wire.AttachRejected
			resp.ErrorMessage = "stream has never been created"
			return resp
		}
	}

	if req.ExpectedLayoutVersion != st.cfg.LayoutVersion {
		resp.Code = wire.AttachRejected
		resp.ErrorMessage = "layout version mismatch"
		return resp
	}
	if req.PublishMode == wire.RequireExisting && !st.everExisted {
		resp.Code = wire.AttachRejected
		resp.ErrorMessage = "stream has never been created"
		return resp
	}
	if req.RequireHugepages == wire.HugepagesRequired && !st.cfg.HugepagesBacked {
		resp.Code = wire.AttachRejected
		resp.ErrorMessage = "hugepages required but base is not hugetlbfs"
		return resp
	}
	if req.Role == wire.RoleProducer && st.producer != nil {
		resp.Code = wire.AttachRejected
		resp.ErrorMessage = "producer role already held"
		return resp
	}
	if req.DesiredNodeID != wire.NullU32 {
		if till, ok := st.cooldownTill[req.DesiredNodeID]; ok && nowNs < till {
			resp.Code = wire.AttachRejected
			resp.ErrorMessage = "node id in cooldown"
			return resp
		}
	}

	leaseID := s.nextLeaseID
	s.nextLeaseID++
	nodeID := req.DesiredNodeID
	if nodeID == wire.NullU32 {
		nodeID = uint32(leaseID)
	}
	expiry := nowNs + s.cfg.KeepaliveIntervalNs*int64(s.cfg.LeaseExpiryGraceIntvs)
	lease := &Lease{
		LeaseID: leaseID, ClientID: req.ClientID, StreamID: req.StreamID,
		Role: req.Role, NodeID: nodeID, ExpiryNs: expiry, lastKeepalive: nowNs,
	}
	st.leases[leaseID] = lease
	if req.Role == wire.RoleProducer {
		st.producer = lease
		st.everExisted = true
		st.epoch++
	}

	resp.Code = wire.AttachOK
	resp.LeaseID = leaseID
	resp.LeaseExpiryTimestampNs = uint64(expiry)
	resp.Epoch = st.epoch
	resp.LayoutVersion = st.cfg.LayoutVersion
	resp.HeaderNSlots = st.cfg.HeaderNSlots
	resp.HeaderSlotBytes = st.cfg.HeaderSlotBytes
	resp.NodeID = nodeID
	resp.HeaderRegionURI = st.cfg.HeaderRegionURI
	resp.Pools = st.cfg.Pools
	return resp
}

// Keepalive extends a lease's expiry (spec §5 "record_keepalive").
func (s *Server) Keepalive(leaseID uint64, nowNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.findLease(leaseID)
	if l == nil {
		return cos.NewLeaseExpiredErr("driver: keepalive for unknown lease %d", leaseID)
	}
	l.lastKeepalive = nowNs
	l.ExpiryNs = nowNs + s.cfg.KeepaliveIntervalNs*int64(s.cfg.LeaseExpiryGraceIntvs)
	return nil
}

// Detach releases a lease and starts the (stream, node_id) cooldown (spec
// §4.6 point 5).
func (s *Server) Detach(req *wire.ShmDetachRequest, nowNs int64) *wire.ShmDetachResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := &wire.ShmDetachResponse{CorrelationID: req.CorrelationID}
	for _, st := range s.streams {
		if l, ok := st.leases[req.LeaseID]; ok {
			s.releaseLease(st, l, nowNs)
			resp.Code = wire.CtlOK
			return resp
		}
	}
	resp.Code = wire.CtlRejected
	return resp
}

// ActiveLeaseCount returns the number of leases currently held across every
// registered stream, for metrics export.
func (s *Server) ActiveLeaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.streams {
		n += len(st.leases)
	}
	return n
}

func (s *Server) findLease(leaseID uint64) *Lease {
	for _, st := range s.streams {
		if l, ok := st.leases[leaseID]; ok {
			return l
		}
	}
	return nil
}

func (s *Server) releaseLease(st *streamState, l *Lease, nowNs int64) {
	delete(st.leases, l.LeaseID)
	if st.producer == l {
		st.producer = nil
	}
	st.cooldownTill[l.NodeID] = nowNs + s.cfg.CooldownNs
}

// Sweep expires leases whose grace window has passed, returning a
// lease_revoked message per expired lease (spec §4.6 point 6).
func (s *Server) Sweep(nowNs int64) []*wire.ShmLeaseRevoked {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*wire.ShmLeaseRevoked
	for _, st := range s.streams {
		for id, l := range st.leases {
			if !l.expired(nowNs) {
				continue
			}
			s.releaseLease(st, l, nowNs)
			_ = id
			revoked = append(revoked, &wire.ShmLeaseRevoked{LeaseID: l.LeaseID, Reason: wire.ReasonExpired})
		}
	}
	return revoked
}

// Shutdown revokes every outstanding lease with ReasonShutdown and returns
// the broadcast message the daemon should emit before exiting.
func (s *Server) Shutdown(reason string) (*wire.ShmDriverShutdown, []*wire.ShmLeaseRevoked) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []*wire.ShmLeaseRevoked
	for _, st := range s.streams {
		for _, l := range st.leases {
			revoked = append(revoked, &wire.ShmLeaseRevoked{LeaseID: l.LeaseID, Reason: wire.ReasonShutdown})
		}
		st.leases = make(map[uint64]*Lease)
		st.producer = nil
	}
	nlog.Infof("driver: shutdown: %s", reason)
	return &wire.ShmDriverShutdown{Reason: reason}, revoked
}
