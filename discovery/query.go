package discovery

import (
	"time"

	"github.com/tensorpool/tpool/wire"
)

// Query implements spec §4.7's query(request, out): filters by any subset
// of {stream_id, producer_id, data_source_id, data_source_name, tags
// (subset match)}. If the match count exceeds max_results, returns
// ErrLimit with no results.
func (s *Service) Query(req *wire.DiscoveryRequest, nowNs int64) *wire.DiscoveryResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpired(nowNs)

	resp := &wire.DiscoveryResponse{CorrelationID: req.CorrelationID, Status: wire.DiscoveryOK}
	for _, e := range s.entries {
		if !matches(e, req) {
			continue
		}
		if len(resp.Results)+1 > s.maxResults {
			return &wire.DiscoveryResponse{
				CorrelationID: req.CorrelationID,
				Status:        wire.DiscoveryErrLimit,
				ErrorMessage:  "result limit exceeded",
			}
		}
		resp.Results = append(resp.Results, toResult(e))
	}
	return resp
}

func matches(e *Entry, req *wire.DiscoveryRequest) bool {
	if req.StreamID != wire.NullU32 && e.StreamID != req.StreamID {
		return false
	}
	if req.ProducerID != wire.NullU64 && e.ProducerID != req.ProducerID {
		return false
	}
	if req.DataSourceID != wire.NullU64 && e.DataSourceID != req.DataSourceID {
		return false
	}
	if req.DataSourceName != "" && e.DataSourceName != req.DataSourceName {
		return false
	}
	if len(req.Tags) > 0 && !isTagSubset(req.Tags, e.Tags) {
		return false
	}
	return true
}

// isTagSubset reports whether every tag in want is present in have.
func isTagSubset(want, have []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func toResult(e *Entry) wire.DiscoveryResult {
	return wire.DiscoveryResult{
		StreamID: e.StreamID, ProducerID: e.ProducerID, Epoch: e.Epoch,
		LayoutVersion: e.LayoutVersion, HeaderNSlots: e.HeaderNSlots,
		HeaderSlotBytes: e.HeaderSlotBytes, MaxDims: e.MaxDims,
		DataSourceID: e.DataSourceID, DataSourceName: e.DataSourceName,
		HeaderRegionURI: e.HeaderRegionURI, Pools: e.Pools, Tags: e.Tags,
	}
}

// handleRequest answers a discovery request received off the fabric,
// offering the response to the requestor's response_stream_id; a missing
// response endpoint yields a silent drop (spec §4.7).
func (s *Service) handleRequest(req *wire.DiscoveryRequest) {
	if req.ResponseStreamID == wire.NullU32 {
		return
	}
	resp := s.Query(req, time.Now().UnixNano())

	s.mu.Lock()
	pub, ok := s.responsePub[req.ResponseStreamID]
	if !ok && s.newPub != nil {
		if p, err := s.newPub(req.ResponseStreamID); err == nil {
			pub = p
			s.responsePub[req.ResponseStreamID] = p
		}
	}
	s.mu.Unlock()
	if pub == nil {
		return
	}
	pub.Offer(resp.Encode())
}
