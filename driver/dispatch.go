package driver

import (
	"time"

	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

// Dispatch decodes one control-stream fragment and applies it to the
// server, returning an encoded response to offer back (nil if the fragment
// produced no reply, e.g. a keepalive). Used by cmd/tp-driverd's poll loop.
func (s *Server) Dispatch(payload []byte) []byte {
	now := time.Now().UnixNano()

	if req, err := wire.DecodeShmAttachRequest(payload); err == nil {
		return s.Attach(req, now).Encode()
	}
	if req, err := wire.DecodeShmKeepalive(payload); err == nil {
		if err := s.Keepalive(req.LeaseID, now); err != nil {
			nlog.Warningf("driver: keepalive: %v", err)
		}
		return nil
	}
	if req, err := wire.DecodeShmDetachRequest(payload); err == nil {
		return s.Detach(req, now).Encode()
	}
	nlog.Warningf("driver: dispatch: unrecognized control fragment (%d bytes)", len(payload))
	return nil
}
