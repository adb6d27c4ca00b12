package driver

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/wire"
)

// NewClientID generates a random client identifier for callers that don't
// want to assign their own node/consumer id. The wire protocol only ever
// sees whatever uint64 ends up in ShmAttachRequest.ClientID; this is purely
// a convenience for the common case of "any unique id will do".
func NewClientID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

// AsyncToken is returned by the *_async entry points; Poll drains exactly
// one completion per token (spec §4.6 "Async attach").
type AsyncToken struct {
	correlationID uint64
	cancelled     bool
}

func (t *AsyncToken) Cancel() { t.cancelled = true }

type pendingAttach struct {
	token *AsyncToken
	resp  *wire.ShmAttachResponse
}

type pendingDetach struct {
	token *AsyncToken
	resp  *wire.ShmDetachResponse
}

// Client is the driver_client named in spec §6: sync and async
// attach/keepalive/detach plus lease-state inspection, speaking
// ShmAttachRequest/Response and ShmDetachResponse over a control
// publication/subscription pair.
type Client struct {
	pub fabric.Publication
	sub fabric.Subscription

	clientID uint64
	timeout  time.Duration

	mu              sync.Mutex
	nextCorrelation uint64
	lease           *wire.ShmAttachResponse
	pendingAttaches map[uint64]*pendingAttach
	pendingDetaches map[uint64]*pendingDetach
}

func NewClient(pub fabric.Publication, sub fabric.Subscription, clientID uint64, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	if clientID == 0 {
		clientID = NewClientID()
	}
	return &Client{
		pub: pub, sub: sub, clientID: clientID, timeout: timeout,
		nextCorrelation: 1,
		pendingAttaches: make(map[uint64]*pendingAttach),
		pendingDetaches: make(map[uint64]*pendingDetach),
	}
}

func (c *Client) correlation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextCorrelation
	c.nextCorrelation++
	return id
}

// AttachAsync offers a ShmAttachRequest and returns a token; AttachPoll must
// be driven (directly or via the cooperative client loop) until it returns
// a non-zero result.
func (c *Client) AttachAsync(streamID uint32, role wire.Role, expectedLayoutVersion uint32, publishMode wire.PublishMode, requireHugepages wire.HugepagesRequirement, desiredNodeID uint32) (*AsyncToken, error) {
	corr := c.correlation()
	req := &wire.ShmAttachRequest{
		CorrelationID: corr, StreamID: streamID, ClientID: c.clientID, Role: role,
		ExpectedLayoutVersion: expectedLayoutVersion, PublishMode: publishMode,
		RequireHugepages: requireHugepages, DesiredNodeID: desiredNodeID,
	}
	if res := c.pub.Offer(req.Encode()); res != fabric.OfferOK {
		return nil, res.Error()
	}
	tok := &AsyncToken{correlationID: corr}
	c.mu.Lock()
	c.pendingAttaches[corr] = &pendingAttach{token: tok}
	c.mu.Unlock()
	return tok, nil
}

// Poll drains the control subscription and resolves matching pending
// attach/detach tokens; the cooperative client loop calls this once per
// DoWork iteration.
func (c *Client) Poll(limit int) int {
	n := 0
	c.sub.Poll(func(payload []byte) {
		if resp, err := wire.DecodeShmAttachResponse(payload); err == nil {
			c.mu.Lock()
			if p, ok := c.pendingAttaches[resp.CorrelationID]; ok {
				p.resp = resp
				if resp.Code == wire.AttachOK {
					c.lease = resp
				}
			}
			c.mu.Unlock()
			n++
			return
		}
		if resp, err := wire.DecodeShmDetachResponse(payload); err == nil {
			c.mu.Lock()
			if p, ok := c.pendingDetaches[resp.CorrelationID]; ok {
				p.resp = resp
			}
			c.mu.Unlock()
			n++
			return
		}
	}, limit)
	return n
}

// AttachPoll returns <0 on error, 0 if not ready, >0 on completion (spec
// §4.6 "attach_poll"); a cancelled token always returns >0 with a nil out.
func (c *Client) AttachPoll(tok *AsyncToken) (int, *wire.ShmAttachResponse) {
	if tok.cancelled {
		c.mu.Lock()
		delete(c.pendingAttaches, tok.correlationID)
		c.mu.Unlock()
		return 1, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pendingAttaches[tok.correlationID]
	if !ok || p.resp == nil {
		return 0, nil
	}
	delete(c.pendingAttaches, tok.correlationID)
	if p.resp.Code != wire.AttachOK {
		return -1, p.resp
	}
	return 1, p.resp
}

// Attach is the synchronous wrapper, polling until response or timeout
// (spec §5 "Timeouts": attach default 2s).
func (c *Client) Attach(streamID uint32, role wire.Role, expectedLayoutVersion uint32, publishMode wire.PublishMode, requireHugepages wire.HugepagesRequirement, desiredNodeID uint32) (*wire.ShmAttachResponse, error) {
	tok, err := c.AttachAsync(streamID, role, expectedLayoutVersion, publishMode, requireHugepages, desiredNodeID)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		c.Poll(16)
		if res, resp := c.AttachPoll(tok); res != 0 {
			if res < 0 {
				return nil, cos.NewRejectedErr("driver: attach rejected: %s", resp.ErrorMessage)
			}
			return resp, nil
		}
		time.Sleep(time.Millisecond)
	}
	tok.Cancel()
	return nil, cos.NewTimeoutErr("driver: attach timed out after %s", c.timeout)
}

// Keepalive sends a keepalive for the currently held lease. It is
// fire-and-forget over the control publication; the driver side applies it
// without acknowledgement (spec §4.6 "Keepalive").
func (c *Client) Keepalive(nowNs int64) error {
	c.mu.Lock()
	lease := c.lease
	c.mu.Unlock()
	if lease == nil {
		return cos.NewNotReadyErr("driver: no active lease to keepalive")
	}
	req := &wire.ShmKeepalive{LeaseID: lease.LeaseID, NowNs: uint64(nowNs)}
	if res := c.pub.Offer(req.Encode()); res != fabric.OfferOK {
		return res.Error()
	}
	return nil
}

// DetachAsync and DetachPoll mirror the attach async shape.
func (c *Client) DetachAsync() (*AsyncToken, error) {
	c.mu.Lock()
	lease := c.lease
	c.mu.Unlock()
	if lease == nil {
		return nil, cos.NewNotReadyErr("driver: no active lease to detach")
	}
	corr := c.correlation()
	req := &wire.ShmDetachRequest{CorrelationID: corr, LeaseID: lease.LeaseID}
	if res := c.pub.Offer(req.Encode()); res != fabric.OfferOK {
		return nil, res.Error()
	}
	tok := &AsyncToken{correlationID: corr}
	c.mu.Lock()
	c.pendingDetaches[corr] = &pendingDetach{token: tok}
	c.mu.Unlock()
	return tok, nil
}

// Detach is the synchronous wrapper around DetachAsync/DetachPoll.
func (c *Client) Detach() (*wire.ShmDetachResponse, error) {
	tok, err := c.DetachAsync()
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		c.Poll(16)
		if res, resp := c.DetachPoll(tok); res != 0 {
			c.mu.Lock()
			c.lease = nil
			c.mu.Unlock()
			return resp, nil
		}
		time.Sleep(time.Millisecond)
	}
	tok.Cancel()
	return nil, cos.NewTimeoutErr("driver: detach timed out after %s", c.timeout)
}

func (c *Client) DetachPoll(tok *AsyncToken) (int, *wire.ShmDetachResponse) {
	if tok.cancelled {
		c.mu.Lock()
		delete(c.pendingDetaches, tok.correlationID)
		c.mu.Unlock()
		return 1, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pendingDetaches[tok.correlationID]
	if !ok || p.resp == nil {
		return 0, nil
	}
	delete(c.pendingDetaches, tok.correlationID)
	return 1, p.resp
}

// Lease returns the currently cached attach response, or nil if unattached.
func (c *Client) Lease() *wire.ShmAttachResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease
}
