package discovery

import (
	"sync"
	"time"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/wire"
)

// Client is the discovery_client named in spec §6: request/poll(response
// timeout).
type Client struct {
	pub fabric.Publication
	sub fabric.Subscription

	mu              sync.Mutex
	nextCorrelation uint64
	pending         map[uint64]*wire.DiscoveryResponse
}

func NewClient(pub fabric.Publication, sub fabric.Subscription) *Client {
	return &Client{pub: pub, sub: sub, nextCorrelation: 1, pending: make(map[uint64]*wire.DiscoveryResponse)}
}

func (c *Client) drain(limit int) {
	c.sub.Poll(func(payload []byte) {
		resp, err := wire.DecodeDiscoveryResponse(payload)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.pending[resp.CorrelationID] = resp
		c.mu.Unlock()
	}, limit)
}

// Request offers a discoveryRequest and returns a correlation id to pass to
// Poll.
func (c *Client) Request(req *wire.DiscoveryRequest) (uint64, error) {
	c.mu.Lock()
	corr := c.nextCorrelation
	c.nextCorrelation++
	c.mu.Unlock()
	req.CorrelationID = corr
	if res := c.pub.Offer(req.Encode()); res != fabric.OfferOK {
		return 0, res.Error()
	}
	return corr, nil
}

// Poll waits up to timeout for the response matching correlationID (spec §6
// "poll(response timeout)").
func (c *Client) Poll(correlationID uint64, timeout time.Duration) (*wire.DiscoveryResponse, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.drain(16)
		c.mu.Lock()
		resp, ok := c.pending[correlationID]
		if ok {
			delete(c.pending, correlationID)
		}
		c.mu.Unlock()
		if ok {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return nil, cos.NewTimeoutErr("discovery: query timed out after %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
