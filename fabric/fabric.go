// Package fabric is the client context, client conductor, and fabric
// adapter named in spec §4.9/§6. The messaging fabric itself is an external
// collaborator (spec §1 Out of scope): this package states its contract as
// Go interfaces (Publication, Subscription) and ships one concrete,
// in-process adapter (Loopback) plus a length-delimited TCP adapter for the
// multi-process CLI tools -- grounded on the teacher's transport/pdu.go
// framing discipline.
package fabric

import (
	"time"

	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
)

// OfferResult mirrors the underlying publication's offer outcome (spec §4.2
// "Back-pressure").
type OfferResult int

const (
	OfferOK OfferResult = iota
	OfferBackPressured
	OfferNotConnected
	OfferAdminAction
	OfferClosed
	OfferMaxPositionExceeded
)

func (r OfferResult) Error() error {
	switch r {
	case OfferOK:
		return nil
	case OfferBackPressured:
		return cos.NewBackPressuredErr("fabric: offer back-pressured")
	case OfferNotConnected:
		return cos.NewNotConnectedErr("fabric: publication not connected")
	case OfferAdminAction:
		return cos.NewAdminActionErr("fabric: offer rejected by admin action")
	case OfferClosed:
		return cos.NewClosedErr("fabric: publication closed")
	case OfferMaxPositionExceeded:
		return cos.NewBackPressuredErr("fabric: max position exceeded")
	}
	return nil
}

// Publication is an ordered unicast send endpoint for one logical stream.
type Publication interface {
	Offer(payload []byte) OfferResult
	IsConnected() bool
	StreamID() uint32
	Close() error
}

// FragmentHandler receives one reassembled fragment from a Subscription.Poll.
type FragmentHandler func(payload []byte)

// Subscription is an ordered unicast receive endpoint for one logical stream.
type Subscription interface {
	Poll(h FragmentHandler, limit int) int
	StreamID() uint32
	Close() error
}

// ClientContext holds every setter named in spec §6's public API surface.
type ClientContext struct {
	BasePath             string
	BaseChannel          uint32
	AllowedPaths         []string
	KeepaliveInterval    time.Duration
	LeaseGrace           time.Duration
	AnnouncePeriod       time.Duration
	MessageTimeout       time.Duration
	UseCooperativeInvoker bool
	ErrorHandler         func(err error)
}

func NewClientContext() *ClientContext {
	return &ClientContext{
		KeepaliveInterval: time.Second,
		LeaseGrace:        3 * time.Second,
		AnnouncePeriod:    time.Second,
		MessageTimeout:    2 * time.Second,
	}
}

func (c *ClientContext) WithBasePath(p string) *ClientContext        { c.BasePath = p; return c }
func (c *ClientContext) WithBaseChannel(ch uint32) *ClientContext    { c.BaseChannel = ch; return c }
func (c *ClientContext) WithAllowedPaths(p []string) *ClientContext  { c.AllowedPaths = p; return c }
func (c *ClientContext) WithKeepalive(d time.Duration) *ClientContext { c.KeepaliveInterval = d; return c }
func (c *ClientContext) WithLeaseGrace(d time.Duration) *ClientContext { c.LeaseGrace = d; return c }
func (c *ClientContext) WithAnnouncePeriod(d time.Duration) *ClientContext {
	c.AnnouncePeriod = d
	return c
}
func (c *ClientContext) WithMessageTimeout(d time.Duration) *ClientContext {
	c.MessageTimeout = d
	return c
}
func (c *ClientContext) WithErrorHandler(h func(error)) *ClientContext { c.ErrorHandler = h; return c }
func (c *ClientContext) WithCooperativeInvoker(b bool) *ClientContext {
	c.UseCooperativeInvoker = b
	return c
}

func (c *ClientContext) reportError(err error) {
	if err == nil {
		return
	}
	if c.ErrorHandler != nil {
		c.ErrorHandler(err)
		return
	}
	nlog.Warningf("fabric: unhandled error: %v", err)
}

// Default stream-id allocation per spec §6.
const (
	DefaultControlStreamID    = 1000
	DefaultAnnounceStreamID   = 1001
	DefaultDescriptorStreamID = 1100
	DefaultQosStreamID        = 1200
	DefaultMetadataStreamID   = 1300
	DefaultDiscoveryStreamID  = 1400
)

// Client is the single-threaded cooperative loop driver (spec §5). It owns
// no publications/subscriptions directly -- producer/consumer/driver.Client
// create their own from a Loopback or TCP adapter and hand their poll functions to
// DoWork via RegisterWorker.
type Client struct {
	ctx      *ClientContext
	idle     *IdleStrategy
	workers  []func() int // returns work-done count, like aeron-style agents
	closed   bool
}

func NewClient(ctx *ClientContext) *Client {
	return &Client{ctx: ctx, idle: NewIdleStrategy(time.Millisecond)}
}

func (c *Client) Init() error { return nil }

// RegisterWorker adds a function invoked once per DoWork call; it should be
// non-blocking and return the number of fragments/events processed.
func (c *Client) RegisterWorker(w func() int) { c.workers = append(c.workers, w) }

// DoWork drives one iteration of every registered worker and idles if none
// of them did any work, exactly mirroring the teacher's cooperative-loop
// idiom (transport send/complete loops, hk's housekeeping loop).
func (c *Client) DoWork() int {
	total := 0
	for _, w := range c.workers {
		total += w()
	}
	c.idle.Idle(total == 0)
	return total
}

// Start runs DoWork in a loop on the calling goroutine until Close, for
// applications that want the client to own its thread (spec §5 "Applications
// may drive the loop manually or via a delegating invoker").
func (c *Client) Start() {
	for !c.closed {
		c.DoWork()
	}
}

func (c *Client) Close() error {
	c.closed = true
	return nil
}
