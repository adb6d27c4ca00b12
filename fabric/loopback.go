package fabric

import (
	"sync"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// Loopback is an in-process Publication/Subscription pair set, used by the
// tests to exercise producer/consumer/driver/discovery
// wiring without a real messaging fabric. Every stream id maps to a single
// bounded channel; fan-out to more than one subscriber per stream is not
// supported (same restriction the real fabric's unicast streams have).
type Loopback struct {
	mu      sync.Mutex
	streams map[uint32]chan []byte
	depth   int
}

func NewLoopback(depth int) *Loopback {
	if depth <= 0 {
		depth = 64
	}
	return &Loopback{streams: make(map[uint32]chan []byte), depth: depth}
}

func (l *Loopback) channel(streamID uint32) chan []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.streams[streamID]
	if !ok {
		ch = make(chan []byte, l.depth)
		l.streams[streamID] = ch
	}
	return ch
}

func (l *Loopback) CreatePublication(streamID uint32) Publication {
	return &loopbackPub{streamID: streamID, ch: l.channel(streamID)}
}

func (l *Loopback) CreateSubscription(streamID uint32) Subscription {
	return &loopbackSub{streamID: streamID, ch: l.channel(streamID)}
}

type loopbackPub struct {
	streamID uint32
	ch       chan []byte
	closed   bool
	mu       sync.Mutex
}

func (p *loopbackPub) StreamID() uint32 { return p.streamID }

func (p *loopbackPub) Offer(payload []byte) OfferResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return OfferClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case p.ch <- cp:
		return OfferOK
	default:
		return OfferBackPressured
	}
}

func (p *loopbackPub) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *loopbackPub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type loopbackSub struct {
	streamID uint32
	ch       chan []byte
	closed   bool
	mu       sync.Mutex
}

func (s *loopbackSub) StreamID() uint32 { return s.streamID }

// Poll drains up to limit fragments, invoking h for each, matching the
// non-blocking poll contract every other component in the system depends on.
func (s *loopbackSub) Poll(h FragmentHandler, limit int) int {
	n := 0
	for n < limit {
		select {
		case frag := <-s.ch:
			h(frag)
			n++
		default:
			return n
		}
	}
	return n
}

func (s *loopbackSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cos.NewClosedErr("fabric: loopback subscription already closed")
	}
	s.closed = true
	return nil
}
