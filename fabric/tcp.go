package fabric

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
)

// sizeFrameHdr is [4-byte length][4-byte stream id], mirroring the teacher's
// transport/pdu.go fixed protocol header discipline.
const sizeFrameHdr = 8

const maxFrameSize = 16 << 20

// TCP is a length-delimited, multi-stream fabric adapter over one
// connection, used by the standalone CLI daemons where a real messaging
// fabric is unavailable. Every fragment is length- and stream-id-prefixed;
// a background reader goroutine demultiplexes into per-stream channels.
type TCP struct {
	conn   net.Conn
	w      *bufio.Writer
	wmu    sync.Mutex
	mu     sync.Mutex
	subs   map[uint32]chan []byte
	closed bool
	errh   func(error)
}

func DialTCP(addr string, errh func(error)) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cos.NewNotConnectedErr("fabric: dial %s: %v", addr, err)
	}
	return newTCP(conn, errh), nil
}

func ListenTCP(addr string, errh func(error)) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cos.NewNotConnectedErr("fabric: listen %s: %v", addr, err)
	}
	return ln, nil
}

func AcceptTCP(ln net.Listener, errh func(error)) (*TCP, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, cos.NewNotConnectedErr("fabric: accept: %v", err)
	}
	return newTCP(conn, errh), nil
}

func newTCP(conn net.Conn, errh func(error)) *TCP {
	t := &TCP{
		conn: conn,
		w:    bufio.NewWriterSize(conn, 64<<10),
		subs: make(map[uint32]chan []byte),
		errh: errh,
	}
	go t.readLoop()
	return t
}

func (t *TCP) report(err error) {
	if err == nil || err == io.EOF {
		return
	}
	if t.errh != nil {
		t.errh(err)
	} else {
		nlog.Warningf("fabric: tcp: %v", err)
	}
}

func (t *TCP) readLoop() {
	r := bufio.NewReaderSize(t.conn, 64<<10)
	var hdr [sizeFrameHdr]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			t.report(err)
			t.teardown()
			return
		}
		length := binary.BigEndian.Uint32(hdr[0:4])
		streamID := binary.BigEndian.Uint32(hdr[4:8])
		if length > maxFrameSize {
			t.report(cos.NewInvalidWireErr("fabric: tcp: frame length %d exceeds max", length))
			t.teardown()
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			t.report(err)
			t.teardown()
			return
		}
		ch := t.subChannel(streamID)
		select {
		case ch <- payload:
		default:
			// subscriber too slow: drop, matching Offer's back-pressure contract.
		}
	}
}

func (t *TCP) subChannel(streamID uint32) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.subs[streamID]
	if !ok {
		ch = make(chan []byte, 256)
		t.subs[streamID] = ch
	}
	return ch
}

func (t *TCP) teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.conn.Close()
}

func (t *TCP) CreatePublication(streamID uint32) Publication {
	return &tcpPub{t: t, streamID: streamID}
}

func (t *TCP) CreateSubscription(streamID uint32) Subscription {
	return &tcpSub{t: t, streamID: streamID, ch: t.subChannel(streamID)}
}

func (t *TCP) Close() error {
	t.teardown()
	return nil
}

type tcpPub struct {
	t        *TCP
	streamID uint32
}

func (p *tcpPub) StreamID() uint32 { return p.streamID }

func (p *tcpPub) IsConnected() bool {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return !p.t.closed
}

func (p *tcpPub) Offer(payload []byte) OfferResult {
	if !p.IsConnected() {
		return OfferClosed
	}
	var hdr [sizeFrameHdr]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], p.streamID)

	p.t.wmu.Lock()
	defer p.t.wmu.Unlock()
	if _, err := p.t.w.Write(hdr[:]); err != nil {
		p.t.report(err)
		return OfferNotConnected
	}
	if _, err := p.t.w.Write(payload); err != nil {
		p.t.report(err)
		return OfferNotConnected
	}
	if err := p.t.w.Flush(); err != nil {
		p.t.report(err)
		return OfferNotConnected
	}
	return OfferOK
}

func (p *tcpPub) Close() error { return nil }

type tcpSub struct {
	t        *TCP
	streamID uint32
	ch       chan []byte
}

func (s *tcpSub) StreamID() uint32 { return s.streamID }

func (s *tcpSub) Poll(h FragmentHandler, limit int) int {
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

func (s *tcpSub) Close() error { return nil }
