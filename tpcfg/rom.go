package tpcfg

import (
	"time"

	"go.uber.org/atomic"
)

// Rom is the read-mostly mirror of the hot-path timeout fields, held in
// atomics and refreshed as a whole by Set, so a reader never goes through
// Config's validation path -- ported from the teacher's cmn/rom.go. Within
// this module only tpcfg's own tests read it.
type readMostly struct {
	keepaliveNs  atomic.Int64
	readFrameNs  atomic.Int64
	announceNs   atomic.Int64
	staleNs      atomic.Int64
}

var Rom readMostly

func init() {
	Rom.keepaliveNs.Store(int64(time.Second))
	Rom.readFrameNs.Store(int64(100 * time.Millisecond))
	Rom.announceNs.Store(int64(time.Second))
	Rom.staleNs.Store(int64(5 * time.Second))
}

// Set refreshes the read-mostly mirror from a freshly loaded Config.
func (r *readMostly) Set(c *Config) {
	r.keepaliveNs.Store(int64(c.KeepaliveInterval()))
	r.readFrameNs.Store(int64(c.ReadFrameTimeout()))
	r.announceNs.Store(int64(c.AnnouncePeriod()))
	r.staleNs.Store(int64(c.StaleConsumer()))
}

func (r *readMostly) Keepalive() time.Duration  { return time.Duration(r.keepaliveNs.Load()) }
func (r *readMostly) ReadFrame() time.Duration  { return time.Duration(r.readFrameNs.Load()) }
func (r *readMostly) Announce() time.Duration   { return time.Duration(r.announceNs.Load()) }
func (r *readMostly) StaleConsumer() time.Duration { return time.Duration(r.staleNs.Load()) }
