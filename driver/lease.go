// Package driver implements the driver-side attach/keepalive/detach
// contract (spec §4.6) and the client that speaks it: Server is the
// authority a real driver daemon (cmd/tp-driverd) wraps; Client is what
// producer/consumer processes use to obtain and renew a lease.
package driver

import "github.com/tensorpool/tpool/wire"

// Lease is the driver's bookkeeping record for one granted attach (spec §3
// "Lease").
type Lease struct {
	LeaseID       uint64
	ClientID      uint64
	StreamID      uint32
	Role          wire.Role
	NodeID        uint32
	ExpiryNs      int64
	lastKeepalive int64
}

// expired reports whether the lease's grace-extended expiry has passed.
func (l *Lease) expired(nowNs int64) bool { return nowNs >= l.ExpiryNs }
