// Package registry is the producer-owned consumer registry and progress
// policy aggregator (spec §4.4): tracks per-consumer liveness, lazily owns
// per-consumer fabric publications, and computes the min-reduction progress
// policy the producer applies when deciding whether to emit a progress
// message.
package registry

import (
	"sync"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/wire"
)

const (
	defaultProgressIntervalUs      = 250
	defaultProgressBytesDelta      = 64 << 10
	defaultProgressMajorDeltaUnits = 1
)

// Entry mirrors the consumer registry entry named in the glossary.
type Entry struct {
	ConsumerID              uint64
	LastSeenNs              int64
	Mode                    wire.ConsumerMode
	MaxRateHz               uint32
	SupportsProgress        bool
	ProgressIntervalUs      uint32
	ProgressBytesDelta      uint64
	ProgressMajorDeltaUnits int64
	DescriptorStreamID      uint32
	ControlStreamID         uint32

	DescriptorPub fabric.Publication
	ControlPub    fabric.Publication

	LastDescriptorNs int64
}

// PublicationFactory is how the registry lazily creates per-consumer
// publications; it is injected so the registry stays independent of any
// concrete fabric adapter.
type PublicationFactory func(streamID uint32) (fabric.Publication, error)

// Registry is safe for concurrent use; producer.go calls Update/Sweep from
// the single cooperative-loop thread but tests exercise it directly.
type Registry struct {
	mu       sync.Mutex
	entries  map[uint64]*Entry
	newPub   PublicationFactory
}

func New(newPub PublicationFactory) *Registry {
	return &Registry{entries: make(map[uint64]*Entry), newPub: newPub}
}

// Update finds or allocates an entry for hello.ConsumerID (spec §4.4
// update(hello)). Channel/stream mismatches (exactly one of descriptor
// channel/stream set, or control channel/stream set) are rejected; an
// over-length channel string is silently cleared rather than failing the
// hello.
func (r *Registry) Update(hello *wire.ConsumerHello, nowNs int64) error {
	if len(hello.DescriptorChannel) > wire.URIMaxLength {
		hello.DescriptorChannel = ""
	}
	if len(hello.ControlChannel) > wire.URIMaxLength {
		hello.ControlChannel = ""
	}
	if err := validateChannelPair(hello.DescriptorChannel, hello.DescriptorStreamID); err != nil {
		return err
	}
	if err := validateChannelPair(hello.ControlChannel, hello.ControlStreamID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[hello.ConsumerID]
	if !ok {
		e = &Entry{ConsumerID: hello.ConsumerID}
		r.entries[hello.ConsumerID] = e
	}
	e.LastSeenNs = nowNs
	e.Mode = hello.Mode
	e.MaxRateHz = hello.MaxRateHz
	e.SupportsProgress = hello.SupportsProgress
	e.ProgressIntervalUs = hello.ProgressIntervalUs
	e.ProgressBytesDelta = hello.ProgressBytesDelta
	e.ProgressMajorDeltaUnits = hello.ProgressMajorDeltaUnits

	if hello.DescriptorStreamID != wire.NullU32 && e.DescriptorPub == nil {
		e.DescriptorStreamID = hello.DescriptorStreamID
		if pub, err := r.newPub(hello.DescriptorStreamID); err == nil {
			e.DescriptorPub = pub
		}
		// failure to add is non-fatal (spec §4.4): entry keeps working with
		// the producer's shared publications.
	}
	if hello.ControlStreamID != wire.NullU32 && e.ControlPub == nil {
		e.ControlStreamID = hello.ControlStreamID
		if pub, err := r.newPub(hello.ControlStreamID); err == nil {
			e.ControlPub = pub
		}
	}
	return nil
}

// channel and stream must either both be set or both be unset.
func validateChannelPair(channel string, streamID uint32) error {
	hasChannel := channel != ""
	hasStream := streamID != wire.NullU32
	if hasChannel != hasStream {
		return errChannelStreamMismatch
	}
	return nil
}

// Sweep evicts entries whose now-lastSeen exceeds staleNs, closing any
// publications they own (spec §4.4 sweep). Stale default is 5x announce
// period, computed by the caller via tpcfg.Rom.StaleConsumer.
func (r *Registry) Sweep(nowNs int64, staleNs int64) (evicted []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if nowNs-e.LastSeenNs <= staleNs {
			continue
		}
		if e.DescriptorPub != nil {
			e.DescriptorPub.Close()
		}
		if e.ControlPub != nil {
			e.ControlPub.Close()
		}
		delete(r.entries, id)
		evicted = append(evicted, id)
	}
	return evicted
}

// Entries returns a snapshot slice of all current entries, used by the
// producer's descriptor fan-out loop.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
