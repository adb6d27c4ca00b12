package registry_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/registry"
	"github.com/tensorpool/tpool/wire"
)

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func newTestRegistry() (*registry.Registry, *fabric.Loopback) {
	lb := fabric.NewLoopback(16)
	return registry.New(func(streamID uint32) (fabric.Publication, error) {
		return lb.CreatePublication(streamID), nil
	}), lb
}

var _ = Describe("Registry", func() {
	It("creates a new entry on first hello and reuses it on subsequent ones", func() {
		r, _ := newTestRegistry()
		hello := &wire.ConsumerHello{ConsumerID: 1, DescriptorStreamID: wire.NullU32, ControlStreamID: wire.NullU32}
		Expect(r.Update(hello, 100)).To(Succeed())
		Expect(r.Len()).To(Equal(1))
		Expect(r.Update(hello, 200)).To(Succeed())
		Expect(r.Len()).To(Equal(1))

		entries := r.Entries()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].LastSeenNs).To(Equal(int64(200)))
	})

	It("lazily creates per-consumer publications when streams are set", func() {
		r, _ := newTestRegistry()
		hello := &wire.ConsumerHello{
			ConsumerID: 1, DescriptorStreamID: 1100, ControlStreamID: 1000,
			DescriptorChannel: "loopback", ControlChannel: "loopback",
		}
		Expect(r.Update(hello, 0)).To(Succeed())
		entries := r.Entries()
		Expect(entries[0].DescriptorPub).NotTo(BeNil())
		Expect(entries[0].ControlPub).NotTo(BeNil())
	})

	It("rejects a hello with a channel set but no stream id", func() {
		r, _ := newTestRegistry()
		hello := &wire.ConsumerHello{
			ConsumerID: 1, DescriptorChannel: "tcp://x", DescriptorStreamID: wire.NullU32, ControlStreamID: wire.NullU32,
		}
		Expect(r.Update(hello, 0)).To(HaveOccurred())
	})

	It("silently clears an over-length channel instead of rejecting the hello", func() {
		r, _ := newTestRegistry()
		hello := &wire.ConsumerHello{
			ConsumerID:         1,
			DescriptorChannel:  stringOfLen(wire.URIMaxLength + 1),
			DescriptorStreamID: wire.NullU32,
			ControlStreamID:    wire.NullU32,
		}
		Expect(r.Update(hello, 0)).To(Succeed())
		Expect(hello.DescriptorChannel).To(BeEmpty())
	})

	It("sweeps entries whose last-seen exceeds the stale threshold, closing owned publications", func() {
		r, _ := newTestRegistry()
		hello := &wire.ConsumerHello{ConsumerID: 1, DescriptorStreamID: 1100, DescriptorChannel: "loopback", ControlStreamID: wire.NullU32}
		Expect(r.Update(hello, 0)).To(Succeed())

		evicted := r.Sweep(500, 500)
		Expect(evicted).To(BeEmpty())
		Expect(r.Len()).To(Equal(1))

		evicted = r.Sweep(1000, 999)
		Expect(evicted).To(Equal([]uint64{1}))
		Expect(r.Len()).To(Equal(0))
	})
})

var _ = Describe("AggregateProgressPolicy", func() {
	It("defaults to 250us/64KiB/1 when no consumer supports progress", func() {
		entries := []*registry.Entry{{SupportsProgress: false}}
		p := registry.AggregateProgressPolicy(entries)
		Expect(p.IntervalUs).To(Equal(uint32(250)))
		Expect(p.BytesDelta).To(Equal(uint64(64 << 10)))
		Expect(p.MajorDeltaUnits).To(Equal(int64(1)))
	})

	It("takes the minimum across supporting consumers, ignoring null fields", func() {
		entries := []*registry.Entry{
			{SupportsProgress: true, ProgressIntervalUs: 1000, ProgressBytesDelta: wire.NullU64, ProgressMajorDeltaUnits: 5},
			{SupportsProgress: true, ProgressIntervalUs: 100, ProgressBytesDelta: 1024, ProgressMajorDeltaUnits: 2},
			{SupportsProgress: false, ProgressIntervalUs: 1, ProgressBytesDelta: 1, ProgressMajorDeltaUnits: -100},
		}
		p := registry.AggregateProgressPolicy(entries)
		Expect(p.IntervalUs).To(Equal(uint32(100)))
		Expect(p.BytesDelta).To(Equal(uint64(1024)))
		Expect(p.MajorDeltaUnits).To(Equal(int64(2)))
	})
})

var _ = Describe("ShouldPublishProgress", func() {
	It("publishes once the interval elapses and advances the cursor", func() {
		state := &registry.ProgressState{}
		policy := registry.Policy{IntervalUs: 100, BytesDelta: 1 << 20, MajorDeltaUnits: 1000}
		Expect(registry.ShouldPublishProgress(state, policy, 100_000, 0, 0)).To(BeTrue())
		Expect(state.LastTimestampNs).To(Equal(int64(100_000)))
		Expect(registry.ShouldPublishProgress(state, policy, 150_000, 0, 0)).To(BeFalse())
	})

	It("publishes when bytes grow past the delta even before the interval", func() {
		state := &registry.ProgressState{LastTimestampNs: 0, LastBytes: 0}
		policy := registry.Policy{IntervalUs: 1_000_000, BytesDelta: 1024, MajorDeltaUnits: 1000}
		Expect(registry.ShouldPublishProgress(state, policy, 1, 2048, 0)).To(BeTrue())
		Expect(state.LastBytes).To(Equal(uint64(2048)))
	})

	It("publishes when the major unit advances past the delta", func() {
		state := &registry.ProgressState{}
		policy := registry.Policy{IntervalUs: 1_000_000, BytesDelta: 1 << 30, MajorDeltaUnits: 2}
		Expect(registry.ShouldPublishProgress(state, policy, 1, 0, 2)).To(BeTrue())
		Expect(state.LastMajorUnit).To(Equal(int64(2)))
	})
})
