package discovery_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tensorpool/tpool/discovery"
	"github.com/tensorpool/tpool/wire"
)

func validAnnounce(streamID uint32, producerID uint64) *wire.ShmPoolAnnounce {
	return &wire.ShmPoolAnnounce{
		StreamID: streamID, ProducerID: producerID, Epoch: 1, LayoutVersion: 1,
		HeaderNSlots: 1024, HeaderSlotBytes: 256,
		HeaderRegionURI: "shm:file?path=/dev/shm/h",
		Pools:           []wire.PoolInfo{{PoolID: 0, StrideBytes: 4096, NSlots: 1024, URI: "shm:file?path=/dev/shm/p0"}},
	}
}

var _ = Describe("Service.ApplyAnnounce", func() {
	It("rejects an announce with the wrong header_slot_bytes", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		a := validAnnounce(1, 1)
		a.HeaderSlotBytes = 128
		Expect(svc.ApplyAnnounce(a, 0)).To(Succeed()) // rejection is a logged no-op, not an error
		resp := svc.Query(&wire.DiscoveryRequest{StreamID: 1, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 0)
		Expect(resp.Results).To(BeEmpty())
	})

	It("rejects an announce with zero pools", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		a := validAnnounce(1, 1)
		a.Pools = nil
		Expect(svc.ApplyAnnounce(a, 0)).To(Succeed())
		resp := svc.Query(&wire.DiscoveryRequest{StreamID: 1, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 0)
		Expect(resp.Results).To(BeEmpty())
	})

	It("rejects an announce where a pool's nslots diverges from header_nslots", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		a := validAnnounce(1, 1)
		a.HeaderNSlots = 1024
		a.Pools[0].NSlots = 4
		Expect(svc.ApplyAnnounce(a, 0)).To(Succeed()) // rejection is a logged no-op, not an error
		resp := svc.Query(&wire.DiscoveryRequest{StreamID: 1, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 0)
		Expect(resp.Results).To(BeEmpty())
	})

	It("ignores a stale announce whose epoch regresses", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		a := validAnnounce(1, 1)
		a.Epoch = 5
		Expect(svc.ApplyAnnounce(a, 0)).To(Succeed())

		stale := validAnnounce(1, 1)
		stale.Epoch = 3
		stale.HeaderNSlots = 2048
		stale.Pools[0].NSlots = 2048
		Expect(svc.ApplyAnnounce(stale, 1)).To(Succeed())

		resp := svc.Query(&wire.DiscoveryRequest{StreamID: 1, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 1)
		Expect(resp.Results).To(HaveLen(1))
		Expect(resp.Results[0].HeaderNSlots).To(Equal(uint32(1024)))
	})

	It("accepts an announce whose epoch advances", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		Expect(svc.ApplyAnnounce(validAnnounce(1, 1), 0)).To(Succeed())

		next := validAnnounce(1, 1)
		next.Epoch = 2
		next.HeaderNSlots = 2048
		next.Pools[0].NSlots = 2048
		Expect(svc.ApplyAnnounce(next, 1)).To(Succeed())

		resp := svc.Query(&wire.DiscoveryRequest{StreamID: 1, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 1)
		Expect(resp.Results[0].HeaderNSlots).To(Equal(uint32(2048)))
	})
})

var _ = Describe("Service freshness expiry", func() {
	It("drops entries once they exceed 3x the announce period", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Second})
		Expect(svc.ApplyAnnounce(validAnnounce(1, 1), 0)).To(Succeed())

		fresh := svc.Query(&wire.DiscoveryRequest{StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, int64(2*time.Second))
		Expect(fresh.Results).To(HaveLen(1))

		expired := svc.Query(&wire.DiscoveryRequest{StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, int64(4*time.Second))
		Expect(expired.Results).To(BeEmpty())
	})
})

var _ = Describe("Service max_entries eviction", func() {
	It("evicts the oldest-by-last-announce entry once the directory exceeds max_entries", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Hour, MaxEntries: 2})
		Expect(svc.ApplyAnnounce(validAnnounce(1, 1), 10)).To(Succeed())
		Expect(svc.ApplyAnnounce(validAnnounce(2, 2), 20)).To(Succeed())
		Expect(svc.ApplyAnnounce(validAnnounce(3, 3), 30)).To(Succeed())

		resp := svc.Query(&wire.DiscoveryRequest{StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 30)
		streamIDs := make([]uint32, 0, len(resp.Results))
		for _, r := range resp.Results {
			streamIDs = append(streamIDs, r.StreamID)
		}
		Expect(streamIDs).To(ConsistOf(uint32(2), uint32(3)))
	})
})

var _ = Describe("Service.Query", func() {
	It("matches by tag subset", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Hour})
		Expect(svc.ApplyAnnounce(validAnnounce(1, 1), 0)).To(Succeed())
		svc.SetTags(1, []string{"rgb", "left", "indoor"})

		resp := svc.Query(&wire.DiscoveryRequest{
			StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64,
			Tags: []string{"rgb", "left"},
		}, 0)
		Expect(resp.Results).To(HaveLen(1))

		resp = svc.Query(&wire.DiscoveryRequest{
			StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64,
			Tags: []string{"rgb", "thermal"},
		}, 0)
		Expect(resp.Results).To(BeEmpty())
	})

	It("returns ErrLimit with no results once matches exceed max_results", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Hour, MaxResults: 1})
		Expect(svc.ApplyAnnounce(validAnnounce(1, 1), 0)).To(Succeed())
		Expect(svc.ApplyAnnounce(validAnnounce(2, 2), 0)).To(Succeed())

		resp := svc.Query(&wire.DiscoveryRequest{StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: wire.NullU64}, 0)
		Expect(resp.Status).To(Equal(wire.DiscoveryErrLimit))
		Expect(resp.Results).To(BeEmpty())
	})

	It("applies a data source announcement independently of shm pool state", func() {
		svc := discovery.Init(discovery.Config{AnnouncePeriod: time.Hour})
		svc.ApplyDataSource(&wire.DataSourceAnnounce{StreamID: 9, DataSourceID: 77, Name: "camera-0"}, 0)

		resp := svc.Query(&wire.DiscoveryRequest{
			StreamID: wire.NullU32, ProducerID: wire.NullU64, DataSourceID: 77,
		}, 0)
		Expect(resp.Results).To(HaveLen(1))
		Expect(resp.Results[0].DataSourceName).To(Equal("camera-0"))
	})
})
