// Command tp-example-producer is a thin example producer program (spec §6
// CLI surface), ported in spirit from original_source/examples/tp_example_producer.c:
// creates its SHM regions, attaches to a driver daemon, and publishes
// random tensor frames to whichever consumer connects.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tensorpool/tpool/driver"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/producer"
	"github.com/tensorpool/tpool/shm"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/trace"
	"github.com/tensorpool/tpool/wire"
)

var (
	driverAddr string
	listenAddr string
	baseDir    string
	streamID   uint32
	nodeID     uint64
	nslots     uint32
	stride     uint32
	rateHz     float64
	count      int
)

func main() {
	root := &cobra.Command{
		Use:   "tp-example-producer",
		Short: "example tensor streaming producer",
		RunE:  run,
	}
	f := root.Flags()
	f.StringVar(&driverAddr, "driver-addr", "127.0.0.1:9090", "tp-driverd address")
	f.StringVar(&listenAddr, "listen", "127.0.0.1:9200", "address to accept consumer connections on")
	f.StringVar(&baseDir, "base-dir", "/dev/shm", "directory to create SHM region files in")
	f.Uint32Var(&streamID, "stream-id", 1, "stream id")
	f.Uint64Var(&nodeID, "node-id", 0, "this producer's node id, for trace ids (0 = generate one)")
	f.Uint32Var(&nslots, "nslots", 1024, "header ring slot count, must be a power of two")
	f.Uint32Var(&stride, "stride-bytes", 4096, "payload pool stride")
	f.Float64Var(&rateHz, "rate-hz", 10, "frames per second")
	f.IntVar(&count, "count", 0, "number of frames to publish (0 = run forever)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cobra.Command, []string) error {
	headerURI := fmt.Sprintf("shm:file?path=%s/tp_stream%d_header", baseDir, streamID)
	poolURI := fmt.Sprintf("shm:file?path=%s/tp_stream%d_pool0", baseDir, streamID)

	headerRegion, err := createOrMap(headerURI, nslots, 256, shm.HeaderRing, 0, 0, streamID)
	if err != nil {
		return fmt.Errorf("tp-example-producer: header region: %w", err)
	}
	poolRegion, err := createOrMap(poolURI, nslots, stride, shm.PayloadPool, 0, 0, streamID)
	if err != nil {
		return fmt.Errorf("tp-example-producer: pool region: %w", err)
	}

	if nodeID == 0 {
		nodeID = driver.NewClientID()
	}
	driverConn, err := fabric.DialTCP(driverAddr, nil)
	if err != nil {
		return fmt.Errorf("tp-example-producer: dial driver: %w", err)
	}
	defer driverConn.Close()
	driverClient := driver.NewClient(
		driverConn.CreatePublication(fabric.DefaultControlStreamID),
		driverConn.CreateSubscription(fabric.DefaultControlStreamID),
		nodeID, 2*time.Second,
	)
	lease, err := driverClient.Attach(streamID, wire.RoleProducer, 1, wire.ExistingOrCreate, wire.HugepagesUnspecified, wire.NullU32)
	if err != nil {
		return fmt.Errorf("tp-example-producer: attach: %w", err)
	}
	nlog.Infof("tp-example-producer: attached, lease_id=%d epoch=%d node_id=%d", lease.LeaseID, lease.Epoch, lease.NodeID)

	ln, err := fabric.ListenTCP(listenAddr, nil)
	if err != nil {
		return fmt.Errorf("tp-example-producer: listen: %w", err)
	}
	nlog.Infof("tp-example-producer: waiting for a consumer on %s", listenAddr)
	consConn, err := fabric.AcceptTCP(ln, func(err error) { nlog.Warningf("tp-example-producer: consumer connection error: %v", err) })
	if err != nil {
		return fmt.Errorf("tp-example-producer: accept: %w", err)
	}

	p, err := producer.Init(producer.Config{
		StreamID:        streamID,
		Epoch:           lease.Epoch,
		LayoutVersion:   1,
		HeaderRing:      headerRegion,
		HeaderRegionURI: headerURI,
		NSlots:          nslots,
		Pools:           []*producer.Pool{{Region: poolRegion, PoolID: 0, NSlots: nslots, StrideBytes: stride, URI: poolURI}},
		NodeID:          nodeID,
		TraceSplit:      trace.DefaultBitSplit,
		AnnouncePeriod:  5 * time.Second,

		DescriptorPub: consConn.CreatePublication(fabric.DefaultDescriptorStreamID),
		ControlSub:    consConn.CreateSubscription(fabric.DefaultControlStreamID),
		MetadataPub:   consConn.CreatePublication(fabric.DefaultMetadataStreamID),
		DropUnconnectedDescriptors: true,
	})
	if err != nil {
		return fmt.Errorf("tp-example-producer: init: %w", err)
	}
	defer p.Close()

	interval := time.Duration(float64(time.Second) / rateHz)
	keepaliveTicker := time.NewTicker(time.Second)
	defer keepaliveTicker.Stop()

	hdr := &tensor.Header{DType: tensor.FLOAT32, MajorOrder: tensor.ROW, NDims: 1}
	hdr.Dims[0] = stride / 4
	hdr.Strides[0] = 4

	published := 0
	for count == 0 || published < count {
		select {
		case <-keepaliveTicker.C:
			if err := driverClient.Keepalive(time.Now().UnixNano()); err != nil {
				nlog.Warningf("tp-example-producer: keepalive: %v", err)
			}
		default:
		}
		p.PollControl(16)
		p.Announce(time.Now().UnixNano())

		payload := randomPayload(int(stride))
		if err := p.OfferFrame(hdr, payload, uint64(time.Now().UnixNano()), 0); err != nil {
			nlog.Warningf("tp-example-producer: offer frame: %v", err)
		}
		published++
		time.Sleep(interval)
	}
	return nil
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// createOrMap creates the region if it does not already exist, else maps it
// writable; the example program owns the region's lifetime end to end.
func createOrMap(uri string, nslotsArg, slotOrStride uint32, regionType shm.RegionType, epoch uint64, poolID uint16, sid uint32) (*shm.Region, error) {
	bases := []string{"/dev/shm"}
	if region, err := shm.Map(uri, true, bases); err == nil {
		return region, nil
	}
	sb := &shm.Superblock{
		LayoutVersion: 1,
		Epoch:         epoch,
		StreamID:      sid,
		RegionType:    regionType,
		PoolID:        poolID,
		NSlots:        nslotsArg,
		Pid:           uint64(os.Getpid()),
		StartTimestampNs:    uint64(time.Now().UnixNano()),
		ActivityTimestampNs: uint64(time.Now().UnixNano()),
	}
	if regionType == shm.HeaderRing {
		sb.SlotBytes = slotOrStride
	} else {
		sb.StrideBytes = slotOrStride
	}
	return shm.Create(uri, nslotsArg, slotOrStride, sb, bases)
}
