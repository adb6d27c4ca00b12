// Command tp-example-consumer is a thin example consumer program (spec §6
// CLI surface), ported in spirit from
// original_source/examples/tp_example_consumer.c: attaches to a driver
// daemon, dials a producer's descriptor/control endpoint, and reads frames
// as their descriptors arrive.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tensorpool/tpool/consumer"
	"github.com/tensorpool/tpool/driver"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

var (
	driverAddr   string
	producerAddr string
	baseDir      string
	streamID     uint32
	consumerID   uint64
	nslots       uint32
	stride       uint32
)

func main() {
	root := &cobra.Command{
		Use:   "tp-example-consumer",
		Short: "example tensor streaming consumer",
		RunE:  run,
	}
	f := root.Flags()
	f.StringVar(&driverAddr, "driver-addr", "127.0.0.1:9090", "tp-driverd address")
	f.StringVar(&producerAddr, "producer-addr", "127.0.0.1:9200", "producer's descriptor/control address")
	f.StringVar(&baseDir, "base-dir", "/dev/shm", "directory the producer's SHM region files live in")
	f.Uint32Var(&streamID, "stream-id", 1, "stream id")
	f.Uint64Var(&consumerID, "consumer-id", 0, "this consumer's registry id (0 = generate one)")
	f.Uint32Var(&nslots, "nslots", 1024, "header ring slot count, must match the producer's")
	f.Uint32Var(&stride, "stride-bytes", 4096, "payload pool stride, must match the producer's")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cobra.Command, []string) error {
	headerURI := fmt.Sprintf("shm:file?path=%s/tp_stream%d_header&mode=ro", baseDir, streamID)
	poolURI := fmt.Sprintf("shm:file?path=%s/tp_stream%d_pool0&mode=ro", baseDir, streamID)

	if consumerID == 0 {
		consumerID = driver.NewClientID()
	}
	driverConn, err := fabric.DialTCP(driverAddr, nil)
	if err != nil {
		return fmt.Errorf("tp-example-consumer: dial driver: %w", err)
	}
	defer driverConn.Close()
	driverClient := driver.NewClient(
		driverConn.CreatePublication(fabric.DefaultControlStreamID),
		driverConn.CreateSubscription(fabric.DefaultControlStreamID),
		consumerID, 2*time.Second,
	)
	lease, err := driverClient.Attach(streamID, wire.RoleConsumer, 1, wire.RequireExisting, wire.HugepagesUnspecified, wire.NullU32)
	if err != nil {
		return fmt.Errorf("tp-example-consumer: attach: %w", err)
	}
	nlog.Infof("tp-example-consumer: attached, lease_id=%d epoch=%d", lease.LeaseID, lease.Epoch)

	prodConn, err := fabric.DialTCP(producerAddr, nil)
	if err != nil {
		return fmt.Errorf("tp-example-consumer: dial producer: %w", err)
	}
	defer prodConn.Close()

	c := consumer.Init(consumer.Config{
		StreamID:        streamID,
		Epoch:           lease.Epoch,
		LayoutVersion:   1,
		HeaderRegionURI: headerURI,
		HeaderNSlots:    nslots,
		Pools:           []consumer.PoolBinding{{PoolID: 0, URI: poolURI, StrideBytes: stride}},
		AllowedBases:    []string{"/dev/shm"},

		DescriptorSub: prodConn.CreateSubscription(fabric.DefaultDescriptorStreamID),
		ControlSub:    prodConn.CreateSubscription(fabric.DefaultControlStreamID),
	})
	if err := c.Attach(); err != nil {
		return fmt.Errorf("tp-example-consumer: attach shm: %w", err)
	}
	defer c.Close()

	hello := &wire.ConsumerHello{
		ConsumerID:         consumerID,
		Mode:               wire.ModeNormal,
		MaxRateHz:          wire.NullU32,
		SupportsProgress:   false,
		ProgressIntervalUs: wire.NullU32,
		ProgressBytesDelta: wire.NullU64,
		DescriptorStreamID: fabric.DefaultDescriptorStreamID,
		ControlStreamID:    fabric.DefaultControlStreamID,
		DescriptorChannel:  producerAddr,
		ControlChannel:     producerAddr,
	}
	helloPub := prodConn.CreatePublication(fabric.DefaultControlStreamID)
	helloPub.Offer(hello.Encode())

	c.SetDescriptorHandler(func(desc *wire.FrameDescriptor, _ any) {
		var frame consumer.Frame
		res, err := c.ReadFrame(desc.Seq, &frame)
		if err != nil {
			nlog.Warningf("tp-example-consumer: read_frame(%d): %v", desc.Seq, err)
			return
		}
		if res != consumer.Ok {
			return
		}
		gap, late := c.GetDropCounts()
		nlog.Infof("tp-example-consumer: seq=%d bytes=%d trace_id=%d drops_gap=%d drops_late=%d",
			desc.Seq, len(frame.Payload), desc.TraceID, gap, late)
	}, nil)

	keepaliveTicker := time.NewTicker(time.Second)
	defer keepaliveTicker.Stop()
	for {
		select {
		case <-keepaliveTicker.C:
			if err := driverClient.Keepalive(time.Now().UnixNano()); err != nil {
				nlog.Warningf("tp-example-consumer: keepalive: %v", err)
			}
		default:
		}
		n := c.PollDescriptors(32)
		c.PollControl(16)
		if c.ErrState() {
			if c.ReattachDue(time.Now()) {
				if err := c.Attach(); err != nil {
					nlog.Warningf("tp-example-consumer: reattach failed: %v", err)
					c.ScheduleReattach(time.Now())
				} else {
					c.ReattachSucceeded()
				}
			}
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}
