// Command tp-shmctl inspects and creates SHM-backed regions (spec §4.1,
// §3.12): a thin wrapper around the shm package for operators who need to
// pre-create header rings and payload pools outside of a running producer.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/tensorpool/tpool/shm"
)

func main() {
	app := cli.NewApp()
	app.Name = "tp-shmctl"
	app.Usage = "inspect and create tensor streaming SHM regions"
	app.Commands = []cli.Command{inspectCmd, createCmd}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

var inspectCmd = cli.Command{
	Name:      "inspect",
	Usage:     "print a region's superblock fields",
	ArgsUsage: "<shm-uri>",
	Flags: []cli.Flag{
		cli.StringSliceFlag{Name: "allowed-base", Usage: "allowlisted base directory (repeatable)"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("inspect requires exactly one <shm-uri> argument", 2)
		}
		bases := c.StringSlice("allowed-base")
		if len(bases) == 0 {
			bases = []string{"/dev/shm"}
		}
		region, err := shm.Map(c.Args().Get(0), false, bases)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer region.Unmap(false)
		sb, err := shm.DecodeSuperblock(region.View())
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		printSuperblock(sb)
		return nil
	},
}

func printSuperblock(sb *shm.Superblock) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s     %s\n", bold("magic:"), sb.Magic)
	fmt.Printf("%s layout_version: %d\n", bold(""), sb.LayoutVersion)
	fmt.Printf("  epoch:           %d\n", sb.Epoch)
	fmt.Printf("  stream_id:       %d\n", sb.StreamID)
	fmt.Printf("  region_type:     %d\n", sb.RegionType)
	fmt.Printf("  pool_id:         %d\n", sb.PoolID)
	fmt.Printf("  nslots:          %d\n", sb.NSlots)
	fmt.Printf("  slot_bytes:      %d\n", sb.SlotBytes)
	fmt.Printf("  stride_bytes:    %d\n", sb.StrideBytes)
	fmt.Printf("  pid:             %d\n", sb.Pid)
	fmt.Printf("  start_ts_ns:     %d\n", sb.StartTimestampNs)
	fmt.Printf("  activity_ts_ns:  %d\n", sb.ActivityTimestampNs)
}

var createCmd = cli.Command{
	Name:      "create",
	Usage:     "allocate and initialize a new SHM region",
	ArgsUsage: "<shm-uri>",
	Flags: []cli.Flag{
		cli.StringSliceFlag{Name: "allowed-base", Usage: "allowlisted base directory (repeatable)"},
		cli.StringFlag{Name: "region-type", Value: "pool", Usage: "header|pool"},
		cli.Uint64Flag{Name: "stream-id"},
		cli.Uint64Flag{Name: "layout-version", Value: 1},
		cli.Uint64Flag{Name: "epoch"},
		cli.Uint64Flag{Name: "pool-id"},
		cli.Uint64Flag{Name: "nslots", Value: 1024},
		cli.Uint64Flag{Name: "slot-bytes", Value: 256, Usage: "header ring only, must be 256"},
		cli.Uint64Flag{Name: "stride-bytes", Usage: "payload pool only"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("create requires exactly one <shm-uri> argument", 2)
		}
		bases := c.StringSlice("allowed-base")
		if len(bases) == 0 {
			bases = []string{"/dev/shm"}
		}
		var regionType shm.RegionType
		var slotOrStride uint32
		switch c.String("region-type") {
		case "header":
			regionType = shm.HeaderRing
			slotOrStride = 256
		case "pool":
			regionType = shm.PayloadPool
			slotOrStride = uint32(c.Uint64("stride-bytes"))
			if slotOrStride == 0 {
				return cli.NewExitError("pool regions require --stride-bytes", 2)
			}
		default:
			return cli.NewExitError("region-type must be header or pool", 2)
		}
		nslots := uint32(c.Uint64("nslots"))
		if !shm.IsPowerOfTwo(nslots) {
			return cli.NewExitError(fmt.Sprintf("nslots %d must be a power of two", nslots), 2)
		}
		sb := &shm.Superblock{
			LayoutVersion: uint32(c.Uint64("layout-version")),
			Epoch:         c.Uint64("epoch"),
			StreamID:      uint32(c.Uint64("stream-id")),
			RegionType:    regionType,
			PoolID:        uint16(c.Uint64("pool-id")),
			NSlots:        nslots,
			Pid:           uint64(os.Getpid()),
			StartTimestampNs:    uint64(time.Now().UnixNano()),
			ActivityTimestampNs: uint64(time.Now().UnixNano()),
		}
		if regionType == shm.HeaderRing {
			sb.SlotBytes = slotOrStride
		} else {
			sb.StrideBytes = slotOrStride
		}
		region, err := shm.Create(c.Args().Get(0), nslots, slotOrStride, sb, bases)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer region.Unmap(false)
		fmt.Println(color.GreenString("created %s region: %s", c.String("region-type"), c.Args().Get(0)))
		return nil
	},
}
