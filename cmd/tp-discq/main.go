// Command tp-discq is a one-shot discovery query tool (spec §4.7, §3.12):
// dials a tp-discoveryd instance, submits a subset-match query, and prints
// the results.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/tensorpool/tpool/discovery"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/wire"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	app := cli.NewApp()
	app.Name = "tp-discq"
	app.Usage = "query the tensor streaming directory service"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "127.0.0.1:9091", Usage: "tp-discoveryd address"},
		cli.Uint64Flag{Name: "stream-id", Usage: "filter by stream id"},
		cli.Uint64Flag{Name: "producer-id", Usage: "filter by producer id"},
		cli.Uint64Flag{Name: "data-source-id", Usage: "filter by data source id"},
		cli.StringFlag{Name: "data-source-name", Usage: "filter by data source name"},
		cli.StringSliceFlag{Name: "tag", Usage: "required tag (repeatable, subset match)"},
		cli.DurationFlag{Name: "timeout", Value: 2 * time.Second},
		cli.BoolFlag{Name: "json", Usage: "print results as JSON instead of the human-readable table"},
	}
	app.Action = query
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func query(c *cli.Context) error {
	tcp, err := fabric.DialTCP(c.String("addr"), nil)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer tcp.Close()

	pub := tcp.CreatePublication(fabric.DefaultDiscoveryStreamID)
	sub := tcp.CreateSubscription(fabric.DefaultDiscoveryStreamID)
	client := discovery.NewClient(pub, sub)

	req := &wire.DiscoveryRequest{
		StreamID:         nullableU32(c.Uint64("stream-id"), wire.NullU32),
		ProducerID:       nullableU64(c.Uint64("producer-id"), wire.NullU64),
		DataSourceID:     nullableU64(c.Uint64("data-source-id"), wire.NullU64),
		DataSourceName:   c.String("data-source-name"),
		Tags:             c.StringSlice("tag"),
		ResponseStreamID: fabric.DefaultDiscoveryStreamID,
	}
	corr, err := client.Request(req)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	resp, err := client.Poll(corr, c.Duration("timeout"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if resp.Status != wire.DiscoveryOK {
		return cli.NewExitError(fmt.Sprintf("query failed: status=%d %s", resp.Status, resp.ErrorMessage), 1)
	}
	if c.Bool("json") {
		return printResultsJSON(resp.Results)
	}
	printResults(resp.Results)
	return nil
}

func printResultsJSON(results []wire.DiscoveryResult) error {
	enc := jsonAPI.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func nullableU32(v uint64, null uint32) uint32 {
	if v == 0 {
		return null
	}
	return uint32(v)
}

func nullableU64(v uint64, null uint64) uint64 {
	if v == 0 {
		return null
	}
	return v
}

func printResults(results []wire.DiscoveryResult) {
	if len(results) == 0 {
		fmt.Println("no matching streams")
		return
	}
	bold := color.New(color.Bold).SprintFunc()
	for _, r := range results {
		fmt.Printf("%s stream_id=%d producer_id=%d epoch=%d layout_version=%d pools=%d data_source=%q tags=%v\n",
			bold("*"), r.StreamID, r.ProducerID, r.Epoch, r.LayoutVersion, len(r.Pools), r.DataSourceName, r.Tags)
	}
}
