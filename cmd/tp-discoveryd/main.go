// Command tp-discoveryd is the directory/discovery daemon (spec §4.7, §6):
// accepts shmPoolAnnounce/dataSourceAnnounce from producers and answers
// discoveryRequest queries, all over the TCP fabric adapter.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tensorpool/tpool/discovery"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

type fileConfig struct {
	Listen           string `toml:"listen"`
	AnnouncePeriodMs int64  `toml:"announce_period_ms"`
	MaxResults       int    `toml:"max_results"`
	MaxEntries       int    `toml:"max_entries"`
}

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   "tp-discoveryd <config.toml>",
		Short: "tensor streaming directory/discovery daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			configPath = args[0]
			return run(configPath)
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return errors.Wrapf(err, "tp-discoveryd: load config %s", path)
	}
	if fc.Listen == "" {
		fc.Listen = "127.0.0.1:9091"
	}
	announcePeriod := time.Duration(fc.AnnouncePeriodMs) * time.Millisecond
	if announcePeriod <= 0 {
		announcePeriod = time.Second
	}

	svc := discovery.Init(discovery.Config{
		AnnouncePeriod: announcePeriod,
		MaxResults:     fc.MaxResults,
		MaxEntries:     fc.MaxEntries,
	})
	defer svc.Close()

	ln, err := fabric.ListenTCP(fc.Listen, nil)
	if err != nil {
		return fmt.Errorf("tp-discoveryd: listen: %w", err)
	}
	nlog.Infof("tp-discoveryd: listening on %s", fc.Listen)

	for {
		tcp, err := fabric.AcceptTCP(ln, func(err error) { nlog.Warningf("tp-discoveryd: connection error: %v", err) })
		if err != nil {
			nlog.Errorf("tp-discoveryd: accept: %v", err)
			continue
		}
		go serveConn(svc, tcp)
	}
}

// serveConn handles one client's announce and query traffic; the response
// publication is this same connection's, so replies don't need the
// service's lazy-response-pub cache (that path is for in-process use).
func serveConn(svc *discovery.Service, tcp *fabric.TCP) {
	announceSub := tcp.CreateSubscription(fabric.DefaultAnnounceStreamID)
	querySub := tcp.CreateSubscription(fabric.DefaultDiscoveryStreamID)
	respPub := tcp.CreatePublication(fabric.DefaultDiscoveryStreamID)

	for {
		n := 0
		n += announceSub.Poll(func(payload []byte) {
			now := time.Now().UnixNano()
			if a, err := wire.DecodeShmPoolAnnounce(payload); err == nil {
				svc.ApplyAnnounce(a, now)
				return
			}
			if a, err := wire.DecodeDataSourceAnnounce(payload); err == nil {
				svc.ApplyDataSource(a, now)
				return
			}
		}, 32)
		n += querySub.Poll(func(payload []byte) {
			req, err := wire.DecodeDiscoveryRequest(payload)
			if err != nil {
				return
			}
			resp := svc.Query(req, time.Now().UnixNano())
			respPub.Offer(resp.Encode())
		}, 32)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}
