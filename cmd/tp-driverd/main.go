// Command tp-driverd is the driver daemon (spec §4.6, §6): holds lease
// state for every registered stream and answers attach/keepalive/detach
// requests from clients connected over the TCP fabric adapter.
package main

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tensorpool/tpool/driver"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/stats"
	"github.com/tensorpool/tpool/tpcmn/nlog"
	"github.com/tensorpool/tpool/wire"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "tp-driverd",
		Short: "tensor streaming lease driver daemon",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml (required)")
	root.MarkFlagRequired("config")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cobra.Command, []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("tp-driverd: load config: %w", err)
	}

	srv := driver.NewServer(cfg.serverConfig())
	for _, sc := range cfg.Streams {
		srv.RegisterStream(sc.toDriverConfig())
	}

	st := stats.New("tpdriverd")

	ln, err := fabric.ListenTCP(cfg.Listen, nil)
	if err != nil {
		return fmt.Errorf("tp-driverd: listen: %w", err)
	}
	nlog.Infof("tp-driverd: listening on %s, %d streams registered", cfg.Listen, len(cfg.Streams))

	conns := newConnSet()

	// The metrics server and the lease sweeper are supervised alongside the
	// accept loop: a metrics listener failure is returned from run at once,
	// which brings the daemon down rather than leaving it running silently
	// without /metrics.
	var g errgroup.Group
	done := make(chan error, 2)
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			err := serveMetrics(cfg.MetricsListen, st)
			done <- err
			return err
		})
	}
	g.Go(func() error {
		sweepLoop(srv, conns, time.Duration(cfg.KeepaliveIntervalMs)*time.Millisecond, st)
		return nil
	})
	g.Go(func() error {
		for {
			tcp, err := fabric.AcceptTCP(ln, func(err error) { nlog.Warningf("tp-driverd: connection error: %v", err) })
			if err != nil {
				nlog.Errorf("tp-driverd: accept: %v", err)
				continue
			}
			pub := tcp.CreatePublication(fabric.DefaultControlStreamID)
			conns.add(pub)
			go serveConn(srv, tcp, pub, conns, st)
		}
	})
	go func() { done <- g.Wait() }()
	return <-done
}

func serveMetrics(addr string, st *stats.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(st.Gatherer(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("tp-driverd: metrics listener: %w", err)
	}
	return nil
}

func serveConn(srv *driver.Server, tcp *fabric.TCP, pub fabric.Publication, conns *connSet, st *stats.Registry) {
	sub := tcp.CreateSubscription(fabric.DefaultControlStreamID)
	defer conns.remove(pub)
	for {
		n := sub.Poll(func(payload []byte) {
			resp := srv.Dispatch(payload)
			if resp == nil {
				return
			}
			if attachResp, err := wire.DecodeShmAttachResponse(resp); err == nil && attachResp.Code == wire.AttachOK {
				st.LeasesGranted.Inc()
			}
			pub.Offer(resp)
		}, 32)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func sweepLoop(srv *driver.Server, conns *connSet, interval time.Duration, st *stats.Registry) {
	if interval <= 0 {
		interval = time.Second
	}
	for range time.Tick(interval) {
		revoked := srv.Sweep(time.Now().UnixNano())
		for _, rev := range revoked {
			st.LeasesRevoked.WithLabelValues(revokeReasonLabel(rev.Reason)).Inc()
			broadcast(conns, rev)
		}
		st.ActiveLeases.Set(float64(srv.ActiveLeaseCount()))
	}
}

func revokeReasonLabel(r wire.RevokeReason) string {
	switch r {
	case wire.ReasonExpired:
		return "expired"
	case wire.ReasonAdmin:
		return "admin"
	case wire.ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func broadcast(conns *connSet, rev *wire.ShmLeaseRevoked) {
	encoded := rev.Encode()
	conns.forEach(func(pub fabric.Publication) {
		pub.Offer(encoded)
	})
}

// connSet tracks every connected client's control publication so lease
// revocations sweep-discovered server-side can be broadcast to all of them.
type connSet struct {
	mu   sync.Mutex
	pubs map[fabric.Publication]struct{}
}

func newConnSet() *connSet { return &connSet{pubs: make(map[fabric.Publication]struct{})} }

func (c *connSet) add(p fabric.Publication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs[p] = struct{}{}
}

func (c *connSet) remove(p fabric.Publication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pubs, p)
}

func (c *connSet) forEach(f func(fabric.Publication)) {
	c.mu.Lock()
	pubs := make([]fabric.Publication, 0, len(c.pubs))
	for p := range c.pubs {
		pubs = append(pubs, p)
	}
	c.mu.Unlock()
	for _, p := range pubs {
		f(p)
	}
}
