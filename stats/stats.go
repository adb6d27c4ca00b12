// Package stats exposes the system's runtime counters and gauges via
// Prometheus client_golang, grounded on the pack's metrics-registry idiom:
// one package-level registry, constructor functions per subsystem, labels
// kept low-cardinality (stream id, consumer id are NOT labels -- only
// target/result/reason/status are).
package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the producer/consumer/driver/discovery
// components update; callers construct one per process and pass it down.
type Registry struct {
	reg *prometheus.Registry

	FramesPublished   prometheus.Counter
	FramesBackPressured prometheus.Counter
	DescriptorsOffered  *prometheus.CounterVec // label: "target" in {shared, per_consumer}

	ConsumerDropsGap  prometheus.Counter
	ConsumerDropsLate prometheus.Counter
	ReadFrameResults  *prometheus.CounterVec // label: "result" in {ok, not_ready, gap_or_late}

	LeasesGranted  prometheus.Counter
	LeasesRevoked  *prometheus.CounterVec // label: "reason"
	ActiveLeases   prometheus.Gauge

	DiscoveryEntries prometheus.Gauge
	DiscoveryQueries *prometheus.CounterVec // label: "status" in {ok, limit_exceeded}
}

func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "producer", Name: "frames_published_total",
		}),
		FramesBackPressured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "producer", Name: "frames_back_pressured_total",
		}),
		DescriptorsOffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "producer", Name: "descriptors_offered_total",
		}, []string{"target"}),
		ConsumerDropsGap: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "drops_gap_total",
		}),
		ConsumerDropsLate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "drops_late_total",
		}),
		ReadFrameResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "read_frame_results_total",
		}, []string{"result"}),
		LeasesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "driver", Name: "leases_granted_total",
		}),
		LeasesRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "driver", Name: "leases_revoked_total",
		}, []string{"reason"}),
		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "driver", Name: "active_leases",
		}),
		DiscoveryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "entries",
		}),
		DiscoveryQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "queries_total",
		}, []string{"status"}),
	}
	reg.MustRegister(
		r.FramesPublished, r.FramesBackPressured, r.DescriptorsOffered,
		r.ConsumerDropsGap, r.ConsumerDropsLate, r.ReadFrameResults,
		r.LeasesGranted, r.LeasesRevoked, r.ActiveLeases,
		r.DiscoveryEntries, r.DiscoveryQueries,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP handler
// to serve (promhttp.HandlerFor in cmd/).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
