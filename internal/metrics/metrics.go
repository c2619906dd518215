// Package metrics exposes a narrow Recorder interface used by the core
// protocol packages (rdt, dirserver, peerfile) so they never import
// net/http or the prometheus registry directly. The default Recorder is a
// no-op; cmd/dirserver and cmd/dirclient wire in a Prometheus-backed one
// and expose it over /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the instrumentation surface the core packages call into.
// Every method must be safe to call from multiple goroutines.
type Recorder interface {
	IncPacketsSent()
	IncPacketsRetransmitted()
	IncFragmentsDropped()
	IncMessagesReassembled()
	SetDirectoryEntries(n int)
	ObserveQueryLatency(d time.Duration)
	IncBytesTransferred(n int64)
}

// Noop satisfies Recorder by discarding every observation. It is the
// default used by packages constructed without an explicit Recorder, so
// RDT, the directory, and peer file transfer all work standalone without
// a Prometheus registry.
type Noop struct{}

func (Noop) IncPacketsSent()                     {}
func (Noop) IncPacketsRetransmitted()             {}
func (Noop) IncFragmentsDropped()                 {}
func (Noop) IncMessagesReassembled()              {}
func (Noop) SetDirectoryEntries(int)              {}
func (Noop) ObserveQueryLatency(time.Duration)    {}
func (Noop) IncBytesTransferred(int64)            {}

// Prometheus is the production Recorder, registering its own metric
// family on a dedicated registry so callers can expose it however they
// like (promhttp.Handler, a custom mux, a pushgateway client, ...).
type Prometheus struct {
	registry           *prometheus.Registry
	packetsSent        prometheus.Counter
	packetsRetransmits prometheus.Counter
	fragmentsDropped   prometheus.Counter
	messagesReassembled prometheus.Counter
	directoryEntries   prometheus.Gauge
	queryLatency       prometheus.Histogram
	bytesTransferred   prometheus.Counter
}

// NewPrometheus builds a Recorder backed by a fresh registry, with
// subsystem-prefixed metric names so a server and client process can
// share an exposition endpoint without name collisions.
func NewPrometheus(subsystem string) *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "packets_sent_total",
			Help: "RDT fragments transmitted, including retransmissions.",
		}),
		packetsRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "packets_retransmitted_total",
			Help: "RDT fragments retransmitted after a timeout.",
		}),
		fragmentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "fragments_dropped_total",
			Help: "Inbound fragments discarded for arriving without a SYN or after reassembly closed.",
		}),
		messagesReassembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "messages_reassembled_total",
			Help: "Application messages successfully reassembled from fragments.",
		}),
		directoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "directory_entries",
			Help: "Current number of entries held by the directory index.",
		}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "query_latency_seconds",
			Help:    "Time to answer a QUERY dispatch, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		bytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2pdir", Subsystem: subsystem, Name: "peer_bytes_transferred_total",
			Help: "Bytes sent by the peer file exchange's file sender.",
		}),
	}
	reg.MustRegister(p.packetsSent, p.packetsRetransmits, p.fragmentsDropped,
		p.messagesReassembled, p.directoryEntries, p.queryLatency, p.bytesTransferred)
	return p
}

func (p *Prometheus) IncPacketsSent()                  { p.packetsSent.Inc() }
func (p *Prometheus) IncPacketsRetransmitted()         { p.packetsRetransmits.Inc() }
func (p *Prometheus) IncFragmentsDropped()             { p.fragmentsDropped.Inc() }
func (p *Prometheus) IncMessagesReassembled()          { p.messagesReassembled.Inc() }
func (p *Prometheus) SetDirectoryEntries(n int)        { p.directoryEntries.Set(float64(n)) }
func (p *Prometheus) ObserveQueryLatency(d time.Duration) { p.queryLatency.Observe(d.Seconds()) }
func (p *Prometheus) IncBytesTransferred(n int64)      { p.bytesTransferred.Add(float64(n)) }

// Handler returns the HTTP handler serving this Recorder's metrics in the
// Prometheus exposition format, for mounting under /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
