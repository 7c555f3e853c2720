// Package metrics exposes a peer's per-phase accounting as Prometheus
// collectors. It implements protocol.Observer so the state machine's
// existing phase-transition hook drives it with no extra call sites.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
)

// Collector publishes gauges for a single peer's phase, logical clock,
// and permission-vector sums. A process running one peer registers one
// Collector against the registry passed to NewCollector (cmd/peer uses a
// private *prometheus.Registry, not the default one).
type Collector struct {
	phase     prometheus.Gauge
	clockTime prometheus.Gauge
	sumRooms  prometheus.Gauge
	sumLifts  prometheus.Gauge
}

// NewCollector creates and registers the gauges for rank under reg.
func NewCollector(rank int, reg prometheus.Registerer) *Collector {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	c := &Collector{
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rooms_lifts",
			Name:        "phase",
			Help:        "current state-machine phase, as its ordinal (Rest=0..Up=5)",
			ConstLabels: labels,
		}),
		clockTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rooms_lifts",
			Name:        "logical_clock",
			Help:        "current Lamport clock value",
			ConstLabels: labels,
		}),
		sumRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rooms_lifts",
			Name:        "rooms_vector_sum",
			Help:        "sum of the local rooms permission vector",
			ConstLabels: labels,
		}),
		sumLifts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rooms_lifts",
			Name:        "lifts_vector_sum",
			Help:        "sum of the local lifts permission vector",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(c.phase, c.clockTime, c.sumRooms, c.sumLifts)
	return c
}

// PhaseChanged implements protocol.Observer.
func (c *Collector) PhaseChanged(rank int, phase protocol.Phase, logicalTime uint64, sumRooms, sumLifts int) {
	c.phase.Set(float64(phase))
	c.clockTime.Set(float64(logicalTime))
	c.sumRooms.Set(float64(sumRooms))
	c.sumLifts.Set(float64(sumLifts))
}

var _ protocol.Observer = (*Collector)(nil)

// HandlerFor returns the promhttp handler for a specific registry, used
// when a peer registers its collectors against a private *prometheus.Registry
// rather than the package-global default (cmd/peer does this so that
// concurrent test runs in one process don't collide on global state).
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
