package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// RoutingCollector exposes bundle-forwarding and engine metrics. It
// implements routing.Recorder and sim.Observer.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	BundlesSent         *prometheus.CounterVec
	BundlesDelivered    *prometheus.CounterVec
	BundlesDuplicate    *prometheus.CounterVec
	BundlesDropped      *prometheus.CounterVec
	BundlesExpiredTotal *prometheus.CounterVec
	DeliveryLatency     *prometheus.HistogramVec
	RouteComputations   *prometheus.CounterVec

	RouteComputationDuration prometheus.Histogram
	TickDuration             prometheus.Histogram
	BundlesQueued            prometheus.Gauge
	CurrentTick              prometheus.Gauge
	ContactCacheHitRatio     prometheus.Gauge
}

var (
	_ routing.Recorder = (*RoutingCollector)(nil)
	_ sim.Observer     = (*RoutingCollector)(nil)
)

// NewRoutingCollector registers routing metrics against the provided
// registerer, defaulting to the global registry when nil.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &RoutingCollector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.BundlesSent, "dtnsim_bundles_sent_total", "Bundles handed to a neighbor.", []string{"protocol", "node"}},
		{&c.BundlesDelivered, "dtnsim_bundles_delivered_total", "Bundles delivered at their destination.", []string{"protocol", "node"}},
		{&c.BundlesDuplicate, "dtnsim_bundles_duplicate_total", "Bundles received more than once by a node.", []string{"protocol"}},
		{&c.BundlesDropped, "dtnsim_bundles_dropped_total", "Bundles discarded, labeled by reason.", []string{"protocol", "reason"}},
		{&c.BundlesExpiredTotal, "dtnsim_bundles_expired_total", "Bundles purged after their lifespan ran out.", []string{"protocol"}},
		{&c.RouteComputations, "dtnsim_route_computations_total", "Contact-graph route lookups, labeled by outcome.", []string{"result"}},
	}
	for _, def := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.name, Help: def.help}, def.labels)
		if *def.dst, err = registerCounterVec(reg, vec, def.name); err != nil {
			return nil, err
		}
	}

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dtnsim_delivery_latency_ticks",
		Help:    "Ticks between bundle creation and delivery.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"protocol"})
	if c.DeliveryLatency, err = registerHistogramVec(reg, latency, "dtnsim_delivery_latency_ticks"); err != nil {
		return nil, err
	}

	if c.RouteComputationDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dtnsim_route_computation_duration_seconds",
		Help:    "Duration of contact-graph route computations.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "dtnsim_route_computation_duration_seconds"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dtnsim_tick_duration_seconds",
		Help:    "Wall-clock time spent processing one simulation tick.",
		Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}), "dtnsim_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.BundlesQueued, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dtnsim_bundles_queued",
		Help: "Bundles currently stored across all nodes.",
	}), "dtnsim_bundles_queued"); err != nil {
		return nil, err
	}
	if c.CurrentTick, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dtnsim_tick",
		Help: "Last completed simulation tick.",
	}), "dtnsim_tick"); err != nil {
		return nil, err
	}
	if c.ContactCacheHitRatio, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dtnsim_route_cache_hit_ratio",
		Help: "Hit ratio of the contact-graph route cache.",
	}), "dtnsim_route_cache_hit_ratio"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes the collector's registry over HTTP.
func (c *RoutingCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

func nodeLabel(id model.NodeID) string { return strconv.FormatInt(int64(id), 10) }

func (c *RoutingCollector) BundleSent(kind routing.Kind, node model.NodeID) {
	if c == nil {
		return
	}
	c.BundlesSent.WithLabelValues(kind.String(), nodeLabel(node)).Inc()
}

func (c *RoutingCollector) BundleDuplicate(kind routing.Kind, _ model.NodeID) {
	if c == nil {
		return
	}
	c.BundlesDuplicate.WithLabelValues(kind.String()).Inc()
}

func (c *RoutingCollector) BundleDelivered(kind routing.Kind, node model.NodeID, latency int64) {
	if c == nil {
		return
	}
	c.BundlesDelivered.WithLabelValues(kind.String(), nodeLabel(node)).Inc()
	c.DeliveryLatency.WithLabelValues(kind.String()).Observe(float64(latency))
}

func (c *RoutingCollector) BundleDropped(kind routing.Kind, _ model.NodeID, reason string) {
	if c == nil {
		return
	}
	c.BundlesDropped.WithLabelValues(kind.String(), reason).Inc()
}

func (c *RoutingCollector) BundlesExpired(kind routing.Kind, _ model.NodeID, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BundlesExpiredTotal.WithLabelValues(kind.String()).Add(float64(n))
}

// RouteComputed records one route lookup.
func (c *RoutingCollector) RouteComputed(found bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	result := "none"
	if found {
		result = "found"
	}
	c.RouteComputations.WithLabelValues(result).Inc()
	c.RouteComputationDuration.Observe(elapsed.Seconds())
}

// TickCompleted updates the engine gauges after every tick.
func (c *RoutingCollector) TickCompleted(_ context.Context, s sim.TickStats) {
	if c == nil {
		return
	}
	c.CurrentTick.Set(float64(s.Tick))
	c.BundlesQueued.Set(float64(s.Queued))
	c.TickDuration.Observe(s.Duration.Seconds())
}

// SetContactCacheHitRatio sets the route cache hit ratio from raw counts.
func (c *RoutingCollector) SetContactCacheHitRatio(hits, misses int64) {
	if c == nil || hits+misses == 0 {
		return
	}
	c.ContactCacheHitRatio.Set(float64(hits) / float64(hits+misses))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
