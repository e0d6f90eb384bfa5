// Package promhooks counts sessioncache hook events with Prometheus.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/sessioncache"
)

// Hooks implements sessioncache.Hooks by incrementing counters. Ids are
// never used as label values.
type Hooks struct {
	resyncs      prometheus.Counter
	attrsDropped prometheus.Counter
	evictions    *prometheus.CounterVec
	rejections   prometheus.Counter
	selfHeals    *prometheus.CounterVec
	flushFails   *prometheus.CounterVec
}

var _ sessioncache.Hooks = (*Hooks)(nil)

// New creates the counters under namespace ("" => "sessioncache") and
// registers them with reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if namespace == "" {
		namespace = "sessioncache"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Lookups that read a full attribute snapshot.",
		}),
		attrsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_removed_attributes_total",
			Help:      "Cached attributes dropped because a snapshot no longer held them.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Session cache evictions by reason.",
		}, []string{"reason"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rejections_total",
			Help:      "Cache puts refused because a newer generation was cached.",
		}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heals_total",
			Help:      "Undecodable cache entries deleted on read.",
		}, []string{"reason"}),
		flushFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Failed saves by flush step.",
		}, []string{"step"}),
	}
	for _, c := range []prometheus.Collector{h.resyncs, h.attrsDropped, h.evictions, h.rejections, h.selfHeals, h.flushFails} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) Resynced(_ string, _, _ uint64, removed int) {
	h.resyncs.Inc()
	if removed > 0 {
		h.attrsDropped.Add(float64(removed))
	}
}

func (h *Hooks) Evicted(_, reason string)             { h.evictions.WithLabelValues(reason).Inc() }
func (h *Hooks) CacheRejected(string, uint64, uint64) { h.rejections.Inc() }
func (h *Hooks) SelfHeal(_, reason string)            { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) FlushFailed(_, step string, _ error)  { h.flushFails.WithLabelValues(step).Inc() }
