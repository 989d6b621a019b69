package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteExpiredOnRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_expired_on_read_total",
		Help: "no. of pastes found expired and removed on read",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_deleted_total",
		Help: "no. of pastes deleted on request",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_cache_misses_total",
		Help: "no. of cache misses",
	})
	PoolAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebin_pool_available_tokens",
		Help: "tokens left in the allocation queue at last observation",
	})
	PoolRefills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_pool_refills_total",
			Help: "no. of pool refill attempts by outcome",
		},
		[]string{"result"},
	)
	PoolTokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_pool_tokens_generated_total",
		Help: "no. of tokens generated into the pool",
	})
	PoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_pool_exhausted_total",
		Help: "no. of acquisitions that found no token",
	})
	ReclaimCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_reclaim_cycles_total",
		Help: "no. of expiration reclaimer runs",
	})
	Reclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_reclaimed_pastes_total",
		Help: "no. of expired pastes removed by the reclaimer",
	})
	ReclaimFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_reclaim_failures_total",
			Help: "no. of per-store deletion failures during reclaim",
		},
		[]string{"store"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)
