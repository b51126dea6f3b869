// Package proxymetrics keeps the session-facing counters the proxy exposes:
// atomic in-process counters in the benchmark tool's own internal/metrics
// style, additionally registered with prometheus/client_golang so they can
// be scraped, the way dns4d registers its cache/upstream counters at
// startup.
package proxymetrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter the proxy updates while handling sessions.
// Fields are safe for concurrent use: the atomic counters via atomic
// operations, the prometheus counters via their own internal locking.
type Metrics struct {
	BindAttempts atomic.Int64
	BindSuccess  atomic.Int64
	BindFail     atomic.Int64

	SearchAttempts atomic.Int64
	SearchDenied   atomic.Int64

	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	bindAttempts   prometheus.Counter
	bindSuccess    prometheus.Counter
	bindFail       prometheus.Counter
	searchAttempts prometheus.Counter
	searchDenied   prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
}

// New builds a Metrics and registers its prometheus counters against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests from colliding with
// the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bindAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_bind_attempts_total",
			Help: "Bind requests received from clients.",
		}),
		bindSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_bind_success_total",
			Help: "Bind requests that the upstream directory accepted.",
		}),
		bindFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_bind_fail_total",
			Help: "Bind requests refused for an unknown bind DN, rejected by the upstream directory, or failed by an upstream error.",
		}),
		searchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_search_attempts_total",
			Help: "Search requests received from authenticated clients.",
		}),
		searchDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_search_denied_total",
			Help: "Search requests rejected by the per-identity allow-list policy.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_cache_hits_total",
			Help: "Search requests served from the cache without contacting upstream.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldap_proxy_cache_misses_total",
			Help: "Search requests that required an upstream round trip.",
		}),
	}

	reg.MustRegister(
		m.bindAttempts, m.bindSuccess, m.bindFail,
		m.searchAttempts, m.searchDenied,
		m.cacheHits, m.cacheMisses,
	)

	return m
}

// IncBindAttempt records a Bind request reaching the session layer.
func (m *Metrics) IncBindAttempt() {
	m.BindAttempts.Add(1)
	m.bindAttempts.Inc()
}

// IncBindSuccess records an upstream-accepted Bind.
func (m *Metrics) IncBindSuccess() {
	m.BindSuccess.Add(1)
	m.bindSuccess.Inc()
}

// IncBindFail records a Bind refused for an unknown DN, rejected upstream,
// or errored.
func (m *Metrics) IncBindFail() {
	m.BindFail.Add(1)
	m.bindFail.Inc()
}

// IncSearchAttempt records a Search request reaching the session layer.
func (m *Metrics) IncSearchAttempt() {
	m.SearchAttempts.Add(1)
	m.searchAttempts.Inc()
}

// IncSearchDenied records a Search rejected by policy before any cache or
// upstream work happened.
func (m *Metrics) IncSearchDenied() {
	m.SearchDenied.Add(1)
	m.searchDenied.Inc()
}

// IncCacheHit records a Search answered entirely from the cache.
func (m *Metrics) IncCacheHit() {
	m.CacheHits.Add(1)
	m.cacheHits.Inc()
}

// IncCacheMiss records a Search that required an upstream round trip.
func (m *Metrics) IncCacheMiss() {
	m.CacheMisses.Add(1)
	m.cacheMisses.Inc()
}
