// Package appstate bundles the process-wide state constructed once at
// startup and shared by reference with every session: upstream addresses
// and TLS context, per-bind-DN policy, the shared cache, and the ambient
// logger/metrics handles. Everything here is read-only after New returns;
// the cache is the only member with its own interior concurrency control.
package appstate

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"

	"github.com/kanidm/ldap-proxy/internal/audit"
	"github.com/kanidm/ldap-proxy/internal/cache"
	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/proxymetrics"
)

// AppState is the shared, immutable-after-construction application state
// described by the proxy's C5 component.
type AppState struct {
	UpstreamAddrs []string
	UpstreamTLS   *tls.Config

	BindDNMap       map[string]config.DnConfig
	AllowAllBindDNs bool

	Cache             *cache.Cache
	CacheEntryTimeout time.Duration

	MaxIncomingBerSize int
	MaxProxyBerSize    int

	RemoteIPAddrInfo config.AddrInfoSource

	Log     zerolog.Logger
	Metrics *proxymetrics.Metrics
	Audit   *audit.Logger
}

// New builds an AppState from a validated Config, the client-side TLS
// config used to dial the upstream, the process logger, and the metrics
// handle.
//
// ServerTLS is not stored on AppState: only the acceptor needs it, and it is
// threaded directly from cmd/ldap-proxy rather than carried on shared state.
func New(cfg *config.Config, upstreamTLS *tls.Config, log zerolog.Logger, metrics *proxymetrics.Metrics) *AppState {
	return &AppState{
		UpstreamAddrs: cfg.UpstreamAddrs,
		UpstreamTLS:   upstreamTLS,

		BindDNMap:       cfg.BindDNMap,
		AllowAllBindDNs: cfg.AllowAllBindDNs,

		Cache:             cache.New(cfg.CacheBytes),
		CacheEntryTimeout: cfg.CacheEntryTimeout,

		MaxIncomingBerSize: cfg.MaxIncomingBerSize,
		MaxProxyBerSize:    cfg.MaxProxyBerSize,

		RemoteIPAddrInfo: cfg.RemoteIPAddrInfo,

		Log:     log,
		Metrics: metrics,
		Audit:   audit.New(cfg.AuditLogPath, 64),
	}
}

// DnConfigFor looks up the policy for a bind DN, honoring AllowAllBindDNs:
// when set, any DN not explicitly configured is treated as an unrestricted
// allow-list rather than a deny-by-default unknown identity.
func (a *AppState) DnConfigFor(bindDN string) (config.DnConfig, bool) {
	if dn, ok := a.BindDNMap[bindDN]; ok {
		return dn, true
	}
	if a.AllowAllBindDNs {
		return config.DnConfig{}, true
	}
	return config.DnConfig{}, false
}
