package appstate

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/proxylog"
	"github.com/kanidm/ldap-proxy/internal/proxymetrics"
)

func testCfg() *config.Config {
	return &config.Config{
		UpstreamAddrs:     []string{"127.0.0.1:636"},
		BindDNMap:         map[string]config.DnConfig{"cn=a,dc=example,dc=com": {}},
		CacheBytes:        1 << 20,
		CacheEntryTimeout: 30 * time.Second,
	}
}

func TestDnConfigForKnownDN(t *testing.T) {
	a := New(testCfg(), nil, proxylog.New(false), proxymetrics.New(prometheus.NewRegistry()))

	dn, ok := a.DnConfigFor("cn=a,dc=example,dc=com")
	require.True(t, ok)
	assert.Empty(t, dn.AllowedQueries)
}

func TestDnConfigForUnknownDNDeniedByDefault(t *testing.T) {
	a := New(testCfg(), nil, proxylog.New(false), proxymetrics.New(prometheus.NewRegistry()))

	_, ok := a.DnConfigFor("cn=nope,dc=example,dc=com")
	assert.False(t, ok)
}

func TestDnConfigForUnknownDNAllowedWhenAllowAllSet(t *testing.T) {
	cfg := testCfg()
	cfg.AllowAllBindDNs = true
	a := New(cfg, nil, proxylog.New(false), proxymetrics.New(prometheus.NewRegistry()))

	dn, ok := a.DnConfigFor("cn=nope,dc=example,dc=com")
	require.True(t, ok)
	assert.Empty(t, dn.AllowedQueries)
}
