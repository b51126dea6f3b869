package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
bind = "127.0.0.1:3636"
tls_key = "tls.key"
tls_chain = "tls.chain"
ldap_url = "ldaps://127.0.0.1:636"
ldap_ca = "ca.pem"
cache_bytes = 1048576
cache_entry_timeout = 60
allow_all_bind_dns = false
remote_ip_addr_info = "ProxyV2"
audit_log_path = "/var/log/ldap-proxy/audit.csv"

["cn=a,dc=example,dc=com"]
allowed_queries = ["dc=x|2|(uid=bob)"]

["cn=b,dc=example,dc=com"]
allowed_queries = []
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ldap-proxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesBindDNTables(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3636", cfg.Bind)
	assert.Equal(t, AddrInfoProxyV2, cfg.RemoteIPAddrInfo)
	assert.Equal(t, int64(1048576), cfg.CacheBytes)
	assert.Equal(t, []string{"127.0.0.1:636"}, cfg.UpstreamAddrs)
	assert.Equal(t, "/var/log/ldap-proxy/audit.csv", cfg.AuditLogPath)

	require.Contains(t, cfg.BindDNMap, "cn=a,dc=example,dc=com")
	dn := cfg.BindDNMap["cn=a,dc=example,dc=com"]
	require.Len(t, dn.AllowedQueries, 1)
	assert.Equal(t, QueryTuple{Base: "dc=x", Scope: "2", Filter: "(uid=bob)"}, dn.AllowedQueries[0])

	require.Contains(t, cfg.BindDNMap, "cn=b,dc=example,dc=com")
	assert.Empty(t, cfg.BindDNMap["cn=b,dc=example,dc=com"].AllowedQueries)
}

func TestLoadDefaultsCacheSettings(t *testing.T) {
	path := writeConfig(t, `
bind = "127.0.0.1:3636"
tls_key = "tls.key"
tls_chain = "tls.chain"
ldap_url = "ldaps://127.0.0.1:636"
ldap_ca = "ca.pem"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, defaultCacheBytes, cfg.CacheBytes)
	assert.EqualValues(t, defaultCacheEntryTimeout, cfg.CacheEntryTimeout.Seconds())
	assert.Equal(t, AddrInfoNone, cfg.RemoteIPAddrInfo)
}

func TestLoadRejectsNonLdapsURL(t *testing.T) {
	path := writeConfig(t, `
bind = "127.0.0.1:3636"
tls_key = "tls.key"
tls_chain = "tls.chain"
ldap_url = "ldap://127.0.0.1:389"
ldap_ca = "ca.pem"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ldaps")
}

func TestLoadRejectsMissingBind(t *testing.T) {
	path := writeConfig(t, `
tls_key = "tls.key"
tls_chain = "tls.chain"
ldap_url = "ldaps://127.0.0.1:636"
ldap_ca = "ca.pem"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestUnmarshalQueriesRejectsMalformedEntry(t *testing.T) {
	_, err := unmarshalQueries([]string{"only-one-field"})
	require.Error(t, err)
}

func TestUnmarshalQueriesAcceptsScopeNames(t *testing.T) {
	tuples, err := unmarshalQueries([]string{
		"dc=x|Subtree|(uid=bob)",
		"dc=y|onelevel|(uid=alice)",
		"dc=z|BASE|(uid=eve)",
		"dc=w|2|(uid=carol)",
	})
	require.NoError(t, err)
	require.Len(t, tuples, 4)
	assert.Equal(t, "2", tuples[0].Scope)
	assert.Equal(t, "1", tuples[1].Scope)
	assert.Equal(t, "0", tuples[2].Scope)
	assert.Equal(t, "2", tuples[3].Scope)
}

func TestUnmarshalQueriesRejectsUnrecognizedScope(t *testing.T) {
	_, err := unmarshalQueries([]string{"dc=x|Whole|(uid=bob)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scope")
}

func TestParseCLIEnvDefaults(t *testing.T) {
	t.Setenv("LDAP_PROXY_CONFIG_PATH", "/tmp/custom.toml")
	t.Setenv("LDAP_PROXY_DEBUG", "true")

	cli, err := ParseCLI(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.toml", cli.ConfigPath)
	assert.True(t, cli.Debug)
}

func TestParseCLIFlagsOverrideEnv(t *testing.T) {
	t.Setenv("LDAP_PROXY_CONFIG_PATH", "/tmp/custom.toml")

	cli, err := ParseCLI([]string{"-c", "/tmp/other.toml", "-d"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.toml", cli.ConfigPath)
	assert.True(t, cli.Debug)
}
