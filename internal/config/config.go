// Package config provides CLI/environment parsing and TOML file loading for
// the ldap-proxy service, in the same spirit as the benchmark tool's own
// internal/config package: flags are parsed with pflag, environment
// variables supply defaults, and the result is validated before the caller
// does anything with it.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "/etc/kanidm/ldap-proxy"

const (
	defaultCacheBytes         = 128 * 1024 * 1024
	defaultCacheEntryTimeout  = 1800 // seconds
)

// AddrInfoSource selects how the acceptor learns the client's real address.
type AddrInfoSource string

const (
	AddrInfoNone    AddrInfoSource = "None"
	AddrInfoProxyV2 AddrInfoSource = "ProxyV2"
)

// QueryTuple is one entry of a DnConfig's allow-list: an exact
// (base, scope, filter) triple. Scope is normalized by unmarshalQueries to
// the decimal RFC 4511 scope number ("0"/"1"/"2"); Filter is kept as the
// raw string configured in TOML and compared against the request filter's
// String() rendering (ldapwire.Filter) at policy-check time.
type QueryTuple struct {
	Base   string
	Scope  string
	Filter string
}

// scopeNames maps the scope names the spec's own notation uses (Base,
// OneLevel, Subtree, matching RFC 4511 §4.5.1.2) onto the decimal scope
// number the policy check compares against. Lookups are case-insensitive.
var scopeNames = map[string]string{
	"base":     "0",
	"onelevel": "1",
	"subtree":  "2",
}

// normalizeScope accepts either the decimal scope number or one of the
// spec's scope names (case-insensitive) and returns the decimal form.
func normalizeScope(raw string) (string, error) {
	switch raw {
	case "0", "1", "2":
		return raw, nil
	}
	if n, ok := scopeNames[strings.ToLower(raw)]; ok {
		return n, nil
	}
	return "", fmt.Errorf("config: unrecognized scope %q, want one of 0/1/2 or base/onelevel/subtree", raw)
}

// DnConfig is the per-bind-DN policy: an empty AllowedQueries means any
// search is permitted; otherwise it is an exact-match allow-list.
type DnConfig struct {
	AllowedQueries []QueryTuple
}

// unmarshalQueries turns the TOML `allowed_queries = ["base|scope|filter", ...]`
// shape into QueryTuple values.
func unmarshalQueries(raw []string) ([]QueryTuple, error) {
	out := make([]QueryTuple, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: malformed allowed_queries entry %q, want base|scope|filter", entry)
		}
		scope, err := normalizeScope(parts[1])
		if err != nil {
			return nil, fmt.Errorf("config: allowed_queries entry %q: %w", entry, err)
		}
		out = append(out, QueryTuple{Base: parts[0], Scope: scope, Filter: parts[2]})
	}
	return out, nil
}

// rawDnConfig is the TOML shape of a `[<dn>]` table.
type rawDnConfig struct {
	AllowedQueries []string `toml:"allowed_queries"`
}

// fileConfig mirrors the TOML document shape described in the spec's
// configuration table. BindDNMap is populated separately in Load: every
// `[<dn>]` table is an unknown key from fileConfig's point of view, so it
// is decoded on the side via toml.Primitive, the Go equivalent of the
// original Rust config's #[serde(flatten)] onto a BTreeMap.
type fileConfig struct {
	Bind               string `toml:"bind"`
	TLSKey             string `toml:"tls_key"`
	TLSChain           string `toml:"tls_chain"`
	LdapURL            string `toml:"ldap_url"`
	LdapCA             string `toml:"ldap_ca"`
	CacheBytes         int64  `toml:"cache_bytes"`
	CacheEntryTimeout  int64  `toml:"cache_entry_timeout"`
	MaxIncomingBerSize *int   `toml:"max_incoming_ber_size"`
	MaxProxyBerSize    *int   `toml:"max_proxy_ber_size"`
	AllowAllBindDNs    bool   `toml:"allow_all_bind_dns"`
	RemoteIPAddrInfo   string `toml:"remote_ip_addr_info"`
	AuditLogPath       string `toml:"audit_log_path"`
}

var knownTopLevelKeys = map[string]bool{
	"bind": true, "tls_key": true, "tls_chain": true, "ldap_url": true,
	"ldap_ca": true, "cache_bytes": true, "cache_entry_timeout": true,
	"max_incoming_ber_size": true, "max_proxy_ber_size": true,
	"allow_all_bind_dns": true, "remote_ip_addr_info": true,
	"audit_log_path": true,
}

// Config is the fully validated, process-wide configuration.
type Config struct {
	Bind     string
	TLSKey   string
	TLSChain string

	LdapURL    *url.URL
	LdapCA     string
	UpstreamHost string
	UpstreamAddrs []string

	CacheBytes         int64
	CacheEntryTimeout  time.Duration
	MaxIncomingBerSize int
	MaxProxyBerSize    int

	AllowAllBindDNs  bool
	RemoteIPAddrInfo AddrInfoSource

	BindDNMap map[string]DnConfig

	// AuditLogPath, if non-empty, enables CSV audit logging of denied
	// binds and policy-denied searches (see internal/audit). Empty
	// disables auditing entirely.
	AuditLogPath string

	Debug bool
}

// CLI holds the flags and environment overrides consumed before the TOML
// file is loaded.
type CLI struct {
	ConfigPath string
	Debug      bool
}

// ParseCLI parses -c/--config and -d/--debug, honoring
// LDAP_PROXY_CONFIG_PATH and LDAP_PROXY_DEBUG as defaults the way the
// original clap-based CLI honors its `env = "..."` attributes.
func ParseCLI(args []string) (CLI, error) {
	fs := pflag.NewFlagSet("ldap-proxy", pflag.ContinueOnError)

	configDefault := defaultConfigPath
	if v := os.Getenv("LDAP_PROXY_CONFIG_PATH"); v != "" {
		configDefault = v
	}

	debugDefault := false
	if v := os.Getenv("LDAP_PROXY_DEBUG"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			debugDefault = parsed
		}
	}

	var cli CLI
	fs.StringVarP(&cli.ConfigPath, "config", "c", configDefault, "Path to the TOML configuration file")
	fs.BoolVarP(&cli.Debug, "debug", "d", debugDefault, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return CLI{}, err
	}

	return cli, nil
}

// Load reads, parses, and validates the TOML configuration file at path.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %q: %w", path, err)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(contents), &fc); err != nil {
		return nil, fmt.Errorf("config: unable to parse %q: %w", path, err)
	}

	var raw map[string]toml.Primitive
	meta, err := toml.Decode(string(contents), &raw)
	if err != nil {
		return nil, fmt.Errorf("config: unable to parse %q: %w", path, err)
	}

	cfg := &Config{
		Bind:              fc.Bind,
		TLSKey:            fc.TLSKey,
		TLSChain:          fc.TLSChain,
		LdapCA:            fc.LdapCA,
		AllowAllBindDNs:   fc.AllowAllBindDNs,
		CacheBytes:        fc.CacheBytes,
		BindDNMap:         map[string]DnConfig{},
		AuditLogPath:      fc.AuditLogPath,
	}

	if cfg.CacheBytes == 0 {
		cfg.CacheBytes = defaultCacheBytes
	}

	entryTimeout := fc.CacheEntryTimeout
	if entryTimeout == 0 {
		entryTimeout = defaultCacheEntryTimeout
	}
	cfg.CacheEntryTimeout = time.Duration(entryTimeout) * time.Second

	if fc.MaxIncomingBerSize != nil {
		cfg.MaxIncomingBerSize = *fc.MaxIncomingBerSize
	}
	if fc.MaxProxyBerSize != nil {
		cfg.MaxProxyBerSize = *fc.MaxProxyBerSize
	}

	switch AddrInfoSource(fc.RemoteIPAddrInfo) {
	case AddrInfoProxyV2:
		cfg.RemoteIPAddrInfo = AddrInfoProxyV2
	default:
		cfg.RemoteIPAddrInfo = AddrInfoNone
	}

	if err := parseBindDNTables(&cfg.BindDNMap, meta, raw); err != nil {
		return nil, err
	}

	if err := cfg.validateAndResolve(fc.LdapURL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseBindDNTables decodes every top-level key that isn't one of
// fileConfig's own fields as a `[<dn>]` policy table, using
// toml.Primitive's deferred decoding so each table can be decoded in
// isolation into rawDnConfig — the Go equivalent of serde's
// #[serde(flatten)] onto a BTreeMap.
func parseBindDNTables(out *map[string]DnConfig, meta toml.MetaData, raw map[string]toml.Primitive) error {
	for name, prim := range raw {
		if knownTopLevelKeys[name] {
			continue
		}

		var dn rawDnConfig
		if err := meta.PrimitiveDecode(prim, &dn); err != nil {
			return fmt.Errorf("config: invalid bind-dn table %q: %w", name, err)
		}

		queries, err := unmarshalQueries(dn.AllowedQueries)
		if err != nil {
			return err
		}

		(*out)[name] = DnConfig{AllowedQueries: queries}
	}

	return nil
}

func (c *Config) validateAndResolve(rawURL string) error {
	if c.Bind == "" {
		return errors.New("config: bind is required")
	}
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		return fmt.Errorf("config: invalid bind address %q: %w", c.Bind, err)
	}

	if c.TLSKey == "" || c.TLSChain == "" {
		return errors.New("config: tls_key and tls_chain are required")
	}
	if c.LdapCA == "" {
		return errors.New("config: ldap_ca is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("config: invalid ldap_url: %w", err)
	}
	if parsed.Scheme != "ldaps" {
		return fmt.Errorf("config: ldap_url must use the ldaps scheme, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return errors.New("config: ldap_url has no host")
	}
	c.UpstreamHost = host

	port := parsed.Port()
	if port == "" {
		port = "636"
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("config: unable to resolve ldap_url host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("config: ldap_url host %q resolved to no addresses", host)
	}

	for _, a := range addrs {
		c.UpstreamAddrs = append(c.UpstreamAddrs, net.JoinHostPort(a, port))
	}

	c.LdapURL = parsed

	return nil
}

// ClientTLSConfig builds the TLS client configuration used to connect to
// the upstream directory: the CA file pins trust, and ServerName pins the
// expected hostname for verification.
func ClientTLSConfig(caPath, serverName string) (*tls.Config, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read ldap_ca %q: %w", caPath, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("config: %q contains no usable certificates", caPath)
	}

	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// ServerTLSConfig loads the proxy's own certificate chain and key for
// terminating client-facing TLS.
func ServerTLSConfig(chainPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(chainPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to load tls_chain/tls_key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
