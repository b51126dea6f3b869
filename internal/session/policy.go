package session

import (
	"strconv"

	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/ldapwire"
)

// queryAllowed implements the per-identity search policy: an empty
// allow-list permits anything; otherwise the request must exact-match one
// configured (base, scope, filter) tuple. Attributes, controls, and the
// size/time limits are deliberately not part of this check.
func queryAllowed(cfg config.DnConfig, sr ldapwire.SearchRequest) bool {
	if len(cfg.AllowedQueries) == 0 {
		return true
	}

	// cfg.AllowedQueries' Scope is normalized to this decimal form at
	// config-load time (see config.normalizeScope), regardless of whether
	// the operator wrote a number or a scope name in TOML.
	scope := strconv.FormatInt(int64(sr.Scope), 10)
	filter := ""
	if sr.Filter != nil {
		filter = sr.Filter.String()
	}

	for _, q := range cfg.AllowedQueries {
		if q.Base == sr.BaseDN && q.Scope == scope && q.Filter == filter {
			return true
		}
	}
	return false
}
