package cache

import (
	"strings"

	"github.com/kanidm/ldap-proxy/internal/ldapwire"
)

// Key is the cache key: structural over every field of the search request
// plus the ordered control list and the bind DN, exactly as the spec
// requires. It is built from string-normalized fields so it stays a plain,
// comparable Go value usable directly as a map key — two identical
// searches always normalize to the same Key, and any differing
// field (filter, scope, attributes, size/time limit, types-only, deref,
// controls, or bind DN) always produces a distinct one.
type Key struct {
	BindDN       string
	BaseDN       string
	Scope        ldapwire.SearchScope
	DerefAliases ldapwire.DerefAliases
	SizeLimit    int64
	TimeLimit    int64
	TypesOnly    bool
	Filter       string
	Attributes   string
	Controls     string
}

// NewKey constructs a Key from a search request and its controls. The
// attribute list is NOT sorted: attribute order does not change the search
// semantics, but the spec is explicit that any differing element of the
// request invalidates the cache key, and attribute order is as much a
// detail of "what the client asked for" as content, so it is preserved
// verbatim here to stay conservative.
func NewKey(bindDN string, sr ldapwire.SearchRequest, controls []ldapwire.Control) Key {
	return Key{
		BindDN:       bindDN,
		BaseDN:       sr.BaseDN,
		Scope:        sr.Scope,
		DerefAliases: sr.DerefAliases,
		SizeLimit:    sr.SizeLimit,
		TimeLimit:    sr.TimeLimit,
		TypesOnly:    sr.TypesOnly,
		Filter:       filterString(sr.Filter),
		Attributes:   strings.Join(sr.Attributes, "\x00"),
		Controls:     controlsString(controls),
	}
}

func filterString(f ldapwire.Filter) string {
	if f == nil {
		return ""
	}
	return f.String()
}

func controlsString(controls []ldapwire.Control) string {
	if len(controls) == 0 {
		return ""
	}

	parts := make([]string, len(controls))
	for i, c := range controls {
		crit := "0"
		if c.Criticality {
			crit = "1"
		}
		parts[i] = c.Type + "\x01" + crit + "\x01" + string(c.Value)
	}

	// Controls are carried in the order the client sent them; they are not
	// reordered here. Only the joining separator needs to be unambiguous.
	return strings.Join(parts, "\x00")
}

// AllowKey is the coarser (base, scope, filter) tuple of the per-identity
// allow-list. It deliberately omits attributes and controls, per the spec's
// policy-tuple design note: operators permit a logical query regardless of
// what is projected, so it must never be conflated with Key above. The
// session's policy check (session.queryAllowed) compares these same three
// fields against config.QueryTuple directly and does not build an AllowKey.
type AllowKey struct {
	BaseDN string
	Scope  ldapwire.SearchScope
	Filter string
}

// NewAllowKey builds the policy tuple for a search request.
func NewAllowKey(sr ldapwire.SearchRequest) AllowKey {
	return AllowKey{BaseDN: sr.BaseDN, Scope: sr.Scope, Filter: filterString(sr.Filter)}
}
