package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanidm/ldap-proxy/internal/ldapwire"
)

func sampleRequest(filterAttr string) ldapwire.SearchRequest {
	return ldapwire.SearchRequest{
		BaseDN: "dc=example,dc=com",
		Scope:  ldapwire.ScopeWholeSubtree,
		Filter: ldapwire.FilterPresent{Attribute: filterAttr},
	}
}

func TestKeyDistinctOnEveryField(t *testing.T) {
	base := NewKey("cn=a", sampleRequest("objectClass"), nil)

	cases := map[string]Key{
		"filter":     NewKey("cn=a", sampleRequest("uid"), nil),
		"bind_dn":    NewKey("cn=b", sampleRequest("objectClass"), nil),
		"controls":   NewKey("cn=a", sampleRequest("objectClass"), []ldapwire.Control{{Type: "1.1"}}),
		"attributes": NewKey("cn=a", withAttrs(sampleRequest("objectClass"), "uid"), nil),
		"scope":      NewKey("cn=a", withScope(sampleRequest("objectClass"), ldapwire.ScopeSingleLevel), nil),
		"size_limit": NewKey("cn=a", withSizeLimit(sampleRequest("objectClass"), 5), nil),
		"types_only": NewKey("cn=a", withTypesOnly(sampleRequest("objectClass")), nil),
		"base":       NewKey("cn=a", withBase(sampleRequest("objectClass"), "dc=other,dc=com"), nil),
		"deref":      NewKey("cn=a", withDeref(sampleRequest("objectClass"), ldapwire.DerefAlways), nil),
		"time_limit": NewKey("cn=a", withTimeLimit(sampleRequest("objectClass"), 5), nil),
	}

	for name, k := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, base, k)
		})
	}
}

func withAttrs(sr ldapwire.SearchRequest, attrs ...string) ldapwire.SearchRequest {
	sr.Attributes = attrs
	return sr
}

func withScope(sr ldapwire.SearchRequest, scope ldapwire.SearchScope) ldapwire.SearchRequest {
	sr.Scope = scope
	return sr
}

func withSizeLimit(sr ldapwire.SearchRequest, n int64) ldapwire.SearchRequest {
	sr.SizeLimit = n
	return sr
}

func withTypesOnly(sr ldapwire.SearchRequest) ldapwire.SearchRequest {
	sr.TypesOnly = true
	return sr
}

func withBase(sr ldapwire.SearchRequest, base string) ldapwire.SearchRequest {
	sr.BaseDN = base
	return sr
}

func withDeref(sr ldapwire.SearchRequest, deref ldapwire.DerefAliases) ldapwire.SearchRequest {
	sr.DerefAliases = deref
	return sr
}

func withTimeLimit(sr ldapwire.SearchRequest, n int64) ldapwire.SearchRequest {
	sr.TimeLimit = n
	return sr
}

func TestKeyStableForIdenticalRequest(t *testing.T) {
	a := NewKey("cn=a", sampleRequest("objectClass"), []ldapwire.Control{{Type: "1.1", Criticality: true}})
	b := NewKey("cn=a", sampleRequest("objectClass"), []ldapwire.Control{{Type: "1.1", Criticality: true}})
	assert.Equal(t, a, b)
}

func TestInsertGetHitAndExpiry(t *testing.T) {
	c := New(1 << 20)
	key := NewKey("cn=a", sampleRequest("objectClass"), nil)
	value := &Value{
		ValidUntil: time.Now().Add(time.Hour),
		Entries:    []Entry{{SearchEntry: ldapwire.SearchResultEntry{DN: "uid=bob,dc=example,dc=com"}}},
		Result:     ldapwire.SearchResultDone{Result: ldapwire.Result{Code: ldapwire.ResultSuccess}},
	}

	txn := c.Txn()
	_, hit := txn.Get(key)
	require.False(t, hit)

	txn.InsertSized(key, value, Weight(value))
	c.TryQuiesce()

	got, hit := txn.Get(key)
	require.True(t, hit)
	require.True(t, got.Valid(time.Now()))
	assert.Equal(t, value.Entries[0].SearchEntry.DN, got.Entries[0].SearchEntry.DN)
}

func TestExpiredValueIsNotValid(t *testing.T) {
	value := &Value{ValidUntil: time.Now().Add(-time.Second)}
	assert.False(t, value.Valid(time.Now()))
}

func TestZeroWeightIsNotInserted(t *testing.T) {
	c := New(1 << 20)
	key := NewKey("cn=a", sampleRequest("objectClass"), nil)
	value := &Value{ValidUntil: time.Now().Add(time.Hour)}

	txn := c.Txn()
	txn.InsertSized(key, value, 0)
	c.TryQuiesce()

	_, hit := txn.Get(key)
	assert.False(t, hit)
}

func TestWeightAccountsForEntryContent(t *testing.T) {
	small := &Value{Entries: []Entry{{SearchEntry: ldapwire.SearchResultEntry{DN: "a"}}}}
	big := &Value{Entries: []Entry{{SearchEntry: ldapwire.SearchResultEntry{
		DN: "uid=bob,dc=example,dc=com",
		Attributes: []ldapwire.EntryAttribute{
			{Name: "description", Values: [][]byte{[]byte("a very long description field indeed")}},
		},
	}}}}

	assert.Greater(t, Weight(big), Weight(small))
}
