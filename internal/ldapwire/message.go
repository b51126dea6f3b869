// Package ldapwire implements the BER-framed LDAPv3 message envelope used on
// both sides of the proxy: the client-facing listener and the upstream
// directory connection. It is deliberately minimal — only the operations the
// proxy forwards (Bind, Unbind, Search, the WhoAmI extended operation) are
// represented — rather than a general-purpose LDAP client library, because
// the proxy must relay requests and responses byte-faithfully instead of
// reinterpreting them.
package ldapwire

// Application tags for the LDAP protocolOp CHOICE, per RFC 4511 §4.1.1.
const (
	TagBindRequest         = 0
	TagBindResponse        = 1
	TagUnbindRequest       = 2
	TagSearchRequest       = 3
	TagSearchResultEntry   = 4
	TagSearchResultDone    = 5
	TagExtendedRequest     = 23
	TagExtendedResponse    = 24
)

// Result codes actually produced or consumed by this proxy. The full
// enumeration has dozens of values; only the ones the proxy itself emits or
// must recognize from the upstream are named.
type ResultCode int64

const (
	ResultSuccess         ResultCode = 0
	ResultOperationsError ResultCode = 1
)

// SearchScope mirrors the three scopes defined by RFC 4511 §4.5.1.2.
type SearchScope int64

const (
	ScopeBaseObject   SearchScope = 0
	ScopeSingleLevel  SearchScope = 1
	ScopeWholeSubtree SearchScope = 2
)

// DerefAliases mirrors RFC 4511 §4.5.1.3.
type DerefAliases int64

const (
	NeverDerefAliases   DerefAliases = 0
	DerefInSearching    DerefAliases = 1
	DerefFindingBaseObj DerefAliases = 2
	DerefAlways         DerefAliases = 3
)

// WhoAmI is the OID of the "Who am I?" extended operation (RFC 4532).
const WhoAmIOID = "1.3.6.1.4.1.4203.1.11.3"

// Control is an LDAP request/response control (RFC 4511 §4.1.11).
type Control struct {
	Type        string
	Criticality bool
	Value       []byte
	HasValue    bool
}

// Result is the common LDAPResult shape embedded in most responses.
type Result struct {
	Code          ResultCode
	MatchedDN     string
	Message       string
	Referral      []string
}

// Op is implemented by every concrete protocol operation this proxy
// understands. It exists purely to let Message.Op carry one of several
// concrete struct types, the Go analogue of the Rust LdapOp enum in
// kanidm's ldap3_proto.
type Op interface {
	opTag() int
}

type BindRequest struct {
	Version int64
	DN      string
	// Password holds the simple-bind credential. SASL mechanisms are not
	// forwarded specially: the proxy treats whatever bytes the client sent
	// as opaque and relays them to the upstream unchanged.
	Password []byte
}

func (BindRequest) opTag() int { return TagBindRequest }

type BindResponse struct {
	Result      Result
	SASLCreds   []byte
	HasSASLCred bool
}

func (BindResponse) opTag() int { return TagBindResponse }

type UnbindRequest struct{}

func (UnbindRequest) opTag() int { return TagUnbindRequest }

type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	DerefAliases DerefAliases
	SizeLimit    int64
	TimeLimit    int64
	TypesOnly    bool
	Filter       Filter
	Attributes   []string
}

func (SearchRequest) opTag() int { return TagSearchRequest }

// EntryAttribute is one attribute and its values on a search result entry.
type EntryAttribute struct {
	Name   string
	Values [][]byte
}

type SearchResultEntry struct {
	DN         string
	Attributes []EntryAttribute
}

func (SearchResultEntry) opTag() int { return TagSearchResultEntry }

type SearchResultDone struct {
	Result Result
}

func (SearchResultDone) opTag() int { return TagSearchResultDone }

type ExtendedRequest struct {
	Name  string
	Value []byte
	HasValue bool
}

func (ExtendedRequest) opTag() int { return TagExtendedRequest }

type ExtendedResponse struct {
	Result Result
	Name   string
	Value  []byte
	HasValue bool
}

func (ExtendedResponse) opTag() int { return TagExtendedResponse }

// Message is the full LDAPMessage envelope: a correlation id, one operation,
// and zero or more controls.
type Message struct {
	MsgID    int64
	Op       Op
	Controls []Control
}
