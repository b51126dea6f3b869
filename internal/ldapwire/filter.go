package ldapwire

import (
	"strings"
)

// Filter CHOICE tags, per RFC 4511 §4.5.1.7.
const (
	filterTagAnd             = 0
	filterTagOr              = 1
	filterTagNot             = 2
	filterTagEqualityMatch   = 3
	filterTagSubstrings      = 4
	filterTagGreaterOrEqual  = 5
	filterTagLessOrEqual     = 6
	filterTagPresent         = 7
	filterTagApproxMatch     = 8
	filterTagExtensibleMatch = 9
)

// Filter is the recursive LDAP search filter tree. Concrete node types below
// implement it. The proxy never evaluates filters — it only needs to relay
// them upstream and to compare them structurally for the cache key and the
// per-identity allow-list, so String() (a canonical RFC 4515-ish rendering)
// is the only behavior a Filter needs to expose: two structurally equal
// filter trees always produce the same string, which is what makes
// SearchCacheKey usable as a plain Go map key.
type Filter interface {
	filterTag() int
	String() string
}

type FilterAnd struct{ Filters []Filter }

func (FilterAnd) filterTag() int { return filterTagAnd }
func (f FilterAnd) String() string {
	return "(&" + joinFilters(f.Filters) + ")"
}

type FilterOr struct{ Filters []Filter }

func (FilterOr) filterTag() int { return filterTagOr }
func (f FilterOr) String() string {
	return "(|" + joinFilters(f.Filters) + ")"
}

type FilterNot struct{ Filter Filter }

func (FilterNot) filterTag() int { return filterTagNot }
func (f FilterNot) String() string {
	return "(!" + f.Filter.String() + ")"
}

type FilterEqualityMatch struct{ Attribute, Value string }

func (FilterEqualityMatch) filterTag() int { return filterTagEqualityMatch }
func (f FilterEqualityMatch) String() string {
	return "(" + f.Attribute + "=" + escapeFilterValue(f.Value) + ")"
}

type FilterSubstrings struct {
	Attribute string
	Initial   string
	Any       []string
	Final     string
}

func (FilterSubstrings) filterTag() int { return filterTagSubstrings }
func (f FilterSubstrings) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(f.Attribute)
	b.WriteByte('=')
	if f.Initial != "" {
		b.WriteString(escapeFilterValue(f.Initial))
	}
	for _, a := range f.Any {
		b.WriteByte('*')
		b.WriteString(escapeFilterValue(a))
	}
	b.WriteByte('*')
	if f.Final != "" {
		b.WriteString(escapeFilterValue(f.Final))
	}
	b.WriteByte(')')
	return b.String()
}

type FilterGreaterOrEqual struct{ Attribute, Value string }

func (FilterGreaterOrEqual) filterTag() int { return filterTagGreaterOrEqual }
func (f FilterGreaterOrEqual) String() string {
	return "(" + f.Attribute + ">=" + escapeFilterValue(f.Value) + ")"
}

type FilterLessOrEqual struct{ Attribute, Value string }

func (FilterLessOrEqual) filterTag() int { return filterTagLessOrEqual }
func (f FilterLessOrEqual) String() string {
	return "(" + f.Attribute + "<=" + escapeFilterValue(f.Value) + ")"
}

type FilterPresent struct{ Attribute string }

func (FilterPresent) filterTag() int { return filterTagPresent }
func (f FilterPresent) String() string {
	return "(" + f.Attribute + "=*)"
}

type FilterApproxMatch struct{ Attribute, Value string }

func (FilterApproxMatch) filterTag() int { return filterTagApproxMatch }
func (f FilterApproxMatch) String() string {
	return "(" + f.Attribute + "~=" + escapeFilterValue(f.Value) + ")"
}

type FilterExtensibleMatch struct {
	MatchingRule string
	Attribute    string
	Value        string
	DNAttributes bool
}

func (FilterExtensibleMatch) filterTag() int { return filterTagExtensibleMatch }
func (f FilterExtensibleMatch) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(f.Attribute)
	if f.DNAttributes {
		b.WriteString(":dn")
	}
	if f.MatchingRule != "" {
		b.WriteByte(':')
		b.WriteString(f.MatchingRule)
	}
	b.WriteString(":=")
	b.WriteString(escapeFilterValue(f.Value))
	b.WriteByte(')')
	return b.String()
}

func joinFilters(filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	// AND/OR terms keep the order the client sent them in, so two filters
	// that list the same terms in a different order render differently and
	// produce distinct cache keys.
	return strings.Join(parts, "")
}

var filterEscaper = strings.NewReplacer(
	`\`, `\5c`,
	`*`, `\2a`,
	`(`, `\28`,
	`)`, `\29`,
	"\x00", `\00`,
)

func escapeFilterValue(v string) string {
	return filterEscaper.Replace(v)
}
