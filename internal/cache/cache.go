// Package cache implements the proxy's shared search-result cache: a
// size-bounded, time-expiring map from a normalized search fingerprint
// (Key) to the upstream response it produced (Value). It wraps
// hashicorp/golang-lru's ARC implementation — the same recency/frequency
// eviction policy kanidm's Rust proxy takes from concread's ARCache — with
// a byte-weight ledger, because ARCCache itself only bounds by entry count
// and this cache must bound by bytes.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/arc"

	"github.com/kanidm/ldap-proxy/internal/ldapwire"
)

// Entry pairs a search result entry with the controls it carried.
type Entry struct {
	SearchEntry ldapwire.SearchResultEntry
	Controls    []ldapwire.Control
}

// Value is the cached payload for one Key: an exact replay of what the
// upstream produced, in upstream order, plus the instant it stops being
// valid.
type Value struct {
	ValidUntil time.Time
	Entries    []Entry
	Result     ldapwire.SearchResultDone
	Controls   []ldapwire.Control
}

// Valid reports whether the value is still usable at instant now.
func (v *Value) Valid(now time.Time) bool {
	return now.Before(v.ValidUntil)
}

type stagedEntry struct {
	key    Key
	value  *Value
	weight int
}

// Cache is the shared, concurrency-safe search-result cache. A Cache is
// safe for use by many sessions concurrently: Get is a direct, internally
// synchronized read against the ARC store; Txn.InsertSized stages the insert on a
// channel so a session's cache-fill never blocks on another session's
// eviction bookkeeping, and TryQuiesce folds staged inserts in without
// blocking the caller.
type Cache struct {
	arc *lru.ARCCache[Key, *Value]

	capacityBytes int64
	usedBytes     atomic.Int64

	staged chan stagedEntry

	weightsMu sync.Mutex
	weights   map[Key]int
}

// entryOverheadBytes is the fixed per-entry bookkeeping cost charged in
// addition to the codec-reported entry sizes, matching the spec's "fixed
// header cost plus the sum of per-entry sizes" weight formula.
const entryOverheadBytes = 64

// New builds a Cache bounded at capacityBytes. The ARC store itself is
// sized generously by entry count (capacityBytes divided by a conservative
// minimum entry size) since golang-lru/v2/arc only understands item counts;
// the byte ledger below is what actually enforces the capacity.
func New(capacityBytes int64) *Cache {
	const minEntrySize = 256
	itemCapacity := int(capacityBytes / minEntrySize)
	if itemCapacity < 16 {
		itemCapacity = 16
	}

	arc, _ := lru.NewARC[Key, *Value](itemCapacity)

	return &Cache{
		arc:           arc,
		capacityBytes: capacityBytes,
		staged:        make(chan stagedEntry, 1024),
		weights:       make(map[Key]int),
	}
}

// Txn is a per-session handle onto the cache. It exists so a session can
// express "read, maybe miss, maybe fill" without any global lock being
// held across that sequence — sessions never block each other.
type Txn struct {
	c *Cache
}

// Txn opens a read transaction for the calling session.
func (c *Cache) Txn() Txn { return Txn{c: c} }

// Get returns the current value for key, if any, and whether it was
// present at all (callers must still separately check Value.Valid(now)
// since an expired entry may still physically be present).
func (t Txn) Get(key Key) (*Value, bool) {
	return t.c.arc.Get(key)
}

// InsertSized stages value under key with the given byte weight for
// incorporation on the next TryQuiesce. A weight of zero is treated as
// invalid per the spec and silently dropped rather than inserted.
func (t Txn) InsertSized(key Key, value *Value, weight int) {
	if weight <= 0 {
		return
	}

	select {
	case t.c.staged <- stagedEntry{key: key, value: value, weight: weight}:
	default:
		// Staging buffer is full; drop the insert. The next cache miss for
		// this key will simply refill it — losing a would-be cache hit is
		// always safe, unlike blocking a session on a busy cache.
	}
}

// TryQuiesce performs a non-blocking merge of any staged inserts into the
// shared ARC store, then evicts lowest-recency entries until the byte
// ledger is back at or under capacity. Call it after any session-level
// cache touch, as the spec requires.
func (c *Cache) TryQuiesce() {
	for {
		select {
		case staged := <-c.staged:
			c.incorporate(staged)
		default:
			c.evictToCapacity()
			return
		}
	}
}

func (c *Cache) incorporate(staged stagedEntry) {
	c.weightsMu.Lock()
	if old, ok := c.weights[staged.key]; ok {
		c.usedBytes.Add(-int64(old))
	}
	c.weights[staged.key] = staged.weight
	c.weightsMu.Unlock()

	c.arc.Add(staged.key, staged.value)
	c.usedBytes.Add(int64(staged.weight))
}

func (c *Cache) evictToCapacity() {
	for c.usedBytes.Load() > c.capacityBytes {
		keys := c.arc.Keys()
		if len(keys) == 0 {
			return
		}

		// ARCCache.Keys() returns the least-recently-used entries first;
		// evicting from the front favors keeping what ARC itself judges
		// hot.
		victim := keys[0]
		c.arc.Remove(victim)

		c.weightsMu.Lock()
		w, ok := c.weights[victim]
		if ok {
			delete(c.weights, victim)
		}
		c.weightsMu.Unlock()

		if ok {
			c.usedBytes.Add(-int64(w))
		} else {
			// Nothing left to evict toward; avoid spinning forever if our
			// weight ledger and the ARC store ever disagree.
			return
		}
	}
}

// Weight computes the cache weight of a prospective value: a fixed header
// cost plus the codec-reported size of every entry's DN and attribute
// values, matching the spec's sizing rule.
func Weight(value *Value) int {
	total := entryOverheadBytes
	for _, e := range value.Entries {
		total += len(e.SearchEntry.DN)
		for _, attr := range e.SearchEntry.Attributes {
			total += len(attr.Name)
			for _, v := range attr.Values {
				total += len(v)
			}
		}
	}
	return total
}
