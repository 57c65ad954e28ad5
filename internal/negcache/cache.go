// Package negcache caches NXDOMAIN and NODATA results, deriving their TTL
// from the authority section's SOA minimum per RFC 2308, and speculatively
// pre-populates plausible typo variants of queried names.
package negcache

import (
	"strings"
	"sync"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
)

// Kind distinguishes the two negative-caching scenarios.
type Kind int

const (
	KindNXDOMAIN Kind = iota
	KindNODATA
)

// Key identifies a negatively-cached query. For NODATA, QType is the type
// that had no records; for NXDOMAIN it is the type of the query that got the
// NXDOMAIN. Lookups match the whole key, QType included, for both kinds, so
// an NXDOMAIN entry only answers queries of the same type.
type Key struct {
	QName  string
	QType  uint16
	QClass uint16
	Kind   Kind
}

// Entry is a stored negative-cache result.
type Entry struct {
	StoredAt    time.Time
	TTL         uint32
	Speculative bool
	// Response is the raw NXDOMAIN/NODATA wire response this entry was
	// derived from, replayed (with a rewritten transaction ID and TTL) on
	// a subsequent cache hit instead of being fabricated from scratch.
	Response []byte
}

// speculativeTTLCap bounds TTL for entries synthesized from typo-variant
// speculation rather than an observed NXDOMAIN, since these are guesses.
const speculativeTTLCap = 60

// maxTypoVariants bounds how many variants are generated per query.
const maxTypoVariants = 10

// Cache is a concurrency-safe negative-answer cache.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

// New constructs an empty negative cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*Entry)}
}

// Check looks up key at time now, lazily expiring it if stale.
func (c *Cache) Check(key Key, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if now.Sub(e.StoredAt) >= time.Duration(e.TTL)*time.Second {
		delete(c.entries, key)
		return Entry{}, false
	}
	return *e, true
}

// Insert stores an authoritative (non-speculative) negative result,
// including the raw response it was derived from. It overwrites any
// existing entry, speculative or not.
func (c *Cache) Insert(key Key, ttl uint32, response []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry{StoredAt: now, TTL: ttl, Speculative: false, Response: response}
}

// InsertSpeculative stores a speculative negative result for a typo variant,
// including the raw response the speculation was derived from. It never
// overwrites a non-speculative entry, and its TTL is capped at
// speculativeTTLCap seconds.
func (c *Cache) InsertSpeculative(key Key, ttl uint32, response []byte, now time.Time) {
	if ttl > speculativeTTLCap {
		ttl = speculativeTTLCap
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && !existing.Speculative {
		return
	}
	c.entries[key] = &Entry{StoredAt: now, TTL: ttl, Speculative: true, Response: response}
}

// Len reports the number of entries currently stored.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ExtractNegTTL derives the negative-caching TTL from an SOA record per the
// documented (RFC-2308-adjacent but not strictly conformant) rule:
// min(SOA minimum, the SOA record's own wire TTL).
func ExtractNegTTL(soa *dns.SOARecord) uint32 {
	if soa == nil {
		return 0
	}
	ttl := soa.H.TTL
	if soa.Minimum < ttl {
		ttl = soa.Minimum
	}
	return ttl
}

// FindSOA scans a packet's authority section for an SOA record, as found in
// an NXDOMAIN or NODATA response.
func FindSOA(p *dns.Packet) *dns.SOARecord {
	for _, rr := range p.Authorities {
		if soa, ok := rr.(*dns.SOARecord); ok {
			return soa
		}
	}
	return nil
}

// GenerateTypoVariants produces plausible single-edit typo variants of the
// leftmost label of qname: one-character deletions and adjacent-character
// transpositions, capped at maxTypoVariants entries.
func GenerateTypoVariants(qname string) []string {
	labels := strings.SplitN(qname, ".", 2)
	if len(labels) == 0 || labels[0] == "" {
		return nil
	}
	leftmost := labels[0]
	var rest string
	if len(labels) == 2 {
		rest = "." + labels[1]
	}

	seen := make(map[string]bool)
	var variants []string
	add := func(label string) {
		if label == "" || label == leftmost {
			return
		}
		full := label + rest
		if seen[full] {
			return
		}
		seen[full] = true
		variants = append(variants, full)
	}

	runes := []rune(leftmost)
	for i := range runes {
		if len(variants) >= maxTypoVariants {
			return variants
		}
		deleted := string(runes[:i]) + string(runes[i+1:])
		add(deleted)
	}
	for i := 0; i+1 < len(runes); i++ {
		if len(variants) >= maxTypoVariants {
			return variants
		}
		swapped := append([]rune(nil), runes...)
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		add(string(swapped))
	}
	if len(variants) > maxTypoVariants {
		variants = variants[:maxTypoVariants]
	}
	return variants
}
