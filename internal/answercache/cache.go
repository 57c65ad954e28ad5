// Package answercache implements the positive answer cache: dynamic
// (alchemized) TTLs, serve-stale on expiry, score-based eviction and
// prefetch-candidate selection.
package answercache

import (
	"sync"
	"time"

	"github.com/jroosing/hydradns/internal/ttlalchemy"
)

// State describes the freshness of a cache lookup result.
type State int

const (
	Miss State = iota
	Fresh
	Stale
)

// Key identifies a cached query.
type Key struct {
	QName  string
	QType  uint16
	QClass uint16
}

// Entry is a stored positive answer.
type Entry struct {
	Key          Key
	ResponseBody []byte
	RDataHash    string
	OriginalTTL  uint32
	TTL          uint32
	StoredAt     time.Time
	HitCount     uint64
	RDataChanges uint64
	// Source is the free-form label of whatever produced this answer
	// (e.g. "recursive", "forwarder:1.1.1.1:53"). On a stale hit, Get
	// suffixes the returned copy's Source with " (stale)".
	Source string
}

func (e *Entry) ageSeconds(now time.Time) float64 {
	age := now.Sub(e.StoredAt).Seconds()
	if age < 0 {
		return 0
	}
	return age
}

// score implements spec's eviction scoring: hit_count / max(age_seconds, 1).
func (e *Entry) score(now time.Time) float64 {
	age := e.ageSeconds(now)
	if age < 1 {
		age = 1
	}
	return float64(e.HitCount) / age
}

// Config holds cache-wide tunables.
type Config struct {
	MaxEntries  int
	StaleWindow time.Duration
	Alchemy     ttlalchemy.Config
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:  200000,
		StaleWindow: 1 * time.Hour,
		Alchemy:     ttlalchemy.DefaultConfig(),
	}
}

// Cache is a concurrency-safe positive answer cache.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	cfg     Config
}

// New constructs an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultConfig().StaleWindow
	}
	return &Cache{
		entries: make(map[Key]*Entry),
		cfg:     cfg,
	}
}

// Get looks up key at time now, returning its freshness state and a copy of
// the stored entry if one exists. A Fresh or Stale result also records the
// lookup as a hit (per-key consistency, no cross-key locking held during
// the caller's subsequent work).
func (c *Cache) Get(key Key, now time.Time) (Entry, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, Miss
	}
	age := now.Sub(e.StoredAt)
	switch {
	case age < time.Duration(e.TTL)*time.Second:
		e.HitCount++
		return *e, Fresh
	case age < time.Duration(e.TTL)*time.Second+c.cfg.StaleWindow:
		e.HitCount++
		stale := *e
		stale.Source += " (stale)"
		return stale, Stale
	default:
		delete(c.entries, key)
		return Entry{}, Miss
	}
}

// RemainingTTL returns the TTL to stamp on the wire for a lookup result: the
// true remaining freshness window when Fresh, or 1 second when Stale
// (serve-stale), per the data model's documented remaining_ttl semantics.
func RemainingTTL(e Entry, state State, now time.Time) uint32 {
	if state == Stale {
		return 1
	}
	elapsed := now.Sub(e.StoredAt).Seconds()
	remaining := float64(e.TTL) - elapsed
	if remaining < 1 {
		remaining = 1
	}
	return uint32(remaining)
}

// Insert stores or refreshes a cache entry. If a prior entry exists for key,
// its hit_count is preserved, and rdata_changes is incremented if rdataHash
// differs from the stored one. The stored TTL is alchemy-adjusted from
// originalTTL using the preserved hit_count and rdata_changes. source is the
// free-form label of whatever produced this answer (e.g. "recursive" or
// "forwarder:<addr>").
func (c *Cache) Insert(key Key, responseBody []byte, rdataHash string, originalTTL uint32, source string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitCount, rdataChanges uint64
	if prev, ok := c.entries[key]; ok {
		hitCount = prev.HitCount
		rdataChanges = prev.RDataChanges
		if prev.RDataHash != "" && rdataHash != "" && prev.RDataHash != rdataHash {
			rdataChanges++
		}
	}

	ttl := ttlalchemy.Alchemize(originalTTL, hitCount, rdataChanges, c.cfg.Alchemy)
	if ttl == 0 {
		delete(c.entries, key)
		return
	}

	c.entries[key] = &Entry{
		Key:          key,
		ResponseBody: responseBody,
		RDataHash:    rdataHash,
		OriginalTTL:  originalTTL,
		TTL:          ttl,
		StoredAt:     now,
		HitCount:     hitCount,
		RDataChanges: rdataChanges,
		Source:       source,
	}

	if len(c.entries) > c.cfg.MaxEntries {
		c.evictLowestScore(now)
	}
}

// evictLowestScore removes the entry with the lowest hit_count/age score.
// Caller must hold c.mu. Ties are broken by map iteration order, which is
// unspecified and acceptable since the eviction tie-break is unspecified.
func (c *Cache) evictLowestScore(now time.Time) {
	var worstKey Key
	worstScore := -1.0
	found := false
	for k, e := range c.entries {
		s := e.score(now)
		if !found || s < worstScore {
			worstScore = s
			worstKey = k
			found = true
		}
	}
	if found {
		delete(c.entries, worstKey)
	}
}

// PrefetchCandidates returns keys whose elapsed/ttl ratio meets or exceeds
// threshold and that are still fresh (elapsed < ttl), suitable for proactive
// background refresh. Stale or expired entries are not returned.
func (c *Cache) PrefetchCandidates(now time.Time, threshold float64) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Key
	for k, e := range c.entries {
		if e.TTL == 0 {
			continue
		}
		elapsed := now.Sub(e.StoredAt).Seconds()
		ratio := elapsed / float64(e.TTL)
		if ratio >= threshold && ratio < 1 {
			out = append(out, k)
		}
	}
	return out
}

// Len reports the number of entries currently stored.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Delete removes an entry, used when a refresh proves a name no longer
// resolves the way the cached entry claims.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
