// Package ttlalchemy recomputes the TTL a cached answer should be stored and
// served with, rewarding frequently-requested names with longer effective
// TTLs and penalizing names whose RDATA changes often.
package ttlalchemy

import (
	"math"
)

// Config holds the tunables for Alchemize. Alchemize replaces any Config whose
// MaxTTL is 0, the zero value included, with DefaultConfig.
type Config struct {
	MinTTL           uint32
	MaxTTL           uint32
	FrequencyWeight  float64
	VolatilityWeight float64
	Enabled          bool
}

// DefaultConfig matches the defaults documented for ttl_alchemy in the
// service configuration.
func DefaultConfig() Config {
	return Config{
		MinTTL:           30,
		MaxTTL:           86400,
		FrequencyWeight:  0.15,
		VolatilityWeight: 0.5,
		Enabled:          true,
	}
}

// Alchemize computes the effective TTL to store and serve for a cache entry,
// given the record's original wire TTL, how many times it has been served
// from cache, and how many times its RDATA has been observed to change on
// refresh.
//
// freq = log2(1+hitCount) * frequencyWeight
// vol  = rdataChanges * volatilityWeight
// raw  = originalTTL * (1+freq) / (1+vol)
//
// raw is rounded and clamped to [cfg.MinTTL, cfg.MaxTTL]. If cfg.Enabled is
// false, this reduces to a plain clamp of originalTTL with no frequency or
// volatility term.
func Alchemize(originalTTL uint32, hitCount, rdataChanges uint64, cfg Config) uint32 {
	if cfg.MaxTTL == 0 {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return clamp(float64(originalTTL), cfg.MinTTL, cfg.MaxTTL)
	}
	freq := math.Log2(1+float64(hitCount)) * cfg.FrequencyWeight
	vol := float64(rdataChanges) * cfg.VolatilityWeight
	raw := float64(originalTTL) * (1 + freq) / (1 + vol)
	return clamp(math.Round(raw), cfg.MinTTL, cfg.MaxTTL)
}

func clamp(v float64, min, max uint32) uint32 {
	if v < float64(min) {
		return min
	}
	if v > float64(max) {
		return max
	}
	return uint32(v)
}
