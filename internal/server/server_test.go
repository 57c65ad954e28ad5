// Package server_test provides behavior tests for the server package.
package server_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/server"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// RateLimiter Tests
// ============================================================================

func rateLimitConfig(global, globalBurst, prefix, prefixBurst, ip, ipBurst float64) config.RateLimitConfig {
	return config.RateLimitConfig{
		GlobalQPS: global, GlobalBurst: int(globalBurst),
		PrefixQPS: prefix, PrefixBurst: int(prefixBurst),
		IPQPS: ip, IPBurst: int(ipBurst),
	}
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(1000, 100, 100, 10, 10, 5))

	for i := range 5 {
		assert.True(t, limiter.Allow("192.168.1.1"), "Request %d should be allowed", i)
	}
}

func TestRateLimiter_BlocksExceedingLimit(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(1000, 100, 100, 10, 10, 2))

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.1")

	assert.False(t, limiter.Allow("192.168.1.1"), "Should be rate limited after exceeding burst")
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	cfg := rateLimitConfig(100000, 10000, 100000, 10000, 10, 2)
	cfg.MaxIPEntries = 1000
	cfg.MaxPrefixEntries = 1000
	limiter := server.NewRateLimiterFromConfig(cfg)

	assert.True(t, limiter.Allow("192.168.1.1"), "IP1 first request")
	assert.True(t, limiter.Allow("192.168.1.1"), "IP1 second request")

	assert.True(t, limiter.Allow("10.0.0.1"), "IP2 first request - different /24 should have its own bucket")
	assert.True(t, limiter.Allow("10.0.0.1"), "IP2 second request")
}

func TestRateLimiter_NilLimiter(t *testing.T) {
	var limiter *server.RateLimiter

	assert.True(t, limiter.Allow("192.168.1.1"))
}

func TestRateLimiter_AllowAddr(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(1000, 100, 100, 10, 10, 5))

	ip := netip.MustParseAddr("192.168.1.1")

	for i := range 5 {
		assert.True(t, limiter.AllowAddr(ip), "Request %d should be allowed", i)
	}
}

func TestRateLimiter_IPv6(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(1000, 100, 100, 10, 10, 5))

	ip := netip.MustParseAddr("2001:db8::1")

	for i := range 5 {
		assert.True(t, limiter.AllowAddr(ip), "IPv6 request %d should be allowed", i)
	}
}

func TestRateLimiter_PrefixLimit(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(1000, 100, 10, 3, 10, 10))

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.2")
	limiter.Allow("192.168.1.3")

	assert.False(t, limiter.Allow("192.168.1.4"), "Should be prefix-limited")
}

func TestRateLimiter_GlobalLimit(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(10, 2, 1000, 100, 1000, 100))

	limiter.Allow("192.168.1.1")
	limiter.Allow("10.0.0.1")

	assert.False(t, limiter.Allow("172.16.0.1"), "Should be globally limited")
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := server.NewRateLimiterFromConfig(rateLimitConfig(10000, 1000, 1000, 100, 100, 10))

	done := make(chan bool)
	for range 10 {
		go func() {
			for range 100 {
				limiter.Allow("192.168.1.1")
			}
			done <- true
		}()
	}

	for range 10 {
		<-done
	}
}

// ============================================================================
// TokenBucketRateLimiter Tests
// ============================================================================

func TestTokenBucket_AllowConsumesToken(t *testing.T) {
	tb := server.NewTokenBucketRateLimiter(server.TokenBucketConfig{
		Rate:       1.0,
		Burst:      5,
		MaxEntries: 100,
	})

	for i := range 5 {
		assert.True(t, tb.Allow("key1"), "Request %d should be allowed", i)
	}

	assert.False(t, tb.Allow("key1"), "Should be rate limited after burst")
}

func TestTokenBucket_DifferentKeys(t *testing.T) {
	tb := server.NewTokenBucketRateLimiter(server.TokenBucketConfig{
		Rate:       1.0,
		Burst:      2,
		MaxEntries: 100,
	})

	tb.Allow("key1")
	tb.Allow("key1")

	assert.True(t, tb.Allow("key2"), "Different key should have separate bucket")
}

func TestTokenBucket_TokenReplenishment(t *testing.T) {
	tb := server.NewTokenBucketRateLimiter(server.TokenBucketConfig{
		Rate:       1000.0,
		Burst:      1,
		MaxEntries: 100,
	})

	assert.True(t, tb.Allow("key1"))
	assert.False(t, tb.Allow("key1"))

	time.Sleep(5 * time.Millisecond)

	assert.True(t, tb.Allow("key1"), "Should have replenished tokens")
}

func TestTokenBucket_DisabledWithZeroRate(t *testing.T) {
	tb := server.NewTokenBucketRateLimiter(server.TokenBucketConfig{
		Rate:       0,
		Burst:      5,
		MaxEntries: 100,
	})

	_ = tb.Allow("key1")
}

func TestTokenBucket_ConcurrentAccess(t *testing.T) {
	tb := server.NewTokenBucketRateLimiter(server.TokenBucketConfig{
		Rate:       1000,
		Burst:      100,
		MaxEntries: 1000,
	})

	done := make(chan bool)
	for i := range 10 {
		go func(id int) {
			key := string(rune('a' + id))
			for range 50 {
				tb.Allow(key)
			}
			done <- true
		}(i)
	}

	for range 10 {
		<-done
	}
}

// ============================================================================
// FormatRateLimitsLog Tests
// ============================================================================

func TestFormatRateLimitsLog(t *testing.T) {
	cfg := config.RateLimitConfig{
		GlobalQPS: 1000, GlobalBurst: 100,
		PrefixQPS: 100, PrefixBurst: 10,
		IPQPS: 10, IPBurst: 5,
		CleanupSeconds:   60,
		MaxIPEntries:     10000,
		MaxPrefixEntries: 1000,
	}

	result := server.FormatRateLimitsLog(cfg)

	assert.Contains(t, result, "global=1000qps/100")
	assert.Contains(t, result, "prefix=100qps/10")
	assert.Contains(t, result, "ip=10qps/5")
}

func TestFormatRateLimitsLog_Disabled(t *testing.T) {
	cfg := config.RateLimitConfig{}

	result := server.FormatRateLimitsLog(cfg)

	assert.Contains(t, result, "global=disabled")
	assert.Contains(t, result, "prefix=disabled")
	assert.Contains(t, result, "ip=disabled")
}
