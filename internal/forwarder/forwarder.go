// Package forwarder implements upstream query forwarding: racing several
// upstream resolvers per query, scoring them by a continuous trust metric,
// and automatically disabling and re-enabling upstreams based on that score.
package forwarder

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/jroosing/hydradns/internal/sockpool"
)

// ErrAllUpstreamsFailed is returned when every raced upstream failed or
// timed out.
var ErrAllUpstreamsFailed = fmt.Errorf("forwarder: all upstreams failed")

const (
	latencyWindow       = 20
	successWeight       = 0.7
	latencyStability    = 0.3
	defaultMinTrustScore = 0.2
	defaultRaceCount     = 2
	defaultTimeout       = 2 * time.Second

	// minSampleQueries is how many total queries an upstream must have seen
	// before trust recalculation is willing to disable it; this keeps a
	// single early failure from disabling an upstream nobody has tried yet.
	minSampleQueries = 10

	// defaultRecalcInterval is how often RecalculateTrust runs when driven
	// by StartTrustRecalc.
	defaultRecalcInterval = 30 * time.Second
)

// upstream tracks rolling health stats for one configured upstream server.
type upstream struct {
	mu          sync.Mutex
	addr        string
	successes   uint64
	failures    uint64
	latenciesMs []float64
	disabled    bool
}

func (u *upstream) recordSuccess(latency time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.successes++
	u.latenciesMs = append(u.latenciesMs, float64(latency.Milliseconds()))
	if len(u.latenciesMs) > latencyWindow {
		u.latenciesMs = u.latenciesMs[len(u.latenciesMs)-latencyWindow:]
	}
}

func (u *upstream) recordFailure() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures++
}

func (u *upstream) totalQueries() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.successes + u.failures
}

// trustScore computes 0.7*success_rate + 0.3*latency_stability, where
// latency_stability is 1 minus the coefficient of variation of recent
// latencies (clamped to [0,1]), and defaults to 0 with too little data to
// judge stability.
func (u *upstream) trustScore() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := u.successes + u.failures
	var successRate float64 = 1
	if total > 0 {
		successRate = float64(u.successes) / float64(total)
	}

	// Too little data to judge stability defaults to 0, not 1: otherwise an
	// upstream with a single lucky success (or none at all) outscores the
	// disable threshold before it has earned any trust.
	stability := 0.0
	if n := len(u.latenciesMs); n >= 2 {
		mean := 0.0
		for _, v := range u.latenciesMs {
			mean += v
		}
		mean /= float64(n)
		if mean > 0 {
			var variance float64
			for _, v := range u.latenciesMs {
				d := v - mean
				variance += d * d
			}
			variance /= float64(n)
			cv := math.Sqrt(variance) / mean
			stability = 1 - cv
			if stability < 0 {
				stability = 0
			}
			if stability > 1 {
				stability = 1
			}
		}
	}

	return successWeight*successRate + latencyStability*stability
}

// Config holds forwarder tunables.
type Config struct {
	RaceCount     int
	Timeout       time.Duration
	MinTrustScore float64
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		RaceCount:     defaultRaceCount,
		Timeout:       defaultTimeout,
		MinTrustScore: defaultMinTrustScore,
	}
}

// Forwarder races queries across a configured set of upstream resolvers.
type Forwarder struct {
	mu        sync.Mutex
	upstreams []*upstream
	pool      *sockpool.Pool
	cfg       Config
}

// New constructs a Forwarder for the given upstream addresses (host:port).
func New(addrs []string, cfg Config) *Forwarder {
	if cfg.RaceCount <= 0 {
		cfg.RaceCount = DefaultConfig().RaceCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MinTrustScore <= 0 {
		cfg.MinTrustScore = DefaultConfig().MinTrustScore
	}
	f := &Forwarder{
		pool: sockpool.NewPool(64),
		cfg:  cfg,
	}
	for _, a := range addrs {
		f.upstreams = append(f.upstreams, &upstream{addr: a})
	}
	return f
}

// candidates returns every currently enabled upstream. If every upstream is
// disabled, all are returned (auto re-enable) rather than leaving the
// forwarder with nothing to race.
func (f *Forwarder) candidates() []*upstream {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool := make([]*upstream, 0, len(f.upstreams))
	for _, u := range f.upstreams {
		u.mu.Lock()
		disabled := u.disabled
		u.mu.Unlock()
		if !disabled {
			pool = append(pool, u)
		}
	}
	if len(pool) == 0 {
		for _, u := range f.upstreams {
			u.mu.Lock()
			u.disabled = false
			u.mu.Unlock()
		}
		pool = append(pool, f.upstreams...)
	}
	return pool
}

type raceResult struct {
	addr     string
	response []byte
	err      error
}

// Forward races every enabled upstream with query, returning the first
// successful response. Each raced server's health stats (success/failure,
// latency) are updated as results arrive; whether that changes a server's
// disabled state is decided separately, by the periodic trust-recalculation
// loop, not here.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, string, error) {
	targets := f.candidates()
	if len(targets) == 0 {
		return nil, "", ErrAllUpstreamsFailed
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	results := make(chan raceResult, len(targets))
	for _, u := range targets {
		go f.queryOne(ctx, u, query, results)
	}

	var lastErr error
	for i := 0; i < len(targets); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				return r.response, r.addr, nil
			}
			lastErr = r.err
		case <-ctx.Done():
			return nil, "", fmt.Errorf("forwarder: %w", ctx.Err())
		}
	}
	if lastErr == nil {
		lastErr = ErrAllUpstreamsFailed
	}
	return nil, "", fmt.Errorf("forwarder: %w", lastErr)
}

func (f *Forwarder) queryOne(ctx context.Context, u *upstream, query []byte, out chan<- raceResult) {
	start := time.Now()
	resp, err := exchangeUDP(ctx, u.addr, query)
	if err != nil {
		u.recordFailure()
		out <- raceResult{addr: u.addr, err: err}
		return
	}
	u.recordSuccess(time.Since(start))
	out <- raceResult{addr: u.addr, response: resp}
}

func exchangeUDP(ctx context.Context, addr string, query []byte) ([]byte, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("write to upstream %s: %w", addr, err)
	}
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read from upstream %s: %w", addr, err)
	}
	return buf[:n], nil
}

// RecalculateTrust disables any upstream whose trust score has fallen below
// cfg.MinTrustScore, and re-enables any disabled upstream that has since
// recovered above it. Upstreams with fewer than minSampleQueries total
// queries are left alone: there isn't enough data yet to trust the score.
// This runs on its own periodic schedule (see StartTrustRecalc) rather than
// synchronously after every race, so a single bad query never flips an
// upstream's disabled state by itself.
func (f *Forwarder) RecalculateTrust() {
	f.mu.Lock()
	upstreams := append([]*upstream(nil), f.upstreams...)
	f.mu.Unlock()

	for _, u := range upstreams {
		if u.totalQueries() < minSampleQueries {
			continue
		}
		score := u.trustScore()
		u.mu.Lock()
		u.disabled = score < f.cfg.MinTrustScore
		u.mu.Unlock()
	}
}

// StartTrustRecalc runs RecalculateTrust on a fixed interval until ctx is
// canceled. interval defaults to defaultRecalcInterval when non-positive.
func (f *Forwarder) StartTrustRecalc(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRecalcInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.RecalculateTrust()
			}
		}
	}()
}

// Close releases forwarder resources.
func (f *Forwarder) Close() {
	f.pool.Close()
}
