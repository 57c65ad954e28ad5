// Package recursive implements iterative recursive DNS resolution: starting
// from the root (or the closest cached delegation), it walks the referral
// chain toward an authoritative answer, racing candidate nameservers chosen
// by RTT band and giving up after a bounded number of referral hops.
package recursive

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jroosing/hydradns/internal/delegation"
	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/rttcache"
	"github.com/jroosing/hydradns/internal/sockpool"
)

// ErrMaxDepth is returned when resolution exceeds the configured referral
// depth without reaching an answer.
var ErrMaxDepth = fmt.Errorf("recursive: max referral depth exceeded")

// maxInitialFrontier bounds how many servers the RTT-band selection is
// allowed to hand back when establishing the starting frontier.
const maxInitialFrontier = 6

// maxSiblingNS bounds how many bare NS names are resolved concurrently when
// a referral carries no glue.
const maxSiblingNS = 3

// fastServerThresholdMs marks a known server as "fast enough" that the
// resolver only races it for redundancy rather than for exploration.
const fastServerThresholdMs = 100.0

// minPerServerTimeout is the floor on the per-server adaptive timeout,
// regardless of how fast a server's RTO suggests it normally is.
const minPerServerTimeout = 500 * time.Millisecond

// rootWarmupTimeout bounds the asynchronous startup probe against each root
// server.
const rootWarmupTimeout = 1500 * time.Millisecond

// ResponseKind classifies an upstream response during iterative resolution.
type ResponseKind int

const (
	KindError ResponseKind = iota
	KindAnswer
	KindReferral
	KindNXDOMAIN
	KindNODATA
)

// Config holds resolver tunables.
type Config struct {
	MaxDepth int
	// BaseTimeout is the nominal per-round query timeout at depth 0
	// (spec's query_timeout_ms); it decays with referral depth.
	BaseTimeout  time.Duration
	ParallelRace int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:     16,
		BaseTimeout:  1500 * time.Millisecond,
		ParallelRace: 2,
	}
}

// Resolver performs iterative recursive resolution.
type Resolver struct {
	cfg        Config
	delegation *delegation.Cache
	rtt        *rttcache.Cache
	pool       *sockpool.Pool
	roots      []RootServer
}

// New constructs a Resolver, seeds the delegation cache with root hints, and
// asynchronously probes every root server to warm the RTT cache so the first
// real query does not start with every root scored as "unknown".
func New(roots []RootServer, cfg Config) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg = DefaultConfig()
	}
	r := &Resolver{
		cfg:        cfg,
		delegation: delegation.New(),
		rtt:        rttcache.New(),
		pool:       sockpool.NewPool(128),
		roots:      roots,
	}
	r.warmRoot()
	r.warmRTT()
	return r
}

func (r *Resolver) warmRoot() {
	addrs := make([]net.IP, 0, len(r.roots))
	names := make([]string, 0, len(r.roots))
	for _, s := range r.roots {
		addrs = append(addrs, s.IP)
		names = append(names, s.Name)
	}
	r.delegation.Store("", names, addrs, nil, time.Now(), 0)
}

// warmRTT asynchronously queries every root server for ". NS" so the infra
// cache has a real sample (or a recorded timeout) for each one before the
// first client query arrives.
func (r *Resolver) warmRTT() {
	for _, s := range r.roots {
		go func(s RootServer) {
			addr := net.JoinHostPort(s.IP.String(), "53")
			ctx, cancel := context.WithTimeout(context.Background(), rootWarmupTimeout)
			defer cancel()
			start := time.Now()
			if _, err := r.queryOne(ctx, addr, ".", uint16(dns.TypeNS)); err != nil {
				r.rtt.RecordTimeout(addr)
				return
			}
			r.rtt.RecordSample(addr, time.Since(start))
		}(s)
	}
}

// Resolve iteratively resolves qname/qtype, returning the final response
// packet from the server that produced an Answer, NXDOMAIN or NODATA result.
func (r *Resolver) Resolve(ctx context.Context, qname string, qtype uint16) (*dns.Packet, ResponseKind, error) {
	qname = dns.NormalizeName(qname)
	now := time.Now()

	deleg, ok := r.delegation.Lookup(qname, now)
	if !ok {
		return nil, KindError, fmt.Errorf("recursive: no delegation available (not even root)")
	}
	servers := r.selectByRTTBand(deleg.Addresses(), maxInitialFrontier)

	for depth := 0; depth < r.cfg.MaxDepth; depth++ {
		if len(servers) == 0 {
			return nil, KindError, fmt.Errorf("recursive: no reachable nameservers at depth %d", depth)
		}
		nominal := r.nominalTimeout(depth)

		resp, kind, _, err := r.raceServers(ctx, servers, qname, qtype, nominal)
		if err != nil {
			return nil, KindError, fmt.Errorf("recursive: depth %d: %w", depth, err)
		}

		switch kind {
		case KindAnswer, KindNXDOMAIN, KindNODATA:
			return resp, kind, nil
		case KindReferral:
			nsNames, nsAddrs, glueMap := extractReferral(resp)
			zone := closestZoneFromAuthorities(resp)
			if len(nsAddrs) == 0 {
				nsAddrs = r.resolveSiblingNS(ctx, nsNames, depth)
			}
			if len(nsAddrs) == 0 {
				return nil, KindError, fmt.Errorf("recursive: referral with no resolvable nameservers for zone %q", zone)
			}
			r.delegation.Store(zone, nsNames, nsAddrs, glueMap, time.Now(), 0)
			if next, ok := r.delegation.Lookup(zone, time.Now()); ok {
				servers = next.Addresses()
			} else {
				servers = nsAddrs
			}
			continue
		default:
			return nil, KindError, fmt.Errorf("recursive: depth %d: unclassifiable response", depth)
		}
	}
	return nil, KindError, ErrMaxDepth
}

// nominalTimeout is the per-round timeout at depth d: query_timeout_ms
// scaled down as recursion gets deeper, never below 20% of the base value.
func (r *Resolver) nominalTimeout(depth int) time.Duration {
	decay := 1 - 0.1*float64(depth)
	if decay < 0.2 {
		decay = 0.2
	}
	return time.Duration(float64(r.cfg.BaseTimeout) * decay)
}

// effectiveTimeout is the adaptive per-server timeout: the nominal round
// timeout clamped against twice the server's current RTO, with a 500ms
// floor, so a historically fast server is not held open for the full
// nominal window while a historically slow one still gets it. A server with
// no history has the minimum RTO and so gets the 500ms floor.
func (r *Resolver) effectiveTimeout(nominal time.Duration, addr string) time.Duration {
	eff := 2 * r.rtt.RTO(addr)
	if eff < minPerServerTimeout {
		eff = minPerServerTimeout
	}
	if eff > nominal {
		eff = nominal
	}
	return eff
}

// resolveSiblingNS resolves bare NS names (no glue supplied in the referral)
// to addresses, concurrently and bounded to maxSiblingNS names. It uses the
// simplified sibling-A loop, never the main Resolve entry point, so a
// pathological zone cannot chain full resolutions into each other.
func (r *Resolver) resolveSiblingNS(ctx context.Context, nsNames []string, depth int) []net.IP {
	if depth >= r.cfg.MaxDepth-1 {
		return nil
	}
	if len(nsNames) > maxSiblingNS {
		nsNames = nsNames[:maxSiblingNS]
	}

	var mu sync.Mutex
	var out []net.IP
	var wg sync.WaitGroup
	for _, name := range nsNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ips := r.resolveSiblingA(ctx, name, depth+1)
			if len(ips) == 0 {
				return
			}
			mu.Lock()
			out = append(out, ips...)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

// resolveSiblingA is a simplified iterative resolve loop for the A records
// of a single NS name. It uses the same delegation cache and RTT-band
// selection as the main loop and is bounded by the same max_depth, but it
// never recurses back into Resolve or into itself for missing glue — a
// referral with no usable addresses is a dead end here, not a trigger for
// further sibling resolution.
func (r *Resolver) resolveSiblingA(ctx context.Context, qname string, startDepth int) []net.IP {
	qname = dns.NormalizeName(qname)
	deleg, ok := r.delegation.Lookup(qname, time.Now())
	if !ok {
		return nil
	}
	servers := r.selectByRTTBand(deleg.Addresses(), maxInitialFrontier)

	for depth := startDepth; depth < r.cfg.MaxDepth; depth++ {
		if len(servers) == 0 {
			return nil
		}
		nominal := r.nominalTimeout(depth)
		resp, kind, _, err := r.raceServers(ctx, servers, qname, uint16(dns.TypeA), nominal)
		if err != nil {
			return nil
		}
		switch kind {
		case KindAnswer:
			var out []net.IP
			for _, rr := range resp.Answers {
				if ip, ok := rr.(*dns.IPRecord); ok {
					out = append(out, ip.Addr)
				}
			}
			return out
		case KindReferral:
			nsNames, nsAddrs, glueMap := extractReferral(resp)
			zone := closestZoneFromAuthorities(resp)
			if len(nsAddrs) == 0 {
				return nil
			}
			r.delegation.Store(zone, nsNames, nsAddrs, glueMap, time.Now(), 0)
			if next, ok := r.delegation.Lookup(zone, time.Now()); ok {
				servers = next.Addresses()
			} else {
				servers = nsAddrs
			}
			continue
		default:
			return nil
		}
	}
	return nil
}

// raceServers determines this round's branch count, picks that many
// candidates from servers using RTT-band selection, queries them
// concurrently with adaptive per-server timeouts, and returns the first
// useful (non-Error) classified result.
func (r *Resolver) raceServers(ctx context.Context, servers []net.IP, qname string, qtype uint16, nominal time.Duration) (*dns.Packet, ResponseKind, string, error) {
	candidates := r.selectByRTTBand(servers, r.branchesFor(servers))

	type result struct {
		resp *dns.Packet
		kind ResponseKind
		from string
		err  error
	}
	out := make(chan result, len(candidates))
	outerCtx, cancel := context.WithTimeout(ctx, nominal)
	defer cancel()

	for _, ip := range candidates {
		addr := net.JoinHostPort(ip.String(), "53")
		effective := r.effectiveTimeout(nominal, addr)
		go func(addr string, effective time.Duration) {
			qctx, cancel := context.WithTimeout(outerCtx, effective)
			defer cancel()
			start := time.Now()
			resp, err := r.queryOne(qctx, addr, qname, qtype)
			if err != nil {
				r.rtt.RecordTimeout(addr)
				out <- result{err: err, from: addr}
				return
			}
			r.rtt.RecordSample(addr, time.Since(start))
			kind := classify(resp, qname, qtype)
			out <- result{resp: resp, kind: kind, from: addr}
		}(addr, effective)
	}

	var lastErr error
	for i := 0; i < len(candidates); i++ {
		select {
		case res := <-out:
			if res.err != nil {
				lastErr = res.err
				continue
			}
			if res.kind != KindError {
				return res.resp, res.kind, res.from, nil
			}
		case <-outerCtx.Done():
			return nil, KindError, "", fmt.Errorf("timed out waiting for %d candidate servers: %w", len(candidates), outerCtx.Err())
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate server produced a usable response")
	}
	return nil, KindError, "", lastErr
}

// branchesFor picks how many servers to race this round: 2 (redundancy
// only) if the best known score among servers is already fast, else the
// configured parallel_branches.
func (r *Resolver) branchesFor(servers []net.IP) int {
	best := math.MaxFloat64
	for _, ip := range servers {
		addr := net.JoinHostPort(ip.String(), "53")
		if s := r.rtt.Score(addr); s < best {
			best = s
		}
	}
	if best < fastServerThresholdMs {
		return 2
	}
	if r.cfg.ParallelRace > 0 {
		return r.cfg.ParallelRace
	}
	return DefaultConfig().ParallelRace
}

// selectByRTTBand picks up to n servers from candidates, restricted to a
// "band" of the fastest-scoring servers: band width is 200ms if the best
// score is under 100ms, else 400ms. Within the band, selection is a CSPRNG
// shuffle truncated to n, to spread load across comparably-fast servers
// instead of always hammering the single best one.
func (r *Resolver) selectByRTTBand(servers []net.IP, n int) []net.IP {
	if len(servers) == 0 {
		return servers
	}
	type scored struct {
		ip    net.IP
		score float64
	}
	scoredServers := make([]scored, 0, len(servers))
	for _, ip := range servers {
		addr := net.JoinHostPort(ip.String(), "53")
		scoredServers = append(scoredServers, scored{ip: ip, score: r.rtt.Score(addr)})
	}
	sort.Slice(scoredServers, func(i, j int) bool { return scoredServers[i].score < scoredServers[j].score })

	bandWidth := 400.0
	if scoredServers[0].score < 100 {
		bandWidth = 200.0
	}
	cutoff := scoredServers[0].score + bandWidth

	var band []net.IP
	for _, s := range scoredServers {
		if s.score > cutoff {
			break
		}
		band = append(band, s.ip)
	}
	cryptoShuffle(band)
	if len(band) > n {
		band = band[:n]
	}
	return band
}

func cryptoShuffle(ips []net.IP) {
	for i := len(ips) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		ips[i], ips[j] = ips[j], ips[i]
	}
}

func (r *Resolver) queryOne(ctx context.Context, addr string, qname string, qtype uint16) (*dns.Packet, error) {
	conn, err := r.pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire socket: %w", err)
	}
	defer r.pool.Release(conn)

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	txID, err := sockpool.NewTransactionID()
	if err != nil {
		return nil, err
	}
	query := &dns.Packet{
		Header:    dns.Header{ID: txID, Flags: 0},
		Questions: []dns.Question{{Name: qname, Type: qtype, Class: uint16(dns.ClassIN)}},
	}
	raw, err := query.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.WriteToUDP(raw, raddr); err != nil {
		return nil, fmt.Errorf("write to %s: %w", addr, err)
	}

	timeout := time.Until(deadlineOr(ctx, time.Now().Add(2*time.Second)))
	respBytes, err := sockpool.ReadMatching(conn, txID, timeout)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", addr, err)
	}
	return dns.ParsePacket(respBytes)
}

func deadlineOr(ctx context.Context, fallback time.Time) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return fallback
}

// classify determines the ResponseKind of resp with respect to the question
// that was asked.
func classify(resp *dns.Packet, qname string, qtype uint16) ResponseKind {
	rcode := dns.RCodeFromFlags(resp.Header.Flags)
	if rcode == dns.RCodeNameError {
		return KindNXDOMAIN
	}
	if rcode != dns.RCodeSuccess {
		return KindError
	}
	if len(resp.Answers) > 0 {
		for _, rr := range resp.Answers {
			if uint16(rr.Type()) == qtype {
				return KindAnswer
			}
		}
		// CNAME chain without the final type is still a usable answer; it is
		// returned as-is and the chain is not followed.
		return KindAnswer
	}
	for _, rr := range resp.Authorities {
		if rr.Type() == dns.TypeSOA {
			return KindNODATA
		}
	}
	if nsNames, _, _ := extractReferral(resp); len(nsNames) > 0 {
		return KindReferral
	}
	return KindError
}

// extractReferral pulls NS names from the authority section, the subset of
// additional-section glue whose owner name matches an NS name (nsAddrs), and
// a glue map of every Type A record in the additional section regardless of
// owner, keyed by owner name.
func extractReferral(resp *dns.Packet) (nsNames []string, nsAddrs []net.IP, glueMap map[string][]net.IP) {
	nsSet := make(map[string]bool)
	for _, rr := range resp.Authorities {
		if ns, ok := rr.(*dns.NameRecord); ok && ns.Type() == dns.TypeNS {
			nsNames = append(nsNames, ns.Target)
			nsSet[ns.Target] = true
		}
	}
	glueMap = make(map[string][]net.IP)
	for _, rr := range resp.Additionals {
		ip, ok := rr.(*dns.IPRecord)
		if !ok || ip.Type() != dns.TypeA {
			continue
		}
		owner := ip.Header().Name
		glueMap[owner] = append(glueMap[owner], ip.Addr)
		if nsSet[owner] {
			nsAddrs = append(nsAddrs, ip.Addr)
		}
	}
	return nsNames, nsAddrs, glueMap
}

func closestZoneFromAuthorities(resp *dns.Packet) string {
	for _, rr := range resp.Authorities {
		if rr.Type() == dns.TypeNS {
			return rr.Header().Name
		}
	}
	return ""
}

// Close releases resolver resources.
func (r *Resolver) Close() {
	r.pool.Close()
}
