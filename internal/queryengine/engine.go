// Package queryengine orchestrates the per-query pipeline: a probabilistic
// chaos gate, EDNS extraction, negative- and positive-cache lookups,
// dispatch to local zones, the recursive resolver or the upstream forwarder,
// cache population, and informational TXT injection.
package queryengine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/jroosing/hydradns/internal/answercache"
	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/forwarder"
	"github.com/jroosing/hydradns/internal/negcache"
	"github.com/jroosing/hydradns/internal/recursive"
)

// LocalZone maps a query name suffix to a fixed upstream address that is
// authoritative for it, bypassing both recursion and the general forwarder.
type LocalZone struct {
	Suffix   string
	Upstream string
}

// Config holds engine-wide tunables.
type Config struct {
	ChaosRate    float64
	InjectTXT    bool
	LocalZones   []LocalZone
	TXTName      string
	RecursionTTL uint32
	// NegativeSpeculative gates speculative typo-variant negative caching
	// (spec's negative.speculative_enabled). When false, storeNegative only
	// records the queried name's own result.
	NegativeSpeculative bool
}

// Engine wires together the caches and resolvers into one query pipeline.
type Engine struct {
	cfg       Config
	answers   *answercache.Cache
	negatives *negcache.Cache
	resolver  *recursive.Resolver
	fwd       *forwarder.Forwarder
	logger    *slog.Logger
}

// New constructs an Engine.
func New(cfg Config, answers *answercache.Cache, negatives *negcache.Cache, resolver *recursive.Resolver, fwd *forwarder.Forwarder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, answers: answers, negatives: negatives, resolver: resolver, fwd: fwd, logger: logger}
}

// Handle runs the full pipeline over a raw incoming request and returns the
// raw response to send back to the client.
func (e *Engine) Handle(ctx context.Context, raw []byte) []byte {
	req, err := dns.ParseRequestBounded(raw)
	if err != nil {
		return buildErrorFromRaw(raw, dns.RCodeFormatError)
	}
	if len(req.Questions) == 0 {
		return dns.BuildErrorResponse(req.Header.ID, nil, req.Header.Flags, dns.RCodeFormatError)
	}
	q := req.Questions[0]

	if e.chaosTriggered() {
		return dns.BuildErrorResponse(req.Header.ID, &q, req.Header.Flags, dns.RCodeServerFailure)
	}

	clientUDPSize := dns.ClientMaxUDPSize(req)
	now := time.Now()

	if resp := e.tryNegativeCache(req, q, now); resp != nil {
		return e.finish(resp, clientUDPSize)
	}

	if resp := e.tryAnswerCache(req, q, now); resp != nil {
		return e.finish(resp, clientUDPSize)
	}

	resp, err := e.resolve(ctx, req, q)
	if err != nil {
		e.logger.Warn("query resolution failed", "name", q.Name, "qtype", q.Type, "err", err)
		return dns.BuildErrorResponse(req.Header.ID, &q, req.Header.Flags, dns.RCodeServerFailure)
	}
	return e.finish(resp, clientUDPSize)
}

func (e *Engine) chaosTriggered() bool {
	if e.cfg.ChaosRate <= 0 {
		return false
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return false
	}
	return float64(n.Int64())/1_000_000 < e.cfg.ChaosRate
}

func (e *Engine) tryNegativeCache(req *dns.Packet, q dns.Question, now time.Time) *dns.Packet {
	key := negcache.Key{QName: q.Name, QType: q.Type, QClass: q.Class, Kind: negcache.KindNXDOMAIN}
	entry, ok := e.negatives.Check(key, now)
	if !ok {
		return nil
	}
	cached, err := dns.ParsePacket(entry.Response)
	if err != nil {
		return nil
	}
	cached.Header.ID = req.Header.ID
	elapsed := now.Sub(entry.StoredAt).Seconds()
	remaining := float64(entry.TTL) - elapsed
	if remaining < 1 {
		remaining = 1
	}
	cached.RewriteTTLs(uint32(remaining))
	return cached
}

func (e *Engine) tryAnswerCache(req *dns.Packet, q dns.Question, now time.Time) *dns.Packet {
	key := answercache.Key{QName: q.Name, QType: q.Type, QClass: q.Class}
	entry, state := e.answers.Get(key, now)
	if state == answercache.Miss {
		return nil
	}
	cached, err := dns.ParsePacket(entry.ResponseBody)
	if err != nil {
		return nil
	}
	cached.Header.ID = req.Header.ID
	ttl := answercache.RemainingTTL(entry, state, now)
	cached.RewriteTTLs(ttl)
	return cached
}

func (e *Engine) resolve(ctx context.Context, req *dns.Packet, q dns.Question) (*dns.Packet, error) {
	if upstream, ok := e.matchLocalZone(q.Name); ok {
		return e.forwardOneShot(ctx, req, upstream)
	}
	if e.resolver != nil {
		resp, kind, err := e.resolver.Resolve(ctx, q.Name, q.Type)
		if err == nil {
			resp.Header.ID = req.Header.ID
			e.populateCaches(q, resp, kind, "recursive")
			return resp, nil
		}
		e.logger.Debug("recursion failed, falling back to forwarder", "name", q.Name, "err", err)
	}
	if e.fwd == nil {
		return nil, fmt.Errorf("queryengine: no resolver or forwarder configured")
	}
	raw, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("queryengine: marshal request: %w", err)
	}
	respBytes, upstream, err := e.fwd.Forward(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("queryengine: forwarder: %w", err)
	}
	resp, err := dns.ParsePacket(respBytes)
	if err != nil {
		return nil, fmt.Errorf("queryengine: parse forwarder response: %w", err)
	}
	e.populateCaches(q, resp, classifyForCache(resp), "forwarder:"+upstream)
	return resp, nil
}

func classifyForCache(resp *dns.Packet) recursive.ResponseKind {
	rcode := dns.RCodeFromFlags(resp.Header.Flags)
	if rcode == dns.RCodeNameError {
		return recursive.KindNXDOMAIN
	}
	if len(resp.Answers) > 0 {
		return recursive.KindAnswer
	}
	return recursive.KindNODATA
}

func (e *Engine) populateCaches(q dns.Question, resp *dns.Packet, kind recursive.ResponseKind, source string) {
	now := time.Now()
	switch kind {
	case recursive.KindAnswer:
		e.storeAnswer(q, resp, source, now)
	case recursive.KindNXDOMAIN:
		e.storeNegative(q, resp, negcache.KindNXDOMAIN, now)
	case recursive.KindNODATA:
		e.storeNegative(q, resp, negcache.KindNODATA, now)
	}
}

func (e *Engine) storeAnswer(q dns.Question, resp *dns.Packet, source string, now time.Time) {
	raw, err := resp.Marshal()
	if err != nil {
		return
	}
	originalTTL := minAnswerTTL(resp)
	key := answercache.Key{QName: q.Name, QType: q.Type, QClass: q.Class}
	e.answers.Insert(key, raw, hashAnswers(resp), originalTTL, source, now)
}

func (e *Engine) storeNegative(q dns.Question, resp *dns.Packet, kind negcache.Kind, now time.Time) {
	soa := negcache.FindSOA(resp)
	ttl := negcache.ExtractNegTTL(soa)
	if ttl == 0 {
		ttl = 60
	}
	raw, err := resp.Marshal()
	if err != nil {
		return
	}
	key := negcache.Key{QName: q.Name, QType: q.Type, QClass: q.Class, Kind: kind}
	e.negatives.Insert(key, ttl, raw, now)

	if !e.cfg.NegativeSpeculative || kind != negcache.KindNXDOMAIN {
		return
	}
	for _, variant := range negcache.GenerateTypoVariants(q.Name) {
		vkey := negcache.Key{QName: variant, QType: q.Type, QClass: q.Class, Kind: negcache.KindNXDOMAIN}
		e.negatives.InsertSpeculative(vkey, ttl, raw, now)
	}
}

func minAnswerTTL(resp *dns.Packet) uint32 {
	var min uint32
	first := true
	for _, rr := range resp.Answers {
		ttl := rr.Header().TTL
		if first || ttl < min {
			min = ttl
			first = false
		}
	}
	if first {
		return 300
	}
	return min
}

func hashAnswers(resp *dns.Packet) string {
	var buf []byte
	for _, rr := range resp.Answers {
		b, err := rr.MarshalRData()
		if err != nil {
			continue
		}
		buf = append(buf, b...)
	}
	sum := fnv64(buf)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, sum)
	return string(out)
}

func fnv64(data []byte) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}

func (e *Engine) matchLocalZone(name string) (string, bool) {
	for _, z := range e.cfg.LocalZones {
		suffix := dns.NormalizeName(z.Suffix)
		if name == suffix || hasDNSSuffix(name, suffix) {
			return z.Upstream, true
		}
	}
	return "", false
}

func hasDNSSuffix(name, suffix string) bool {
	if suffix == "" {
		return false
	}
	if len(name) <= len(suffix) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix && name[len(name)-len(suffix)-1] == '.'
}

func (e *Engine) forwardOneShot(ctx context.Context, req *dns.Packet, upstream string) (*dns.Packet, error) {
	raw, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("queryengine: marshal local-zone request: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", upstream)
	if err != nil {
		return nil, fmt.Errorf("queryengine: resolve local-zone upstream %s: %w", upstream, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("queryengine: dial local-zone upstream %s: %w", upstream, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("queryengine: write local-zone query: %w", err)
	}
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("queryengine: read local-zone response: %w", err)
	}
	return dns.ParsePacket(buf[:n])
}

func (e *Engine) finish(resp *dns.Packet, clientUDPSize uint16) []byte {
	if e.cfg.InjectTXT {
		name := e.cfg.TXTName
		if name == "" {
			name = "resolver.invalid"
		}
		resp.InjectTXT(name, "served-by=hydradns", 0)
	}
	raw, err := resp.Marshal()
	if err != nil {
		return dns.BuildErrorResponse(resp.Header.ID, nil, resp.Header.Flags, dns.RCodeServerFailure)
	}
	return raw
}

func buildErrorFromRaw(raw []byte, rcode dns.RCode) []byte {
	var id uint16
	if len(raw) >= 2 {
		id = binary.BigEndian.Uint16(raw[0:2])
	}
	return dns.BuildErrorResponse(id, nil, 0, rcode)
}
