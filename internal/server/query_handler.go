// Package server implements DNS protocol servers for UDP and TCP.
//
// Goroutine Model:
//
// The server spawns multiple goroutines for handling incoming queries:
//   - UDPServer: 1 receiver + N workers per CPU core
//   - TCPServer: 1 listener per CPU core + 1 handler per active connection
//
// All goroutines are coordinated through a shared context:
//   - Context is cancelled on shutdown signal (SIGINT/SIGTERM)
//   - All goroutines check context regularly and exit cleanly
//   - No long-lived blocking operations without context awareness
//
// Error Handling:
//
// Errors are wrapped with context using fmt.Errorf("...: %w", err) throughout.
// This preserves error chains while adding operational context.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/queryengine"
)

// QueryHandler adapts a queryengine.Engine to the transport servers,
// enforcing a per-query timeout and emitting debug-level request logs.
type QueryHandler struct {
	Logger  *slog.Logger
	Engine  *queryengine.Engine
	Stats   *DNSStats
	Timeout time.Duration
}

// HandleResult contains the outcome of query processing.
type HandleResult struct {
	ResponseBytes []byte
	Parsed        *dns.Packet
	ParsedOK      bool
}

// Handle processes a DNS request and returns a response, enforcing a
// timeout so a stuck resolution cannot pin a worker goroutine forever.
func (h *QueryHandler) Handle(ctx context.Context, transport string, src string, reqBytes []byte) HandleResult {
	start := time.Now()
	if h.Stats != nil {
		h.Stats.RecordQuery(transport)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resCh := make(chan []byte, 1)
	go func() {
		resCh <- h.Engine.Handle(qctx, reqBytes)
	}()

	var resp []byte
	select {
	case <-qctx.Done():
		resp = tryBuildErrorFromRaw(reqBytes, dns.RCodeServerFailure)
	case resp = <-resCh:
	}

	if h.Stats != nil {
		h.Stats.RecordLatency(time.Since(start).Nanoseconds())
	}

	parsed, err := dns.ParsePacket(resp)
	if err != nil {
		h.logRequest(ctx, transport, src, nil, len(reqBytes))
		return HandleResult{ResponseBytes: resp, ParsedOK: false}
	}
	if h.Stats != nil {
		switch dns.RCodeFromFlags(parsed.Header.Flags) {
		case dns.RCodeNameError:
			h.Stats.RecordNXDOMAIN()
		case dns.RCodeSuccess:
		default:
			h.Stats.RecordError()
		}
	}
	h.logRequest(ctx, transport, src, parsed, len(reqBytes))
	return HandleResult{ResponseBytes: resp, Parsed: parsed, ParsedOK: true}
}

func (h *QueryHandler) logRequest(ctx context.Context, transport, src string, parsed *dns.Packet, reqLen int) {
	if h.Logger == nil || !h.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	qname, qtype := "<unparsed>", -1
	if parsed != nil && len(parsed.Questions) > 0 {
		qname = parsed.Questions[0].Name
		qtype = int(parsed.Questions[0].Type)
	}
	h.Logger.DebugContext(ctx, "dns request",
		"transport", transport,
		"src", src,
		"qname", qname,
		"qtype", qtype,
		"bytes", reqLen,
	)
}

// tryBuildErrorFromRaw attempts to construct an error response from raw
// bytes when the engine itself could not finish in time. It extracts the
// transaction ID and, if present, the question so the client can match the
// SERVFAIL to its request.
func tryBuildErrorFromRaw(reqBytes []byte, rcode dns.RCode) []byte {
	hdr, err := dns.ParseHeader(reqBytes)
	if err != nil {
		return dns.BuildErrorResponse(0, nil, 0, rcode)
	}
	var q *dns.Question
	if hdr.QDCount > 0 {
		question, _, err := dns.ParseQuestion(reqBytes, dns.HeaderSize)
		if err == nil {
			q = &question
		}
	}
	return dns.BuildErrorResponse(hdr.ID, q, hdr.Flags, rcode)
}
