// Package rttcache maintains a Jacobson/Karels RTT estimate per authority
// (nameserver) IP address, and scores servers for selection during recursive
// resolution.
package rttcache

import (
	"sync"
	"time"
)

const (
	alpha = 0.125 // SRTT gain
	beta  = 0.25  // RTTVAR gain

	minRTO = 50 * time.Millisecond
	maxRTO = 120 * time.Second

	// unknownServerScoreMs is the niceness constant given to a server with no
	// prior RTT history, giving it a chance without assuming it is fast.
	unknownServerScoreMs = 376.0

	// timeoutPenaltyThreshold is the number of consecutive timeouts after
	// which a server's score is pushed to the back of the selection order.
	timeoutPenaltyThreshold = 3
	timeoutPenaltyBaseMs    = 10000.0
)

// estimate holds the Jacobson/Karels state for one server.
type estimate struct {
	srtt         time.Duration
	rttvar       time.Duration
	rto          time.Duration
	timeoutCount int
}

// Cache tracks RTT estimates keyed by server IP (or IP:port) string.
type Cache struct {
	mu      sync.Mutex
	servers map[string]*estimate
}

// New constructs an empty RTT cache.
func New() *Cache {
	return &Cache{servers: make(map[string]*estimate)}
}

// RecordSample updates the estimate for server with an observed round-trip
// sample, per the Jacobson/Karels algorithm (RFC 6298 mechanics), and clears
// its consecutive timeout count.
func (c *Cache) RecordSample(server string, rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.servers[server]
	if !ok {
		e = &estimate{
			srtt:   rtt,
			rttvar: rtt / 2,
		}
		e.rto = clampRTO(e.srtt + 4*e.rttvar)
		c.servers[server] = e
		return
	}

	delta := rtt - e.srtt
	if delta < 0 {
		delta = -delta
	}
	e.rttvar = e.rttvar + time.Duration(beta*(float64(delta)-float64(e.rttvar)))
	e.srtt = e.srtt + time.Duration(alpha*float64(rtt-e.srtt))
	e.rto = clampRTO(e.srtt + 4*e.rttvar)
	e.timeoutCount = 0
}

// RecordTimeout marks a query to server as having timed out, backing off its
// RTO and incrementing its consecutive timeout count.
func (c *Cache) RecordTimeout(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.servers[server]
	if !ok {
		e = &estimate{rto: minRTO}
		c.servers[server] = e
	}
	e.timeoutCount++
	e.rto = clampRTO(e.rto * 2)
}

func clampRTO(d time.Duration) time.Duration {
	if d < minRTO {
		return minRTO
	}
	if d > maxRTO {
		return maxRTO
	}
	return d
}

// Score returns a selection score in milliseconds for server: lower is
// better. A server with no history gets the unknown-server niceness
// constant. A server with timeoutPenaltyThreshold or more consecutive
// timeouts is scored far worse than any healthy server but still orderable
// against other struggling servers. Otherwise the score is srtt + 4*rttvar.
func (c *Cache) Score(server string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.servers[server]
	if !ok {
		return unknownServerScoreMs
	}
	if e.timeoutCount >= timeoutPenaltyThreshold {
		return timeoutPenaltyBaseMs + float64(e.rto.Milliseconds())
	}
	return float64(e.srtt.Milliseconds()) + 4*float64(e.rttvar.Milliseconds())
}

// RTO returns the current retransmission timeout for server, or a default
// minRTO-based value if no history is present.
func (c *Cache) RTO(server string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.servers[server]
	if !ok {
		return minRTO
	}
	return e.rto
}
