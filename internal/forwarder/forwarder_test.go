package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a minimal UDP echo-style DNS stub used to exercise Forward
// without a real network dependency.
func fakeUpstream(t *testing.T, respond func(query []byte) []byte) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			resp := respond(buf[:n])
			if resp != nil {
				_, _ = conn.WriteToUDP(resp, raddr)
			}
		}
	}()
	return conn.LocalAddr().String()
}

func TestForwardReturnsFirstSuccess(t *testing.T) {
	addr := fakeUpstream(t, func(q []byte) []byte {
		return append([]byte{}, q...)
	})

	f := New([]string{addr}, DefaultConfig())
	defer f.Close()

	resp, from, err := f.Forward(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, addr, from)
	assert.Equal(t, []byte{1, 2, 3}, resp)
}

func TestForwardAllUpstreamsFailReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	f := New([]string{"127.0.0.1:1"}, cfg)
	defer f.Close()

	_, _, err := f.Forward(context.Background(), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTrustScoreHigherForMoreSuccesses(t *testing.T) {
	u := &upstream{addr: "a"}
	u.recordSuccess(10 * time.Millisecond)
	u.recordSuccess(10 * time.Millisecond)
	highScore := u.trustScore()

	v := &upstream{addr: "b"}
	v.recordSuccess(10 * time.Millisecond)
	v.recordFailure()
	lowScore := v.trustScore()

	assert.Greater(t, highScore, lowScore)
}

func TestCandidatesReenableWhenAllDisabled(t *testing.T) {
	f := New([]string{"127.0.0.1:9999"}, DefaultConfig())
	defer f.Close()
	f.upstreams[0].disabled = true

	got := f.candidates()
	require.Len(t, got, 1)
	assert.False(t, got[0].disabled)
}

func TestRecalculateTrustDisablesFailingUpstream(t *testing.T) {
	f := New([]string{"a", "b"}, DefaultConfig())
	defer f.Close()

	failing := f.upstreams[0]
	for i := 0; i < 9; i++ {
		failing.recordFailure()
	}
	failing.recordSuccess(10 * time.Millisecond)

	healthy := f.upstreams[1]
	for i := 0; i < 10; i++ {
		healthy.recordSuccess(10 * time.Millisecond)
	}

	f.RecalculateTrust()

	assert.True(t, failing.disabled, "a 10%% success-rate upstream must be disabled once it has enough samples")
	assert.False(t, healthy.disabled)
}

func TestRecalculateTrustIgnoresUpstreamsBelowSampleFloor(t *testing.T) {
	f := New([]string{"a"}, DefaultConfig())
	defer f.Close()

	u := f.upstreams[0]
	u.recordFailure()
	u.recordFailure()

	f.RecalculateTrust()

	assert.False(t, u.disabled, "too few queries to trust the score yet")
}

func TestForwardRacesAllEnabledUpstreams(t *testing.T) {
	f := New([]string{"a", "b", "c"}, DefaultConfig())
	defer f.Close()

	got := f.candidates()
	assert.Len(t, got, 3, "Forward must race every enabled upstream, not a ranked subset")
}
