package delegation

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := New()
	_, ok := c.Lookup("www.example.com", time.Now())
	assert.False(t, ok)
}

func TestStoreThenLookupExactZone(t *testing.T) {
	c := New()
	now := time.Now()
	c.Store("example.com", []string{"ns1.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, nil, now, 0)

	e, ok := c.Lookup("example.com", now)
	require.True(t, ok)
	assert.Equal(t, "example.com", e.Zone)
}

func TestLookupClosestMatchWalksUpward(t *testing.T) {
	c := New()
	now := time.Now()
	c.Store("example.com", []string{"ns1.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, nil, now, 0)

	e, ok := c.Lookup("deep.www.example.com", now)
	require.True(t, ok)
	assert.Equal(t, "example.com", e.Zone)
}

func TestStoreUnconditionallyOverwritesSameZone(t *testing.T) {
	c := New()
	now := time.Now()
	c.Store("example.com", []string{"ns1.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, nil, now, time.Hour)
	c.Store("example.com", []string{"ns2.example.com"}, []net.IP{net.ParseIP("2.2.2.2")}, nil, now, time.Hour)

	e, ok := c.Lookup("example.com", now)
	require.True(t, ok)
	assert.Len(t, e.NSAddrs, 1)
	assert.Equal(t, "2.2.2.2", e.NSAddrs[0].String())
	assert.Equal(t, []string{"ns2.example.com"}, e.NSNames)
}

func TestAddressesUnionsNSAddrsAndGlueMap(t *testing.T) {
	c := New()
	now := time.Now()
	glue := map[string][]net.IP{
		"ns2.example.com": {net.ParseIP("3.3.3.3")},
	}
	c.Store("example.com", []string{"ns1.example.com", "ns2.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, glue, now, time.Hour)

	e, ok := c.Lookup("example.com", now)
	require.True(t, ok)
	addrs := e.Addresses()
	require.Len(t, addrs, 2)
	assert.Equal(t, "1.1.1.1", addrs[0].String())
	assert.Equal(t, "3.3.3.3", addrs[1].String())
}

func TestAddressesDeduplicates(t *testing.T) {
	c := New()
	now := time.Now()
	glue := map[string][]net.IP{
		"ns1.example.com": {net.ParseIP("1.1.1.1")},
	}
	c.Store("example.com", []string{"ns1.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, glue, now, time.Hour)

	e, ok := c.Lookup("example.com", now)
	require.True(t, ok)
	assert.Len(t, e.Addresses(), 1)
}

func TestLookupExpiresStaleEntry(t *testing.T) {
	c := New()
	now := time.Now()
	c.Store("example.com", []string{"ns1.example.com"}, []net.IP{net.ParseIP("1.1.1.1")}, nil, now, 1*time.Second)

	_, ok := c.Lookup("example.com", now.Add(1*time.Hour))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLookupFallsBackToRoot(t *testing.T) {
	c := New()
	now := time.Now()
	c.Store("", []string{"a.root-servers.net"}, []net.IP{net.ParseIP("198.41.0.4")}, nil, now, 0)

	e, ok := c.Lookup("example.com", now)
	require.True(t, ok)
	assert.Equal(t, "", e.Zone)
}
