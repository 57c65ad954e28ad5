package recursive

import (
	"net"
	"testing"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAnswer(t *testing.T) {
	p := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeSuccess)},
		Answers: []dns.Record{
			dns.NewIPRecord(dns.RRHeader{Name: "example.com", Type: dns.TypeA, Class: dns.ClassIN, TTL: 300}, net.ParseIP("1.2.3.4")),
		},
	}
	assert.Equal(t, KindAnswer, classify(p, "example.com", uint16(dns.TypeA)))
}

func TestClassifyNXDOMAIN(t *testing.T) {
	p := &dns.Packet{Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeNameError)}}
	assert.Equal(t, KindNXDOMAIN, classify(p, "nope.example.com", uint16(dns.TypeA)))
}

func TestClassifyNODATA(t *testing.T) {
	p := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeSuccess)},
		Authorities: []dns.Record{
			&dns.SOARecord{H: dns.RRHeader{Name: "example.com", Type: dns.TypeSOA, Class: dns.ClassIN, TTL: 3600}, Minimum: 300},
		},
	}
	assert.Equal(t, KindNODATA, classify(p, "example.com", uint16(dns.TypeMX)))
}

func TestClassifyReferral(t *testing.T) {
	p := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeSuccess)},
		Authorities: []dns.Record{
			dns.NewNSRecord(dns.RRHeader{Name: "example.com", Type: dns.TypeNS, Class: dns.ClassIN, TTL: 3600}, "ns1.example.com"),
		},
	}
	assert.Equal(t, KindReferral, classify(p, "www.example.com", uint16(dns.TypeA)))
}

func TestExtractReferralPairsGlueWithNSName(t *testing.T) {
	p := &dns.Packet{
		Authorities: []dns.Record{
			dns.NewNSRecord(dns.RRHeader{Name: "example.com", Type: dns.TypeNS, Class: dns.ClassIN, TTL: 3600}, "ns1.example.com"),
		},
		Additionals: []dns.Record{
			dns.NewIPRecord(dns.RRHeader{Name: "ns1.example.com", Type: dns.TypeA, Class: dns.ClassIN, TTL: 3600}, net.ParseIP("5.6.7.8")),
		},
	}
	names, nsAddrs, glueMap := extractReferral(p)
	require.Len(t, names, 1)
	require.Len(t, nsAddrs, 1)
	assert.Equal(t, "ns1.example.com", names[0])
	assert.True(t, nsAddrs[0].Equal(net.ParseIP("5.6.7.8")))
	require.Contains(t, glueMap, "ns1.example.com")
	assert.True(t, glueMap["ns1.example.com"][0].Equal(net.ParseIP("5.6.7.8")))
}

func TestExtractReferralGlueMapIncludesNonNSGlue(t *testing.T) {
	p := &dns.Packet{
		Authorities: []dns.Record{
			dns.NewNSRecord(dns.RRHeader{Name: "example.com", Type: dns.TypeNS, Class: dns.ClassIN, TTL: 3600}, "ns1.example.com"),
		},
		Additionals: []dns.Record{
			dns.NewIPRecord(dns.RRHeader{Name: "ns1.example.com", Type: dns.TypeA, Class: dns.ClassIN, TTL: 3600}, net.ParseIP("5.6.7.8")),
			dns.NewIPRecord(dns.RRHeader{Name: "unrelated.example.com", Type: dns.TypeA, Class: dns.ClassIN, TTL: 3600}, net.ParseIP("9.9.9.9")),
		},
	}
	names, nsAddrs, glueMap := extractReferral(p)
	require.Len(t, names, 1)
	require.Len(t, nsAddrs, 1, "nsAddrs only includes glue matching an NS name")
	require.Contains(t, glueMap, "unrelated.example.com")
	assert.True(t, glueMap["unrelated.example.com"][0].Equal(net.ParseIP("9.9.9.9")))
}

func TestDefaultRootServersNonEmpty(t *testing.T) {
	assert.NotEmpty(t, DefaultRootServers())
}

func TestNewWarmsRootDelegation(t *testing.T) {
	r := New(DefaultRootServers(), DefaultConfig())
	defer r.Close()
	e, ok := r.delegation.Lookup("example.com", time.Now())
	require.True(t, ok)
	assert.Equal(t, "", e.Zone)
	assert.NotEmpty(t, e.NSAddrs)
}
