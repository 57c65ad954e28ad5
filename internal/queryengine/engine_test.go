package queryengine

import (
	"net"
	"testing"
	"time"

	"github.com/jroosing/hydradns/internal/answercache"
	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/negcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEngine() *Engine {
	return New(Config{}, answercache.New(answercache.DefaultConfig()), negcache.New(), nil, nil, nil)
}

func buildQuery(name string, qtype uint16) []byte {
	p := &dns.Packet{
		Header:    dns.Header{ID: 55, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: name, Type: qtype, Class: uint16(dns.ClassIN)}},
	}
	raw, _ := p.Marshal()
	return raw
}

func TestHandleMalformedRequestReturnsFormatError(t *testing.T) {
	e := buildEngine()
	resp := e.Handle(t.Context(), []byte{1, 2, 3})
	parsed, err := dns.ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeFormatError, dns.RCodeFromFlags(parsed.Header.Flags))
}

func TestHandleNoResolverReturnsServFail(t *testing.T) {
	e := buildEngine()
	raw := buildQuery("example.com", uint16(dns.TypeA))
	resp := e.Handle(t.Context(), raw)
	parsed, err := dns.ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeServerFailure, dns.RCodeFromFlags(parsed.Header.Flags))
}

func TestHandleServesFromNegativeCache(t *testing.T) {
	e := buildEngine()
	now := time.Now()

	nxPacket := &dns.Packet{
		Header:    dns.Header{ID: 1, Flags: dns.SetRCode(dns.QRFlag, dns.RCodeNameError)},
		Questions: []dns.Question{{Name: "nope.example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}},
		Authorities: []dns.Record{
			&dns.SOARecord{H: dns.RRHeader{Name: "example.com", Type: dns.TypeSOA, Class: dns.ClassIN, TTL: 3600}, Minimum: 300},
		},
	}
	raw, err := nxPacket.Marshal()
	require.NoError(t, err)
	e.negatives.Insert(negcache.Key{QName: "nope.example.com", QType: uint16(dns.TypeA), QClass: uint16(dns.ClassIN), Kind: negcache.KindNXDOMAIN}, 300, raw, now)

	resp := e.Handle(t.Context(), buildQuery("nope.example.com", uint16(dns.TypeA)))
	parsed, err := dns.ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeNameError, dns.RCodeFromFlags(parsed.Header.Flags))
	assert.Equal(t, uint16(55), parsed.Header.ID)
	require.Len(t, parsed.Authorities, 1)
}

func TestHandleServesFromAnswerCache(t *testing.T) {
	e := buildEngine()
	now := time.Now()

	cachedResp := &dns.Packet{
		Header:    dns.Header{ID: 1, Flags: dns.SetRCode(dns.QRFlag, dns.RCodeSuccess)},
		Questions: []dns.Question{{Name: "example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}},
		Answers: []dns.Record{
			dns.NewIPRecord(dns.RRHeader{Name: "example.com", Type: dns.TypeA, Class: dns.ClassIN, TTL: 300}, net.ParseIP("1.2.3.4")),
		},
	}
	raw, err := cachedResp.Marshal()
	require.NoError(t, err)
	e.answers.Insert(answercache.Key{QName: "example.com", QType: uint16(dns.TypeA), QClass: uint16(dns.ClassIN)}, raw, "h1", 300, "recursive", now)

	resp := e.Handle(t.Context(), buildQuery("example.com", uint16(dns.TypeA)))
	parsed, err := dns.ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(55), parsed.Header.ID)
	require.Len(t, parsed.Answers, 1)
}

func TestStoreNegativeSkipsSpeculationWhenDisabled(t *testing.T) {
	e := buildEngine()
	now := time.Now()

	nxPacket := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeNameError)},
		Authorities: []dns.Record{
			&dns.SOARecord{H: dns.RRHeader{Name: "example.com", Type: dns.TypeSOA, Class: dns.ClassIN, TTL: 3600}, Minimum: 300},
		},
	}
	e.storeNegative(dns.Question{Name: "exmaple.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}, nxPacket, negcache.KindNXDOMAIN, now)

	for _, variant := range negcache.GenerateTypoVariants("exmaple.com") {
		_, ok := e.negatives.Check(negcache.Key{QName: variant, QType: uint16(dns.TypeA), QClass: uint16(dns.ClassIN), Kind: negcache.KindNXDOMAIN}, now)
		assert.False(t, ok, "speculative entries must not appear when NegativeSpeculative is false")
	}
}

func TestStoreNegativeSpeculatesOnlyForNXDOMAIN(t *testing.T) {
	e := New(Config{NegativeSpeculative: true}, answercache.New(answercache.DefaultConfig()), negcache.New(), nil, nil, nil)
	now := time.Now()

	nodataPacket := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeSuccess)},
		Authorities: []dns.Record{
			&dns.SOARecord{H: dns.RRHeader{Name: "example.com", Type: dns.TypeSOA, Class: dns.ClassIN, TTL: 3600}, Minimum: 300},
		},
	}
	e.storeNegative(dns.Question{Name: "exmaple.com", Type: uint16(dns.TypeMX), Class: uint16(dns.ClassIN)}, nodataPacket, negcache.KindNODATA, now)

	for _, variant := range negcache.GenerateTypoVariants("exmaple.com") {
		_, ok := e.negatives.Check(negcache.Key{QName: variant, QType: uint16(dns.TypeMX), QClass: uint16(dns.ClassIN), Kind: negcache.KindNXDOMAIN}, now)
		assert.False(t, ok, "NODATA must never seed speculative NXDOMAIN entries")
	}

	nxPacket := &dns.Packet{
		Header: dns.Header{Flags: dns.SetRCode(dns.QRFlag, dns.RCodeNameError)},
		Authorities: []dns.Record{
			&dns.SOARecord{H: dns.RRHeader{Name: "example.com", Type: dns.TypeSOA, Class: dns.ClassIN, TTL: 3600}, Minimum: 300},
		},
	}
	e.storeNegative(dns.Question{Name: "exmaple.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}, nxPacket, negcache.KindNXDOMAIN, now)

	variants := negcache.GenerateTypoVariants("exmaple.com")
	require.NotEmpty(t, variants)
	_, ok := e.negatives.Check(negcache.Key{QName: variants[0], QType: uint16(dns.TypeA), QClass: uint16(dns.ClassIN), Kind: negcache.KindNXDOMAIN}, now)
	assert.True(t, ok, "NXDOMAIN with speculation enabled must seed typo variants")
}

func TestHasDNSSuffix(t *testing.T) {
	assert.True(t, hasDNSSuffix("www.corp.internal", "corp.internal"))
	assert.False(t, hasDNSSuffix("notcorp.internal", "corp.internal"))
	assert.False(t, hasDNSSuffix("corp.internal", "corp.internal"))
}
