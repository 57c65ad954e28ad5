package negcache

import (
	"testing"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMissWhenAbsent(t *testing.T) {
	c := New()
	_, ok := c.Check(Key{QName: "example.com", Kind: KindNXDOMAIN}, time.Now())
	assert.False(t, ok)
}

func TestInsertThenCheck(t *testing.T) {
	c := New()
	now := time.Now()
	key := Key{QName: "example.com", Kind: KindNXDOMAIN}
	c.Insert(key, 300, []byte("nxdomain-response"), now)

	e, ok := c.Check(key, now.Add(1*time.Second))
	require.True(t, ok)
	assert.False(t, e.Speculative)
	assert.Equal(t, []byte("nxdomain-response"), e.Response)
}

func TestCheckExpiresLazily(t *testing.T) {
	c := New()
	now := time.Now()
	key := Key{QName: "example.com", Kind: KindNXDOMAIN}
	c.Insert(key, 10, []byte("nxdomain-response"), now)

	_, ok := c.Check(key, now.Add(1*time.Hour))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestInsertSpeculativeDoesNotOverwriteAuthoritative(t *testing.T) {
	c := New()
	now := time.Now()
	key := Key{QName: "example.com", Kind: KindNXDOMAIN}
	c.Insert(key, 300, []byte("nxdomain-response"), now)

	c.InsertSpeculative(key, 30, []byte("speculative-response"), now)

	e, ok := c.Check(key, now.Add(1*time.Second))
	require.True(t, ok)
	assert.False(t, e.Speculative)
}

func TestInsertSpeculativeCapsAtMaxTTL(t *testing.T) {
	c := New()
	now := time.Now()
	key := Key{QName: "typo.example.com", Kind: KindNXDOMAIN}
	c.InsertSpeculative(key, 3600, []byte("speculative-response"), now)

	e, ok := c.Check(key, now)
	require.True(t, ok)
	assert.LessOrEqual(t, e.TTL, uint32(speculativeTTLCap))
}

func TestExtractNegTTLTakesMinimum(t *testing.T) {
	soa := &dns.SOARecord{H: dns.RRHeader{TTL: 3600}, Minimum: 300}
	assert.Equal(t, uint32(300), ExtractNegTTL(soa))

	soa2 := &dns.SOARecord{H: dns.RRHeader{TTL: 100}, Minimum: 300}
	assert.Equal(t, uint32(100), ExtractNegTTL(soa2))
}

func TestExtractNegTTLNilSOA(t *testing.T) {
	assert.Equal(t, uint32(0), ExtractNegTTL(nil))
}

func TestGenerateTypoVariantsCapped(t *testing.T) {
	variants := GenerateTypoVariants("abcdefghijklmnop.example.com")
	assert.LessOrEqual(t, len(variants), maxTypoVariants)
	for _, v := range variants {
		assert.Contains(t, v, ".example.com")
	}
}

func TestGenerateTypoVariantsShortLabel(t *testing.T) {
	variants := GenerateTypoVariants("ab.com")
	assert.NotEmpty(t, variants)
}

func TestGenerateTypoVariantsEmptyName(t *testing.T) {
	variants := GenerateTypoVariants("")
	assert.Nil(t, variants)
}
