package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{ID: 0x1234, Flags: RDFlag, QDCount: 1}
	raw := h.Marshal()
	require.Len(t, raw, HeaderSize)

	got, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHeaderShortMessage(t *testing.T) {
	_, err := ParseHeader([]byte{0, 1})
	assert.Error(t, err)
}

func TestRCodeFromFlags(t *testing.T) {
	flags := SetRCode(QRFlag, RCodeNameError)
	assert.Equal(t, RCodeNameError, RCodeFromFlags(flags))
}

func TestBuildResponseFlagsPreservesRD(t *testing.T) {
	flags := buildResponseFlags(RDFlag, RCodeSuccess, false)
	assert.NotZero(t, flags&QRFlag)
	assert.NotZero(t, flags&RAFlag)
	assert.NotZero(t, flags&RDFlag)
	assert.Equal(t, RCodeSuccess, RCodeFromFlags(flags))
}
