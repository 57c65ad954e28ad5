package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionRoundTrip(t *testing.T) {
	q := Question{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}
	raw, err := q.Marshal()
	require.NoError(t, err)

	got, next, err := ParseQuestion(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, len(raw), next)
	assert.Equal(t, q, got)
}

func TestParseQuestionLowercasesName(t *testing.T) {
	q := Question{Name: "Example.COM", Type: uint16(TypeA), Class: uint16(ClassIN)}
	raw, err := q.Marshal()
	require.NoError(t, err)

	got, _, err := ParseQuestion(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Name)
}
