package ttlalchemy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlchemizeRewardsFrequentHits(t *testing.T) {
	cfg := DefaultConfig()
	base := Alchemize(300, 0, 0, cfg)
	boosted := Alchemize(300, 1000, 0, cfg)
	assert.Greater(t, boosted, base)
}

func TestAlchemizePenalizesVolatility(t *testing.T) {
	cfg := DefaultConfig()
	stable := Alchemize(300, 10, 0, cfg)
	volatile := Alchemize(300, 10, 5, cfg)
	assert.Less(t, volatile, stable)
}

func TestAlchemizeClampsToMinAndMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTTL = 30
	cfg.MaxTTL = 600

	low := Alchemize(1, 0, 100, cfg)
	assert.Equal(t, cfg.MinTTL, low)

	high := Alchemize(86400, 1_000_000, 0, cfg)
	assert.Equal(t, cfg.MaxTTL, high)
}

func TestAlchemizeDisabledIsPlainClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	got := Alchemize(300, 1000, 10, cfg)
	assert.Equal(t, uint32(300), got)
}

func TestAlchemizeZeroValueConfigUsesDefaults(t *testing.T) {
	got := Alchemize(300, 0, 0, Config{})
	assert.GreaterOrEqual(t, got, DefaultConfig().MinTTL)
}
