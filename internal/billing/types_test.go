package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierPro, ParseTier(" PRO "))
	assert.Equal(t, TierWhale, ParseTier("whale"))
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierFree, ParseTier("platinum"))
}

func TestDefaultDailyTrades(t *testing.T) {
	tests := map[string]int{
		"free":    3,
		"trader":  5,
		"pro":     8,
		"whale":   10,
		"unknown": 3,
	}
	for tier, want := range tests {
		t.Run(tier, func(t *testing.T) {
			got := DefaultDailyTrades(tier)
			assert.Equal(t, want, got)
			assert.GreaterOrEqual(t, got, 1)
			assert.LessOrEqual(t, got, 10)
		})
	}
}

func TestHistoryAllowed(t *testing.T) {
	assert.True(t, HistoryAllowed(TierFree, 0))
	assert.True(t, HistoryAllowed(TierFree, 30))
	assert.False(t, HistoryAllowed(TierFree, 31))
	assert.True(t, HistoryAllowed(TierPro, 365))
	assert.True(t, HistoryAllowed(TierWhale, 5000))
}
