package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFinalFloorsAtMinimum(t *testing.T) {
	cfg := DefaultConfig()
	// base 40 + 12*1 = 52, below the 60 floor
	got := cfg.Final(40.00, 1.0, 1.0)
	assert.Equal(t, 60.00, got)
}

func TestFinalAppliesSurgeOnce(t *testing.T) {
	cfg := DefaultConfig()
	// (40 + 12*5) * 2.0
	got := cfg.Final(40.00, 5.0, 2.0)
	assert.Equal(t, 200.00, got)
}

func TestFinalSurgeThenFloor(t *testing.T) {
	cfg := DefaultConfig()
	// (40 + 12*1) * 1.1 = 57.2, still under the floor
	assert.Equal(t, 60.00, cfg.Final(40.00, 1.0, 1.1))
	// (40 + 12*1) * 1.2 = 62.4, clears the floor
	assert.Equal(t, 62.40, cfg.Final(40.00, 1.0, 1.2))
}

func TestEstimate(t *testing.T) {
	cfg := DefaultConfig()
	// 40 + 12*5 + 1.5*15 = 122.5
	assert.Equal(t, 122.50, cfg.Estimate(5.0, 15.0))
	// short hop hits the minimum
	assert.Equal(t, 60.00, cfg.Estimate(0.5, 2.0))
}
