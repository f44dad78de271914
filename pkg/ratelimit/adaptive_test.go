package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sumitnemade/ragify-go/pkg/config"
)

func adaptiveConfig() config.AdaptiveTimeoutConfig {
	return config.AdaptiveTimeoutConfig{
		BaseTimeout:             30 * time.Second,
		MinTimeout:              5 * time.Second,
		MaxTimeout:              120 * time.Second,
		SlowNetworkMultiplier:   2.0,
		FastNetworkMultiplier:   0.8,
		NetworkQualityThreshold: time.Second,
		Enabled:                 true,
	}
}

func TestSlowNetworkScalesUp(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())
	assert.Equal(t, 60*time.Second, a.CalculateTimeout(1500*time.Millisecond))
}

func TestFastNetworkScalesDown(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())
	assert.Equal(t, 24*time.Second, a.CalculateTimeout(400*time.Millisecond))
}

func TestMidRangeLatencyKeepsBase(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())
	// Between threshold/2 and threshold: no scaling.
	assert.Equal(t, 30*time.Second, a.CalculateTimeout(700*time.Millisecond))
}

func TestNoObservationReturnsBaseExactly(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())
	assert.Equal(t, 30*time.Second, a.CalculateTimeout(0))
}

func TestDisabledReturnsBaseExactly(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.Enabled = false
	a := NewAdaptiveTimeout(cfg)
	assert.Equal(t, 30*time.Second, a.CalculateTimeout(10*time.Second))
}

func TestClampToMaxTimeout(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.MaxTimeout = 45 * time.Second
	a := NewAdaptiveTimeout(cfg)
	assert.Equal(t, 45*time.Second, a.CalculateTimeout(2*time.Second))
}

func TestClampToMinTimeout(t *testing.T) {
	cfg := adaptiveConfig()
	cfg.FastNetworkMultiplier = 0.01
	a := NewAdaptiveTimeout(cfg)
	assert.Equal(t, 5*time.Second, a.CalculateTimeout(100*time.Millisecond))
}

func TestPerCallNotCumulative(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())

	// A slow observation followed by a fast one: the fast call gets the
	// fast timeout, unaffected by the earlier slow response.
	a.Observe(5 * time.Second)
	assert.Equal(t, 60*time.Second, a.Timeout())

	a.Observe(100 * time.Millisecond)
	assert.Equal(t, 24*time.Second, a.Timeout())
}

func TestTimeoutWithoutObservation(t *testing.T) {
	a := NewAdaptiveTimeout(adaptiveConfig())
	assert.Equal(t, 30*time.Second, a.Timeout())
}
