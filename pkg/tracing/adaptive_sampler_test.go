package tracing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdaptiveSamplerDisabledNeverSamples(t *testing.T) {
	as := NewAdaptiveSampler(AdaptiveSamplingConfig{Enabled: false}, nil)
	defer as.Stop()

	as.RecordLatency(time.Second)
	require.False(t, as.ShouldSample())
}

func TestAdaptiveSamplerSamplesOnceThresholdCrossed(t *testing.T) {
	as := NewAdaptiveSampler(AdaptiveSamplingConfig{
		Enabled:          true,
		LatencyThreshold: 10 * time.Millisecond,
		SampleRate:       1.0,
		WindowSize:       time.Minute,
	}, nil)
	defer as.Stop()

	as.RecordLatency(50 * time.Millisecond)
	require.True(t, as.ShouldSample())
}

func TestAdaptiveSamplerGetP99WithNoSamplesIsZero(t *testing.T) {
	as := NewAdaptiveSampler(AdaptiveSamplingConfig{Enabled: true}, nil)
	defer as.Stop()

	require.Equal(t, time.Duration(0), as.GetP99())
}
