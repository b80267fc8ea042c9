package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AdaptiveRateLimiter paces OutboundOperation's Send calls with a
// golang.org/x/time/rate token bucket whose rate and burst are retuned
// periodically from observed send latency: latency above target backs the
// rate off, latency comfortably under target lets it climb back, both
// within configured floor/ceiling bounds.
type AdaptiveRateLimiter struct {
	config Config
	logger *logrus.Logger

	limiter        *rate.Limiter
	currentRPS     float64
	currentBurst   int
	latencyHistory *LatencyWindow

	stats Stats
	mutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures an AdaptiveRateLimiter.
type Config struct {
	Enabled bool `yaml:"enabled"`

	InitialRPS float64 `yaml:"initial_rps"`
	MinRPS     float64 `yaml:"min_rps"`
	MaxRPS     float64 `yaml:"max_rps"`

	InitialBurst int `yaml:"initial_burst"`
	MinBurst     int `yaml:"min_burst"`
	MaxBurst     int `yaml:"max_burst"`

	// LatencyTargetMS is the send latency this limiter adapts toward.
	LatencyTargetMS int `yaml:"latency_target_ms"`
	// LatencyTolerance is the fraction above LatencyTargetMS tolerated
	// before the rate is backed off.
	LatencyTolerance float64 `yaml:"latency_tolerance"`

	// BytesPerToken makes AllowBytes spend tokens proportional to payload
	// size instead of one token per send; 0 disables byte-based limiting.
	BytesPerToken int64 `yaml:"bytes_per_token"`

	AdaptationInterval time.Duration `yaml:"adaptation_interval"`
	LatencyWindowSize  int           `yaml:"latency_window_size"`
	AdaptationFactor   float64       `yaml:"adaptation_factor"`
	SmoothingFactor    float64       `yaml:"smoothing_factor"`
}

// Stats reports a limiter's current tuning and lifetime counters.
type Stats struct {
	TotalRequests    int64     `json:"total_requests"`
	AllowedRequests  int64     `json:"allowed_requests"`
	BlockedRequests  int64     `json:"blocked_requests"`
	BytesProcessed   int64     `json:"bytes_processed"`
	CurrentRPS       float64   `json:"current_rps"`
	CurrentBurst     int       `json:"current_burst"`
	AverageLatencyMS float64   `json:"average_latency_ms"`
	AdaptationCount  int64     `json:"adaptation_count"`
	LastAdaptation   time.Time `json:"last_adaptation"`
}

// LatencyWindow is a fixed-size ring buffer of recent send latencies.
type LatencyWindow struct {
	samples []time.Duration
	index   int
	size    int
	mutex   sync.Mutex
}

// NewLatencyWindow allocates a window holding the last size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	return &LatencyWindow{
		samples: make([]time.Duration, size),
		size:    size,
	}
}

// Add records a latency sample, overwriting the oldest once full.
func (lw *LatencyWindow) Add(latency time.Duration) {
	lw.mutex.Lock()
	defer lw.mutex.Unlock()

	lw.samples[lw.index] = latency
	lw.index = (lw.index + 1) % lw.size
}

// Average returns the mean of non-zero samples currently held, or 0 if empty.
func (lw *LatencyWindow) Average() time.Duration {
	lw.mutex.Lock()
	defer lw.mutex.Unlock()

	var total time.Duration
	count := 0
	for _, sample := range lw.samples {
		if sample > 0 {
			total += sample
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// NewAdaptiveRateLimiter builds a limiter from config, applying defaults to
// any zero-valued field, and starts its background adaptation loop.
func NewAdaptiveRateLimiter(config Config, logger *logrus.Logger) *AdaptiveRateLimiter {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	if config.InitialRPS == 0 {
		config.InitialRPS = 10
	}
	if config.MinRPS == 0 {
		config.MinRPS = 1
	}
	if config.MaxRPS == 0 {
		config.MaxRPS = 1000
	}
	if config.InitialBurst == 0 {
		config.InitialBurst = int(config.InitialRPS * 2)
	}
	if config.MinBurst == 0 {
		config.MinBurst = 1
	}
	if config.MaxBurst == 0 {
		config.MaxBurst = int(config.MaxRPS * 2)
	}
	if config.LatencyTargetMS == 0 {
		config.LatencyTargetMS = 500
	}
	if config.LatencyTolerance == 0 {
		config.LatencyTolerance = 0.2
	}
	if config.BytesPerToken == 0 {
		config.BytesPerToken = 65536
	}
	if config.AdaptationInterval == 0 {
		config.AdaptationInterval = 30 * time.Second
	}
	if config.LatencyWindowSize == 0 {
		config.LatencyWindowSize = 100
	}
	if config.AdaptationFactor == 0 {
		config.AdaptationFactor = 0.1
	}
	if config.SmoothingFactor == 0 {
		config.SmoothingFactor = 0.8
	}

	rl := &AdaptiveRateLimiter{
		config:         config,
		logger:         logger,
		limiter:        rate.NewLimiter(rate.Limit(config.InitialRPS), config.InitialBurst),
		currentRPS:     config.InitialRPS,
		currentBurst:   config.InitialBurst,
		latencyHistory: NewLatencyWindow(config.LatencyWindowSize),
		ctx:            ctx,
		cancel:         cancel,
	}

	go rl.adaptationLoop()

	return rl
}

// Allow reports whether a single-token send may proceed now.
func (rl *AdaptiveRateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n tokens may be spent now.
func (rl *AdaptiveRateLimiter) AllowN(n int) bool {
	if !rl.config.Enabled {
		return true
	}

	ok := rl.limiter.AllowN(time.Now(), n)

	rl.mutex.Lock()
	rl.stats.TotalRequests += int64(n)
	if ok {
		rl.stats.AllowedRequests += int64(n)
	} else {
		rl.stats.BlockedRequests += int64(n)
	}
	rl.mutex.Unlock()

	return ok
}

// AllowBytes reports whether a payload of the given size may be sent now,
// spending ceil(bytes/BytesPerToken) tokens.
func (rl *AdaptiveRateLimiter) AllowBytes(bytes int64) bool {
	if !rl.config.Enabled || rl.config.BytesPerToken == 0 {
		return true
	}

	tokens := int(math.Ceil(float64(bytes) / float64(rl.config.BytesPerToken)))
	if rl.AllowN(tokens) {
		rl.mutex.Lock()
		rl.stats.BytesProcessed += bytes
		rl.mutex.Unlock()
		return true
	}
	return false
}

// RecordLatency feeds an observed send latency into the adaptation window.
func (rl *AdaptiveRateLimiter) RecordLatency(latency time.Duration) {
	if !rl.config.Enabled {
		return
	}
	rl.latencyHistory.Add(latency)
}

func (rl *AdaptiveRateLimiter) adaptationLoop() {
	ticker := time.NewTicker(rl.config.AdaptationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.performAdaptation()
		}
	}
}

// performAdaptation retunes the underlying rate.Limiter from the average
// latency observed since the last adaptation.
func (rl *AdaptiveRateLimiter) performAdaptation() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	avgLatency := rl.latencyHistory.Average()
	if avgLatency == 0 {
		return
	}

	targetLatency := time.Duration(rl.config.LatencyTargetMS) * time.Millisecond
	toleranceThreshold := float64(targetLatency) * (1 + rl.config.LatencyTolerance)

	rl.logger.WithFields(logrus.Fields{
		"avg_latency_ms":    avgLatency.Milliseconds(),
		"target_latency_ms": targetLatency.Milliseconds(),
		"current_rps":       rl.currentRPS,
		"current_burst":     rl.currentBurst,
	}).Debug("performing rate limit adaptation")

	var adaptationNeeded bool
	var newRPS float64

	switch {
	case float64(avgLatency) > toleranceThreshold:
		newRPS = rl.currentRPS * (1 - rl.config.AdaptationFactor)
		adaptationNeeded = true
		rl.logger.WithFields(logrus.Fields{
			"reason":  "high_latency",
			"old_rps": rl.currentRPS,
			"new_rps": newRPS,
		}).Info("reducing send rate due to high latency")

	case float64(avgLatency) < float64(targetLatency)*0.8:
		newRPS = rl.currentRPS * (1 + rl.config.AdaptationFactor)
		adaptationNeeded = true
		rl.logger.WithFields(logrus.Fields{
			"reason":  "low_latency",
			"old_rps": rl.currentRPS,
			"new_rps": newRPS,
		}).Info("increasing send rate due to low latency")
	}

	if adaptationNeeded {
		newRPS = math.Max(newRPS, rl.config.MinRPS)
		newRPS = math.Min(newRPS, rl.config.MaxRPS)

		burstRatio := float64(rl.currentBurst) / rl.currentRPS
		newBurst := int(math.Max(newRPS*burstRatio, float64(rl.config.MinBurst)))
		newBurst = int(math.Min(float64(newBurst), float64(rl.config.MaxBurst)))

		if rl.stats.AdaptationCount > 0 {
			newRPS = rl.currentRPS*rl.config.SmoothingFactor + newRPS*(1-rl.config.SmoothingFactor)
		}

		rl.currentRPS = newRPS
		rl.currentBurst = newBurst
		rl.limiter.SetLimit(rate.Limit(newRPS))
		rl.limiter.SetBurst(newBurst)
		rl.stats.AdaptationCount++
		rl.stats.LastAdaptation = time.Now()

		rl.logger.WithFields(logrus.Fields{
			"new_rps":          rl.currentRPS,
			"new_burst":        rl.currentBurst,
			"adaptation_count": rl.stats.AdaptationCount,
		}).Info("rate limits adapted")
	}

	rl.stats.CurrentRPS = rl.currentRPS
	rl.stats.CurrentBurst = rl.currentBurst
	rl.stats.AverageLatencyMS = float64(avgLatency.Milliseconds())
}

// Wait blocks until a single token is available or ctx is done.
func (rl *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	if !rl.config.Enabled {
		return nil
	}

	rl.mutex.Lock()
	rl.stats.TotalRequests++
	rl.mutex.Unlock()

	if err := rl.limiter.Wait(ctx); err != nil {
		rl.mutex.Lock()
		rl.stats.BlockedRequests++
		rl.mutex.Unlock()
		return err
	}

	rl.mutex.Lock()
	rl.stats.AllowedRequests++
	rl.mutex.Unlock()
	return nil
}

// GetCurrentLimits returns the limiter's current rate and burst.
func (rl *AdaptiveRateLimiter) GetCurrentLimits() (rps float64, burst int) {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return rl.currentRPS, rl.currentBurst
}

// GetStats returns a snapshot of the limiter's stats.
func (rl *AdaptiveRateLimiter) GetStats() Stats {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	stats := rl.stats
	stats.CurrentRPS = rl.currentRPS
	stats.CurrentBurst = rl.currentBurst
	stats.AverageLatencyMS = float64(rl.latencyHistory.Average().Milliseconds())
	return stats
}

// GetInfo returns a JSON-friendly summary of config and stats, the shape
// exposed via the control plane's host status payload.
func (rl *AdaptiveRateLimiter) GetInfo() map[string]interface{} {
	stats := rl.GetStats()

	allowRate := float64(0)
	if stats.TotalRequests > 0 {
		allowRate = float64(stats.AllowedRequests) / float64(stats.TotalRequests) * 100
	}

	return map[string]interface{}{
		"enabled":             rl.config.Enabled,
		"current_rps":         stats.CurrentRPS,
		"current_burst":       stats.CurrentBurst,
		"min_rps":             rl.config.MinRPS,
		"max_rps":             rl.config.MaxRPS,
		"latency_target_ms":   rl.config.LatencyTargetMS,
		"latency_tolerance":   rl.config.LatencyTolerance,
		"bytes_per_token":     rl.config.BytesPerToken,
		"adaptation_interval": rl.config.AdaptationInterval.String(),
		"total_requests":      stats.TotalRequests,
		"allowed_requests":    stats.AllowedRequests,
		"blocked_requests":    stats.BlockedRequests,
		"bytes_processed":     stats.BytesProcessed,
		"average_latency_ms":  stats.AverageLatencyMS,
		"adaptation_count":    stats.AdaptationCount,
		"last_adaptation":     stats.LastAdaptation,
		"allow_rate_percent":  allowRate,
	}
}

// Reset returns the limiter to its initial configured rate and burst and
// clears accumulated stats and latency history.
func (rl *AdaptiveRateLimiter) Reset() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.currentRPS = rl.config.InitialRPS
	rl.currentBurst = rl.config.InitialBurst
	rl.limiter.SetLimit(rate.Limit(rl.config.InitialRPS))
	rl.limiter.SetBurst(rl.config.InitialBurst)
	rl.stats = Stats{}
	rl.latencyHistory = NewLatencyWindow(rl.config.LatencyWindowSize)

	rl.logger.Info("rate limiter reset to initial configuration")
}

// Stop terminates the background adaptation loop.
func (rl *AdaptiveRateLimiter) Stop() {
	rl.cancel()
}
