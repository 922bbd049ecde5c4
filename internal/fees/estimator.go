package fees

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Tier is a named priority fee level.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierVeryHigh Tier = "veryHigh"
)

// Estimate is one tiered fee recommendation, in micro-lamports per compute
// unit. Each successful refresh supersedes the previous estimate wholesale.
type Estimate struct {
	Low         uint64    `json:"low"`
	Medium      uint64    `json:"medium"`
	High        uint64    `json:"high"`
	VeryHigh    uint64    `json:"veryHigh"`
	Recommended Tier      `json:"recommended"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Floors are the per-tier minimums that keep recommendations non-zero when
// the network is idle.
type Floors struct {
	Low      uint64
	Medium   uint64
	High     uint64
	VeryHigh uint64
}

// Tier multipliers and congestion thresholds, applied to the sample
// percentiles. The congestion ratio is p90/median.
const (
	lowMultiplier      = 0.5
	highMultiplier     = 2.5
	veryHighMultiplier = 5.0

	congestionVeryHigh = 10.0
	congestionHigh     = 5.0
	congestionMedium   = 2.0
)

// Sampler supplies recent per-transaction prioritization fee samples.
type Sampler interface {
	RecentFees(ctx context.Context) ([]uint64, error)
}

// Estimator computes tiered fee recommendations from recent network samples.
// Refreshes are throttled to one per cooldown window; within the window every
// caller gets the cached estimate. The cache check-and-update is atomic, and
// concurrent callers that pass the staleness check share a single upstream
// refresh through singleflight.
type Estimator struct {
	sampler  Sampler
	floors   Floors
	cooldown time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	group       singleflight.Group
	current     *Estimate
	lastRefresh time.Time

	now func() time.Time
}

func NewEstimator(sampler Sampler, floors Floors, cooldown time.Duration, logger *zap.Logger) *Estimator {
	e := &Estimator{
		sampler:  sampler,
		floors:   floors,
		cooldown: cooldown,
		logger:   logger.Named("fee_estimator"),
		now:      time.Now,
	}
	// Prime the cache so callers never see a nil or zero-fee estimate, even
	// before the first successful refresh.
	e.current = &Estimate{
		Low:         floors.Low,
		Medium:      floors.Medium,
		High:        floors.High,
		VeryHigh:    floors.VeryHigh,
		Recommended: TierLow,
		LastUpdated: e.now().UTC(),
	}
	return e
}

// Current returns the cached estimate without triggering a refresh.
func (e *Estimator) Current() *Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Refresh returns the freshest available estimate, refreshing from the
// sampler at most once per cooldown window. On sampler failure or an empty
// sample set the previous estimate is returned unchanged; the window still
// advances, so a dead upstream is not re-queried until the next window.
func (e *Estimator) Refresh(ctx context.Context) *Estimate {
	e.mu.Lock()
	if e.now().Sub(e.lastRefresh) < e.cooldown {
		est := e.current
		e.mu.Unlock()
		return est
	}
	e.mu.Unlock()

	v, _, _ := e.group.Do("refresh", func() (interface{}, error) {
		e.mu.Lock()
		if e.now().Sub(e.lastRefresh) < e.cooldown {
			est := e.current
			e.mu.Unlock()
			return est, nil
		}
		e.mu.Unlock()

		fees, err := e.sampler.RecentFees(ctx)

		// The throttle counts attempts, not successes. A failed sample must
		// not open the window for the next caller to hit the upstream again.
		e.mu.Lock()
		e.lastRefresh = e.now()
		e.mu.Unlock()

		if err != nil {
			e.logger.Warn("Fee sample refresh failed, keeping stale estimate", zap.Error(err))
			return e.Current(), nil
		}

		est := e.compute(fees)
		if est == nil {
			e.logger.Debug("No positive fee samples, keeping stale estimate")
			return e.Current(), nil
		}

		e.mu.Lock()
		e.current = est
		e.mu.Unlock()

		e.logger.Debug("Fee estimate refreshed",
			zap.Uint64("low", est.Low),
			zap.Uint64("very_high", est.VeryHigh),
			zap.String("recommended", string(est.Recommended)))
		return est, nil
	})
	return v.(*Estimate)
}

// compute derives the tiered estimate from raw samples. Returns nil when no
// positive samples exist.
func (e *Estimator) compute(samples []uint64) *Estimate {
	positive := make([]uint64, 0, len(samples))
	for _, fee := range samples {
		if fee > 0 {
			positive = append(positive, fee)
		}
	}
	if len(positive) == 0 {
		return nil
	}
	slices.Sort(positive)

	median := percentile(positive, 50)
	p75 := percentile(positive, 75)
	p90 := percentile(positive, 90)

	est := &Estimate{
		Low:         maxFee(uint64(float64(median)*lowMultiplier), e.floors.Low),
		Medium:      maxFee(median, e.floors.Medium),
		High:        maxFee(uint64(float64(p75)*highMultiplier), e.floors.High),
		VeryHigh:    maxFee(uint64(float64(p90)*veryHighMultiplier), e.floors.VeryHigh),
		LastUpdated: e.now().UTC(),
	}

	ratio := float64(p90) / float64(median)
	switch {
	case ratio > congestionVeryHigh:
		est.Recommended = TierVeryHigh
	case ratio > congestionHigh:
		est.Recommended = TierHigh
	case ratio > congestionMedium:
		est.Recommended = TierMedium
	default:
		est.Recommended = TierLow
	}
	return est
}

// percentile is index-based with no interpolation, over a sorted slice.
func percentile(sorted []uint64, p int) uint64 {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func maxFee(fee, floor uint64) uint64 {
	if fee > floor {
		return fee
	}
	return floor
}
