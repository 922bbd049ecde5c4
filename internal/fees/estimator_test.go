package fees

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSampler struct {
	mu    sync.Mutex
	fees  []uint64
	err   error
	calls int
}

func (s *stubSampler) RecentFees(_ context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.fees, s.err
}

func (s *stubSampler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var testFloors = Floors{Low: 1000, Medium: 5000, High: 10000, VeryHigh: 50000}

func newTestEstimator(t *testing.T, sampler Sampler, cooldown time.Duration) *Estimator {
	t.Helper()
	return NewEstimator(sampler, testFloors, cooldown, zaptest.NewLogger(t))
}

func TestEstimator_PrimedBeforeFirstRefresh(t *testing.T) {
	est := newTestEstimator(t, &stubSampler{}, 30*time.Second).Current()
	require.NotNil(t, est)
	assert.Equal(t, testFloors.Low, est.Low)
	assert.Equal(t, testFloors.VeryHigh, est.VeryHigh)
	assert.Equal(t, TierLow, est.Recommended)
}

func TestEstimator_ComputesTiers(t *testing.T) {
	// 10 samples, sorted: median=idx5=600, p75=idx7=800, p90=idx9=1000000.
	sampler := &stubSampler{fees: []uint64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000000}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	est := e.Refresh(context.Background())

	assert.Equal(t, testFloors.Low, est.Low)       // 600*0.5 < floor
	assert.Equal(t, testFloors.Medium, est.Medium) // 600 < floor
	assert.Equal(t, testFloors.High, est.High)     // 800*2.5 < floor
	assert.Equal(t, uint64(5000000), est.VeryHigh) // 1000000*5
	// p90/median = 1666 -> veryHigh congestion.
	assert.Equal(t, TierVeryHigh, est.Recommended)
}

func TestEstimator_QuietNetworkRecommendsLow(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{100, 100, 110, 120, 130}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	est := e.Refresh(context.Background())
	assert.Equal(t, TierLow, est.Recommended)
	// Floors keep every tier non-zero.
	assert.GreaterOrEqual(t, est.Low, testFloors.Low)
	assert.GreaterOrEqual(t, est.VeryHigh, testFloors.VeryHigh)
}

func TestEstimator_ThrottleWithinWindow(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{500, 600, 700}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	base := time.Now()
	e.now = func() time.Time { return base }

	first := e.Refresh(context.Background())
	second := e.Refresh(context.Background())

	// Identical object, no recompute.
	assert.Same(t, first, second)
	assert.Equal(t, 1, sampler.callCount())
}

func TestEstimator_RefreshAfterWindow(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{500, 600, 700}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	base := time.Now()
	e.now = func() time.Time { return base }
	first := e.Refresh(context.Background())

	e.now = func() time.Time { return base.Add(31 * time.Second) }
	sampler.mu.Lock()
	sampler.fees = []uint64{900, 950, 1000}
	sampler.mu.Unlock()

	second := e.Refresh(context.Background())
	assert.NotSame(t, first, second)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
	assert.Equal(t, 2, sampler.callCount())
}

func TestEstimator_SamplerFailureKeepsStale(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{500, 600, 700}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	base := time.Now()
	e.now = func() time.Time { return base }
	first := e.Refresh(context.Background())

	e.now = func() time.Time { return base.Add(time.Minute) }
	sampler.mu.Lock()
	sampler.err = errors.New("rpc down")
	sampler.mu.Unlock()

	second := e.Refresh(context.Background())
	assert.Same(t, first, second)

	// The failed attempt consumed the window; further calls inside it must
	// not touch the sampler again.
	e.now = func() time.Time { return base.Add(time.Minute + 5*time.Second) }
	third := e.Refresh(context.Background())
	assert.Same(t, first, third)
	assert.Equal(t, 2, sampler.callCount())
}

func TestEstimator_ThrottleHoldsWhileSamplerDown(t *testing.T) {
	sampler := &stubSampler{err: errors.New("rpc down")}
	e := newTestEstimator(t, sampler, 30*time.Second)

	base := time.Now()
	offset := time.Duration(0)
	e.now = func() time.Time { return base.Add(offset) }

	for i := 0; i < 5; i++ {
		est := e.Refresh(context.Background())
		require.NotNil(t, est)
		assert.Equal(t, TierLow, est.Recommended)
		offset += time.Second
	}

	// One upstream attempt per window, even when every attempt fails.
	assert.Equal(t, 1, sampler.callCount())

	offset = 31 * time.Second
	_ = e.Refresh(context.Background())
	assert.Equal(t, 2, sampler.callCount())
}

func TestEstimator_EmptySamplesKeepStale(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{500, 600, 700}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	base := time.Now()
	e.now = func() time.Time { return base }
	first := e.Refresh(context.Background())

	e.now = func() time.Time { return base.Add(time.Minute) }
	sampler.mu.Lock()
	sampler.fees = []uint64{0, 0}
	sampler.mu.Unlock()

	second := e.Refresh(context.Background())
	assert.Same(t, first, second)
}

func TestEstimator_ConcurrentRefreshSingleUpstreamCall(t *testing.T) {
	sampler := &stubSampler{fees: []uint64{500, 600, 700}}
	e := newTestEstimator(t, sampler, 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sampler.callCount())
}

func TestPercentile(t *testing.T) {
	sorted := []uint64{10, 20, 30, 40}
	assert.Equal(t, uint64(30), percentile(sorted, 50))
	assert.Equal(t, uint64(40), percentile(sorted, 75))
	assert.Equal(t, uint64(40), percentile(sorted, 90))
	assert.Equal(t, uint64(40), percentile(sorted, 100))

	single := []uint64{7}
	assert.Equal(t, uint64(7), percentile(single, 50))
	assert.Equal(t, uint64(7), percentile(single, 90))
}
