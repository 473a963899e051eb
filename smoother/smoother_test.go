package smoother

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	value float64
	ok    bool
}

func (f *fakeSource) set(v float64) {
	f.mu.Lock()
	f.value, f.ok = v, true
	f.mu.Unlock()
}

func (f *fakeSource) read() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.ok
}

func newSmoother(t *testing.T, src *fakeSource, maxRate float64) *Smoother {
	t.Helper()
	s, err := New(Deps{Source: src.read, MaxRate: maxRate})
	require.NoError(t, err)
	return s
}

func TestStep_FirstSampleSnaps(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 10)

	// No source value yet: stays at zero
	assert.Zero(t, s.Step(1000))

	src.set(50)
	assert.InDelta(t, 50.0, s.Step(2000), 1e-9)
}

func TestStep_RateOfChangeBounded(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 10) // 10 units/s

	src.set(0)
	s.Step(0)

	src.set(100)
	// 1 second later: moved at most 10 units
	assert.InDelta(t, 10.0, s.Step(1000), 1e-9)
	assert.InDelta(t, 20.0, s.Step(2000), 1e-9)

	// Approaches the target without overshoot
	for now := int64(3000); now <= 20_000; now += 1000 {
		v := s.Step(now)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.InDelta(t, 100.0, s.Displayed(), 1e-9)
}

func TestStep_ApproachesDownward(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 20)

	src.set(100)
	s.Step(0)

	src.set(0)
	assert.InDelta(t, 80.0, s.Step(1000), 1e-9)
	assert.InDelta(t, 60.0, s.Step(2000), 1e-9)
}

func TestStep_SmallDeltaConverges(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 10)

	src.set(50)
	s.Step(0)

	src.set(50.5)
	// Within one step's budget: lands exactly on target
	assert.InDelta(t, 50.5, s.Step(1000), 1e-9)
}

func TestStep_NoDiscontinuityAcrossBursts(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 30)

	src.set(0)
	s.Step(0)

	// Bursty target changes, fixed 100 ms output cadence
	targets := []float64{80, 20, 120, 0, 60}
	prev := s.Displayed()
	now := int64(0)
	for _, target := range targets {
		src.set(target)
		for i := 0; i < 10; i++ {
			now += 100
			v := s.Step(now)
			// Max 30 units/s * 0.1 s = 3 units per step
			assert.LessOrEqual(t, math.Abs(v-prev), 3.0+1e-9)
			prev = v
		}
	}
}

func TestStep_ZeroOrBackwardsTimeIsStable(t *testing.T) {
	src := &fakeSource{}
	s := newSmoother(t, src, 10)

	src.set(0)
	s.Step(1000)
	src.set(100)

	assert.Equal(t, s.Displayed(), s.Step(1000))
	assert.Equal(t, s.Displayed(), s.Step(500))
}

func TestRun_EmitsSamples(t *testing.T) {
	src := &fakeSource{}
	src.set(42)

	samples := make(chan float64, 64)
	s, err := New(Deps{
		Source:   src.read,
		Interval: time.Millisecond,
		OnSample: func(v float64) {
			select {
			case samples <- v:
			default:
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	select {
	case v := <-samples:
		assert.InDelta(t, 42.0, v, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no samples emitted")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	src := &fakeSource{}
	_, err = New(Deps{Source: src.read, MaxRate: -1})
	assert.Error(t, err)
}
