package adaptivelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(DefaultConfig(), clock.now), clock
}

func TestLimiter_LearnsUpstreamLimit(t *testing.T) {
	l, _ := newTestLimiter()

	l.OnSuccess(50)
	assert.Equal(t, 50, l.LearnedLimit())
	assert.Equal(t, 50, l.CurrentLimit())
}

func TestLimiter_SuccessStreakRaisesLimit(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.OnSuccess(0)
	}
	assert.Equal(t, 15, l.CurrentLimit()) // initial 10 + step 5
}

func TestLimiter_RaiseCappedByLearnedLimit(t *testing.T) {
	l, _ := newTestLimiter()

	l.OnSuccess(12)
	for i := 0; i < 5; i++ {
		l.OnSuccess(0)
	}
	assert.Equal(t, 12, l.CurrentLimit())
}

func TestLimiter_LeavesLearningAfterDuration(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 10; i++ {
		l.OnSuccess(0)
	}
	assert.Equal(t, Stable, l.CurrentPhase())
}

func TestLimiter_RateLimitedShrinksByTwentyPercent(t *testing.T) {
	l, _ := newTestLimiter()
	assert.Equal(t, 10, l.CurrentLimit())

	l.OnRateLimited(0)
	assert.Equal(t, 8, l.CurrentLimit())
	l.OnRateLimited(0)
	assert.Equal(t, 7, l.CurrentLimit()) // ceil(8*0.8)
}

func TestLimiter_RetryAfterBlocksAvailability(t *testing.T) {
	l, clock := newTestLimiter()

	l.OnRateLimited(2 * time.Second)
	assert.False(t, l.CheckAvailable())
	clock.advance(3 * time.Second)
	assert.True(t, l.CheckAvailable())
}

func TestLimiter_RetryAfterZeroUsableImmediately(t *testing.T) {
	l, _ := newTestLimiter()
	l.OnRateLimited(0)
	assert.True(t, l.CheckAvailable())
}

func TestLimiter_CooldownEntersAfterFailureThreshold(t *testing.T) {
	l, clock := newTestLimiter()

	l.OnRateLimited(0)
	l.OnRateLimited(0)
	assert.Equal(t, Cooldown, l.CurrentPhase())
	assert.False(t, l.CheckAvailable())

	clock.advance(31 * time.Second)
	assert.True(t, l.CheckAvailable())
	assert.Equal(t, Learning, l.CurrentPhase())
}

func TestLimiter_RecoveryHalvesLimit(t *testing.T) {
	l, clock := newTestLimiter()
	for i := 0; i < 10; i++ {
		l.OnSuccess(0)
	}
	limit := l.CurrentLimit()

	l.OnRateLimited(0)
	l.OnRateLimited(0)
	clock.advance(31 * time.Second)
	assert.True(t, l.CheckAvailable())

	// Two 429s shrank the limit by 0.8 twice, recovery halves what's left.
	want := ceilMul(ceilMul(ceilMul(limit, 0.8), 0.8), 0.5)
	assert.Equal(t, want, l.CurrentLimit())
}

// The limit must stay within [1, max] for any call sequence.
func TestLimiter_BoundsInvariant(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 500; i++ {
		switch i % 7 {
		case 0, 1, 2, 3:
			l.OnSuccess(i % 90)
		case 4:
			l.OnSuccess(2000) // above max, must be ignored
		default:
			l.OnRateLimited(time.Duration(i%3) * time.Second)
		}
		clock.advance(time.Duration(i%40) * time.Second)
		l.CheckAvailable()

		assert.GreaterOrEqual(t, l.CurrentLimit(), 1)
		assert.LessOrEqual(t, l.CurrentLimit(), DefaultConfig().MaxLimit)
	}
}
