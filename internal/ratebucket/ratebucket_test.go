package ratebucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_UnlimitedWhenZero(t *testing.T) {
	r := New(nil)
	for i := 0; i < 1000; i++ {
		assert.True(t, r.Allow("u1", 0))
	}
}

func TestRegistry_ExhaustsAndRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := New(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		assert.True(t, r.Allow("u1", 10), "token %d", i)
	}
	assert.False(t, r.Allow("u1", 10))

	// Half a minute refills half the bucket.
	now = now.Add(30 * time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("u1", 10), "refilled token %d", i)
	}
	assert.False(t, r.Allow("u1", 10))
}

func TestRegistry_CapacityCapped(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := New(func() time.Time { return now })

	assert.True(t, r.Allow("u1", 5))
	now = now.Add(time.Hour)
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("u1", 5))
	}
	assert.False(t, r.Allow("u1", 5))
}

func TestRegistry_IndependentBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := New(func() time.Time { return now })

	assert.True(t, r.Allow("a", 1))
	assert.False(t, r.Allow("a", 1))
	assert.True(t, r.Allow("b", 1))
}
