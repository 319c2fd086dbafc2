package tid_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dependable-objdb/core/internal/tid"
)

func TestNormalize_Live(t *testing.T) {
	key, isLive, err := tid.Normalize(nil, nil)
	require.NoError(t, err)
	assert.True(t, isLive)
	assert.Equal(t, tid.TID{}, key)
}

func TestNormalize_BothAtAndBeforeRejected(t *testing.T) {
	at := tid.FromWallClock(time.Now())
	before := tid.FromRaw(make([]byte, 8))
	_, _, err := tid.Normalize(at, before)
	assert.Error(t, err)
}

func TestNormalize_Before(t *testing.T) {
	raw := make([]byte, 8)
	raw[7] = 42
	before := tid.FromRaw(raw)

	key, isLive, err := tid.Normalize(nil, before)
	require.NoError(t, err)
	assert.False(t, isLive)
	assert.Equal(t, tid.FromBytes(raw), key)
}

func TestNormalize_AtShiftsToStrictlyLater(t *testing.T) {
	now := time.Now()
	at := tid.FromWallClock(now)

	key, isLive, err := tid.Normalize(at, nil)
	require.NoError(t, err)
	assert.False(t, isLive)
	assert.True(t, tid.FromTime(now).Less(key))
}

func TestTID_CompareAndLess(t *testing.T) {
	a := tid.FromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	b := tid.FromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 2})

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestTID_Next(t *testing.T) {
	a := tid.FromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	assert.True(t, a.Less(a.Next()))
}

func TestTID_ZeroIsSmallest(t *testing.T) {
	a := tid.FromTime(time.Now())
	assert.True(t, tid.Zero.Less(a))
}
