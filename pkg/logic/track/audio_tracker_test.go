package track

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastTracker() *ResponseAudioTracker {
	return NewResponseAudioTracker(AudioTrackerConfig{
		CompletionMargin: 5 * time.Millisecond,
		SafetyTimeout:    500 * time.Millisecond,
	}, zap.NewNop())
}

func TestTrackerCompletionFiresExactlyOnce(t *testing.T) {
	tr := fastTracker()

	var fired atomic.Int32
	tr.OnAudioQueued("r1", 10)
	tr.NotifyWhenComplete("r1", func() { fired.Add(1) })

	for i := 0; i < 10; i++ {
		tr.OnPacketSent()
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)

	// Cancel after completion is a no-op.
	tr.CancelPending()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTrackerCallbackAfterAlreadyComplete(t *testing.T) {
	tr := fastTracker()

	tr.OnAudioQueued("r1", 3)
	for i := 0; i < 3; i++ {
		tr.OnPacketSent()
	}

	var fired atomic.Int32
	tr.NotifyWhenComplete("r1", func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestTrackerSafetyDeadlineForcesCompletion(t *testing.T) {
	tr := NewResponseAudioTracker(AudioTrackerConfig{
		CompletionMargin: 5 * time.Millisecond,
		SafetyTimeout:    30 * time.Millisecond,
	}, zap.NewNop())

	var fired atomic.Int32
	tr.OnAudioQueued("r1", 10)
	tr.NotifyWhenComplete("r1", func() { fired.Add(1) })
	tr.OnPacketSent() // accounting never converges

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTrackerCancelDropsCallbacks(t *testing.T) {
	tr := fastTracker()

	var fired atomic.Int32
	tr.OnAudioQueued("r1", 2)
	tr.NotifyWhenComplete("r1", func() { fired.Add(1) })

	tr.CancelPending()
	tr.OnPacketSent()
	tr.OnPacketSent()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	_, ok := tr.CurrentlyPlayingResponseID()
	assert.False(t, ok)

	tr.CancelPending() // idempotent
}

func TestTrackerCancelIsPerResponse(t *testing.T) {
	tr := fastTracker()

	var r2Fired atomic.Int32
	tr.OnAudioQueued("r1", 2)
	tr.OnAudioQueued("r2", 1)
	tr.NotifyWhenComplete("r1", func() { t.Error("canceled callback fired") })
	tr.NotifyWhenComplete("r2", func() { r2Fired.Add(1) })

	tr.Cancel("r1")

	// r2 is now first in line and completes normally.
	tr.OnPacketSent()
	require.Eventually(t, func() bool { return r2Fired.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestTrackerAdvancesResponsesInOrder(t *testing.T) {
	tr := fastTracker()

	tr.OnAudioQueued("r1", 2)
	tr.OnAudioQueued("r2", 3)

	id, ok := tr.CurrentlyPlayingResponseID()
	require.True(t, ok)
	assert.Equal(t, "r1", id)

	tr.OnPacketSent()
	assert.Equal(t, uint64(10), tr.PlaybackPositionMs("r1"))

	tr.OnPacketSent() // r1 done
	id, ok = tr.CurrentlyPlayingResponseID()
	require.True(t, ok)
	assert.Equal(t, "r2", id)

	tr.OnPacketSent()
	assert.Equal(t, uint64(10), tr.PlaybackPositionMs("r2"))
}

func TestTrackerPositionUnknownResponse(t *testing.T) {
	tr := fastTracker()
	assert.Equal(t, uint64(0), tr.PlaybackPositionMs("nope"))
}
