package jitter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureSink) transmit(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *captureSink) snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func silenceAvailable() (Entry, bool) {
	return Entry{RTPPacket: []byte{0}, SourcePCM: make([]int16, 80), Silence: true}, true
}

func noSilence() (Entry, bool) {
	return Entry{}, false
}

func realEntries(n int, responseID string) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{RTPPacket: []byte{byte(i)}, ResponseID: responseID}
	}
	return out
}

func TestSchedulerBuffersBeforeStreaming(t *testing.T) {
	sink := &captureSink{}
	s := NewScheduler(Config{
		Interval:             5 * time.Millisecond,
		InitialBufferPackets: 3,
		BurstPackets:         1,
	}, sink.transmit, noSilence, zap.NewNop())
	defer s.Stop()

	s.Enqueue(realEntries(1, "r1"))
	assert.Equal(t, StateBuffering, s.State())
	assert.Len(t, sink.snapshot(), 1) // burst went out immediately
	assert.Equal(t, 0, s.Depth())

	s.Enqueue(realEntries(3, "r1"))
	assert.Equal(t, StateStreaming, s.State())

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 4
	}, time.Second, time.Millisecond)
}

func TestSchedulerInjectsSilenceOnUnderrun(t *testing.T) {
	sink := &captureSink{}
	s := NewScheduler(Config{
		Interval:             2 * time.Millisecond,
		InitialBufferPackets: 2,
		BurstPackets:         1,
	}, sink.transmit, silenceAvailable, zap.NewNop())
	defer s.Stop()

	s.Enqueue(realEntries(3, "r1"))
	require.Equal(t, StateStreaming, s.State())

	require.Eventually(t, func() bool {
		for _, e := range sink.snapshot() {
			if e.Silence {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	// Real packets all left before any silence was substituted.
	entries := sink.snapshot()
	real := 0
	for _, e := range entries {
		if !e.Silence {
			real++
		} else {
			assert.Equal(t, 3, real, "silence before queue drained")
		}
	}
	assert.Equal(t, 3, real)
}

func TestSchedulerClearResetsBurstAndShrinks(t *testing.T) {
	sink := &captureSink{}
	s := NewScheduler(Config{
		Interval:             time.Hour, // pacing never ticks during the test
		InitialBufferPackets: 3,
		MaxBufferPackets:     50,
		BurstPackets:         2,
		GapThreshold:         5 * time.Millisecond,
		GapsPerGrowth:        1,
		GrowthStep:           5,
		ShrinkStep:           10,
	}, sink.transmit, noSilence, zap.NewNop())
	defer s.Stop()

	s.Enqueue(realEntries(1, "r1"))
	assert.Len(t, sink.snapshot(), 1)

	// A delivery gap beyond the threshold grows the buffer.
	time.Sleep(10 * time.Millisecond)
	s.Enqueue(realEntries(1, "r1"))
	assert.Equal(t, 8, s.BufferThreshold())

	s.Clear()
	assert.Empty(t, s.Pending())
	assert.Equal(t, 0, s.Depth())
	assert.Equal(t, 3, s.BufferThreshold()) // shrunk, floored at initial

	// Burst re-arms after a clear so the next response seeds the far end.
	s.Enqueue(realEntries(1, "r2"))
	assert.Len(t, sink.snapshot(), 2)
}

func TestSchedulerGrowthCapped(t *testing.T) {
	s := NewScheduler(Config{
		InitialBufferPackets: 48,
		MaxBufferPackets:     50,
		GapThreshold:         time.Millisecond,
		GapsPerGrowth:        1,
		GrowthStep:           5,
	}, func(Entry) {}, noSilence, zap.NewNop())
	defer s.Stop()

	s.Enqueue(realEntries(1, "r"))
	time.Sleep(3 * time.Millisecond)
	s.Enqueue(realEntries(1, "r"))
	assert.Equal(t, 50, s.BufferThreshold())
}

func TestSchedulerPendingSnapshot(t *testing.T) {
	s := NewScheduler(Config{
		Interval:             time.Hour,
		InitialBufferPackets: 10,
		BurstPackets:         1,
	}, func(Entry) {}, noSilence, zap.NewNop())
	defer s.Stop()

	s.Enqueue(realEntries(3, "r1")) // one bursts, two stay queued

	pending := s.Pending()
	require.Len(t, pending, 2)
	for _, e := range pending {
		assert.Equal(t, "r1", e.ResponseID)
	}
}

// Bursts triggered by a Clear while the pacing loop is live must not be
// reordered against concurrent ticks: every transmitted packet carries a
// global enqueue index, and the observed sequence has to stay strictly
// increasing.
func TestSchedulerPreservesOrderAcrossClears(t *testing.T) {
	sink := &captureSink{}
	s := NewScheduler(Config{
		Interval:             time.Millisecond,
		InitialBufferPackets: 1,
		BurstPackets:         2,
	}, sink.transmit, noSilence, zap.NewNop())
	defer s.Stop()

	var next uint16
	indexed := func(n int) []Entry {
		out := make([]Entry, n)
		for i := range out {
			out[i] = Entry{RTPPacket: []byte{byte(next >> 8), byte(next)}, ResponseID: "r"}
			next++
		}
		return out
	}

	for round := 0; round < 50; round++ {
		s.Enqueue(indexed(3))
		if round%5 == 4 {
			s.Clear() // resets the burst flag while the loop stays live
		}
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	prev := -1
	for _, e := range sink.snapshot() {
		if e.Silence {
			continue
		}
		idx := int(e.RTPPacket[0])<<8 | int(e.RTPPacket[1])
		assert.Greater(t, idx, prev, "packet transmitted out of order")
		prev = idx
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := NewScheduler(Config{InitialBufferPackets: 1, BurstPackets: 1},
		func(Entry) {}, noSilence, zap.NewNop())

	s.Enqueue(realEntries(2, "r"))
	require.Equal(t, StateStreaming, s.State())

	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Depth())
	s.Stop() // no panic, no hang
}
