package track

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PacketIntervalMs is the pacing cadence; playback position is derived
// from packets actually sent, 10 ms each.
const PacketIntervalMs = 10

// AudioTrackerConfig carries the completion margin (lets the last packet
// actually leave the queue before the callback runs) and the safety
// deadline that force-fires a completion if packet accounting never
// converges. Safety firing is a bug signal, not a normal path.
type AudioTrackerConfig struct {
	CompletionMargin time.Duration // default 100 ms
	SafetyTimeout    time.Duration // default 10 s
}

func (c *AudioTrackerConfig) withDefaults() AudioTrackerConfig {
	out := *c
	if out.CompletionMargin <= 0 {
		out.CompletionMargin = 100 * time.Millisecond
	}
	if out.SafetyTimeout <= 0 {
		out.SafetyTimeout = 10 * time.Second
	}
	return out
}

type responseEntry struct {
	packetsQueued uint64
	packetsSent   uint64
	callback      func()
	safetyTimer   *time.Timer
	firing        bool // completion scheduled or done; blocks double fire
}

// ResponseAudioTracker keeps per-utterance accounting of packets queued
// versus packets actually placed on the wire. packetsSent is the
// authoritative "how much has the far end heard" clock that drives
// transcript truncation on barge-in.
type ResponseAudioTracker struct {
	cfg AudioTrackerConfig
	log *zap.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*responseEntry
}

func NewResponseAudioTracker(cfg AudioTrackerConfig, log *zap.Logger) *ResponseAudioTracker {
	return &ResponseAudioTracker{
		cfg:     cfg.withDefaults(),
		log:     log,
		entries: make(map[string]*responseEntry),
	}
}

func (t *ResponseAudioTracker) ensureLocked(responseID string) *responseEntry {
	e, ok := t.entries[responseID]
	if !ok {
		e = &responseEntry{}
		t.entries[responseID] = e
		t.order = append(t.order, responseID)
	}
	return e
}

// OnAudioQueued records packets enqueued for a response.
func (t *ResponseAudioTracker) OnAudioQueued(responseID string, packetCount int) {
	if packetCount <= 0 {
		return
	}
	t.mu.Lock()
	e := t.ensureLocked(responseID)
	e.packetsQueued += uint64(packetCount)
	t.mu.Unlock()
}

// OnPacketSent must be called synchronously from the pacing tick that put
// a real payload packet on the wire (silence substitutions never advance
// a response). It advances the first response, in insertion order, that
// still has unsent packets.
func (t *ResponseAudioTracker) OnPacketSent() {
	t.mu.Lock()
	for _, id := range t.order {
		e := t.entries[id]
		if e == nil || e.packetsSent >= e.packetsQueued {
			continue
		}
		e.packetsSent++
		if e.packetsSent == e.packetsQueued && e.callback != nil && !e.firing {
			t.scheduleFireLocked(id, e)
		}
		break
	}
	t.mu.Unlock()
}

// NotifyWhenComplete registers a completion callback for a response. If
// the response already caught up, the callback fires after the margin.
// Either way the safety deadline is armed.
func (t *ResponseAudioTracker) NotifyWhenComplete(responseID string, callback func()) {
	t.mu.Lock()
	e := t.ensureLocked(responseID)
	e.callback = callback

	if e.safetyTimer == nil {
		entry := e
		e.safetyTimer = time.AfterFunc(t.cfg.SafetyTimeout, func() {
			t.mu.Lock()
			if t.entries[responseID] != entry || entry.firing {
				t.mu.Unlock()
				return
			}
			t.log.Warn("response completion forced by safety deadline; packet accounting never converged",
				zap.String("response_id", responseID),
				zap.Uint64("queued", entry.packetsQueued),
				zap.Uint64("sent", entry.packetsSent))
			entry.firing = true
			cb := entry.callback
			t.removeLocked(responseID)
			t.mu.Unlock()
			if cb != nil {
				cb()
			}
		})
	}

	if e.packetsQueued > 0 && e.packetsSent >= e.packetsQueued && !e.firing {
		t.scheduleFireLocked(responseID, e)
	}
	t.mu.Unlock()
}

// scheduleFireLocked fires the callback once after the completion margin.
// The closure re-checks identity so a cancel or teardown between schedule
// and fire wins.
func (t *ResponseAudioTracker) scheduleFireLocked(responseID string, e *responseEntry) {
	e.firing = true
	time.AfterFunc(t.cfg.CompletionMargin, func() {
		t.mu.Lock()
		if t.entries[responseID] != e {
			t.mu.Unlock()
			return
		}
		cb := e.callback
		t.removeLocked(responseID)
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (t *ResponseAudioTracker) removeLocked(responseID string) {
	e, ok := t.entries[responseID]
	if !ok {
		return
	}
	if e.safetyTimer != nil {
		e.safetyTimer.Stop()
		e.safetyTimer = nil
	}
	delete(t.entries, responseID)
	for i, id := range t.order {
		if id == responseID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Cancel drops one response's bookkeeping, callback and safety timer
// without firing. Other responses' state is untouched.
func (t *ResponseAudioTracker) Cancel(responseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entries[responseID]; e != nil {
		e.callback = nil
	}
	t.removeLocked(responseID)
}

// CancelPending drops all tracked responses, their callbacks and safety
// timers, without firing anything. A superseded response's completion is
// irrelevant once the user interrupted it.
func (t *ResponseAudioTracker) CancelPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range append([]string(nil), t.order...) {
		e := t.entries[id]
		if e != nil {
			e.callback = nil
		}
		t.removeLocked(id)
	}
}

// CurrentlyPlayingResponseID returns the first response, in insertion
// order, that still has unsent packets.
func (t *ResponseAudioTracker) CurrentlyPlayingResponseID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		e := t.entries[id]
		if e != nil && e.packetsSent < e.packetsQueued {
			return id, true
		}
	}
	return "", false
}

// PlaybackPositionMs reports how much of a response the far end has
// actually heard.
func (t *ResponseAudioTracker) PlaybackPositionMs(responseID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[responseID]
	if !ok {
		return 0
	}
	return e.packetsSent * PacketIntervalMs
}
