package track

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TranscriptTracker correlates two independently-timed streams per
// response: text deltas arrive in generation order (faster than real
// time) while audio is metered out in real time. Each audio segment
// remembers the last text index known when it was produced, so a
// barge-in can be truncated to exactly what was audibly spoken.
type TranscriptTracker struct {
	log *zap.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*responseTranscript
}

type audioSegment struct {
	durationMs         float64
	cumulativeEndMs    float64
	textIndexAtArrival int // last text delta index when this chunk was produced
}

type responseTranscript struct {
	textDeltas   []string
	segments     []audioSegment // append-only, sorted by cumulativeEndMs
	totalAudioMs float64
}

// maxBoundarySnap bounds how far proportional truncation may walk back
// looking for a sentence/word boundary; snapping further would destroy
// short truncations.
const maxBoundarySnap = 20

func NewTranscriptTracker(log *zap.Logger) *TranscriptTracker {
	return &TranscriptTracker{
		log:     log,
		entries: make(map[string]*responseTranscript),
	}
}

func (t *TranscriptTracker) ensureLocked(responseID string) *responseTranscript {
	e, ok := t.entries[responseID]
	if !ok {
		e = &responseTranscript{}
		t.entries[responseID] = e
		t.order = append(t.order, responseID)
	}
	return e
}

// StartResponse begins tracking a new utterance.
func (t *TranscriptTracker) StartResponse(responseID string) {
	t.mu.Lock()
	t.ensureLocked(responseID)
	t.mu.Unlock()
}

// OnTextDelta appends a text fragment in arrival order.
func (t *TranscriptTracker) OnTextDelta(responseID, text string) {
	t.mu.Lock()
	e := t.ensureLocked(responseID)
	e.textDeltas = append(e.textDeltas, text)
	t.mu.Unlock()
}

// OnAudioDelta records an audio chunk's duration, computed from its byte
// length and sample rate (16-bit mono PCM). Empty chunks are ignored
// entirely: they carry no duration and must not move the correlation
// bookkeeping.
func (t *TranscriptTracker) OnAudioDelta(responseID string, byteLen, sampleRate int) {
	if byteLen <= 0 || sampleRate <= 0 {
		return
	}
	samples := float64(byteLen) / 2
	ms := samples / float64(sampleRate) * 1000

	t.mu.Lock()
	e := t.ensureLocked(responseID)
	e.totalAudioMs += ms
	e.segments = append(e.segments, audioSegment{
		durationMs:         ms,
		cumulativeEndMs:    e.totalAudioMs,
		textIndexAtArrival: len(e.textDeltas) - 1,
	})
	t.mu.Unlock()
}

// HasAudio reports whether the response produced any audio. Text-only
// responses can be logged immediately; audible ones wait for playback.
func (t *TranscriptTracker) HasAudio(responseID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[responseID]
	return ok && e.totalAudioMs > 0
}

// FullTranscript joins every text delta received for the response.
func (t *TranscriptTracker) FullTranscript(responseID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[responseID]
	if !ok {
		return ""
	}
	return strings.Join(e.textDeltas, "")
}

// TruncateAt returns the text that corresponds to playedMs of delivered
// audio. With no audio at all the full transcript is returned — nothing
// was ever played, so there is nothing to correlate against.
func (t *TranscriptTracker) TruncateAt(responseID string, playedMs float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[responseID]
	if !ok {
		return ""
	}
	return t.truncateLocked(e, playedMs)
}

func (t *TranscriptTracker) truncateLocked(e *responseTranscript, playedMs float64) string {
	full := strings.Join(e.textDeltas, "")
	if e.totalAudioMs == 0 {
		return full
	}

	for _, seg := range e.segments {
		if seg.cumulativeEndMs >= playedMs {
			if seg.textIndexAtArrival < 0 {
				return ""
			}
			limit := seg.textIndexAtArrival + 1
			if limit > len(e.textDeltas) {
				limit = len(e.textDeltas)
			}
			return strings.Join(e.textDeltas[:limit], "")
		}
	}

	// playedMs beyond the last segment: fall back to proportional
	// truncation with a bounded snap to the nearest boundary.
	fraction := playedMs / e.totalAudioMs
	if fraction > 1 {
		fraction = 1
	}
	runes := []rune(full)
	cut := int(float64(len(runes)) * fraction)
	if cut >= len(runes) {
		return full
	}
	return string(runes[:snapToBoundary(runes, cut)])
}

// snapToBoundary walks backwards from cut to the nearest sentence or word
// boundary, unless that walk exceeds maxBoundarySnap characters.
func snapToBoundary(runes []rune, cut int) int {
	for i := cut; i > 0 && cut-i <= maxBoundarySnap; i-- {
		switch runes[i-1] {
		case '.', '!', '?', ',', ' ':
			return i
		}
	}
	return cut
}

// TruncatedWithPlanned returns both the spoken prefix and the planned
// suffix that was generated but never voiced. The planned part is for
// diagnostics only and must never be logged as conversation transcript.
func (t *TranscriptTracker) TruncatedWithPlanned(responseID string, playedMs float64) (spoken, planned string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[responseID]
	if !ok {
		return "", ""
	}
	spoken = t.truncateLocked(e, playedMs)
	full := strings.Join(e.textDeltas, "")
	fullRunes := []rune(full)
	spokenLen := len([]rune(spoken))
	if spokenLen < len(fullRunes) {
		planned = string(fullRunes[spokenLen:])
	}
	return spoken, planned
}

// Cleanup drops a response after its transcript has been logged or the
// response was fully superseded.
func (t *TranscriptTracker) Cleanup(responseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[responseID]; !ok {
		return
	}
	delete(t.entries, responseID)
	for i, id := range t.order {
		if id == responseID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// TrackedResponses returns response ids in insertion order. Used by the
// barge-in fallback that scans for the first response with audio when no
// playing id is known.
func (t *TranscriptTracker) TrackedResponses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}
