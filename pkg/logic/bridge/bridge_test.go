package bridge

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"siplink/internal/protocol/wav"
	"siplink/pkg/logic/codec"
	"siplink/pkg/logic/jitter"
	"siplink/pkg/logic/rtpio"
)

type transmitLog struct {
	mu      sync.Mutex
	entries []jitter.Entry
}

func (l *transmitLog) hook(e jitter.Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *transmitLog) snapshot() []jitter.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]jitter.Entry(nil), l.entries...)
}

func newTestBridge(t *testing.T, cfg Config, cb Callbacks) (*AudioBridge, *transmitLog) {
	t.Helper()
	if cfg.LocalHost == "" {
		cfg.LocalHost = "127.0.0.1"
	}
	tl := &transmitLog{}
	b := NewAudioBridge(cfg, codec.NewRegistry(zap.NewNop()), cb, zap.NewNop())
	b.onTransmit = tl.hook

	_, err := b.Start()
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b, tl
}

// One 30 ms chunk through a PCMA call becomes exactly three 10 ms
// packets with consecutive sequence numbers and timestamps 80 apart.
func TestSendAudioPacketizesPCMA(t *testing.T) {
	b, tl := newTestBridge(t, Config{
		AISampleRate: 8000, // codec-native input, no resampling in play
	}, Callbacks{})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMA))

	pcm := make([]int16, 240)
	for i := range pcm {
		pcm[i] = 1000
	}
	b.SendAudio(pcm, "r1")

	// All three fit in the initial burst, so they are already out.
	entries := tl.snapshot()
	require.Len(t, entries, 3)

	var prevSeq uint16
	var prevTS uint32
	for i, e := range entries {
		assert.Equal(t, "r1", e.ResponseID)
		assert.False(t, e.Silence)

		header, payload, err := rtpio.ParsePacket(e.RTPPacket)
		require.NoError(t, err)
		assert.Equal(t, codec.PayloadTypePCMA, header.PayloadType)
		assert.Len(t, payload, 80)

		if i > 0 {
			assert.Equal(t, prevSeq+1, header.SequenceNumber)
			assert.Equal(t, prevTS+80, header.Timestamp)
		}
		prevSeq, prevTS = header.SequenceNumber, header.Timestamp
	}

	// Packet accounting advanced with the sends.
	assert.Equal(t, uint64(30), b.PlaybackPositionMs("r1"))
}

func TestSendAudioBuffersSubPacketRemainder(t *testing.T) {
	b, tl := newTestBridge(t, Config{AISampleRate: 8000}, Callbacks{})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	b.SendAudio(make([]int16, 100), "r1") // 1 packet + 20 samples held back
	assert.Len(t, tl.snapshot(), 1)

	b.SendAudio(make([]int16, 60), "r1") // remainder completes a packet
	// The burst already happened, so this one waits in the queue.
	assert.Len(t, tl.snapshot(), 1)
	assert.Equal(t, 1, b.QueueDepth())
}

func TestSendAudioWithoutCodecIsDropped(t *testing.T) {
	b, tl := newTestBridge(t, Config{AISampleRate: 8000}, Callbacks{})

	b.SendAudio(make([]int16, 240), "r1")
	assert.Empty(t, tl.snapshot())
}

func TestSetNegotiatedCodecUnsupported(t *testing.T) {
	b, _ := newTestBridge(t, Config{}, Callbacks{})
	assert.Error(t, b.SetNegotiatedCodec(42))
}

func TestClearAudioBufferDropsRemainder(t *testing.T) {
	b, tl := newTestBridge(t, Config{AISampleRate: 8000}, Callbacks{})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	b.SendAudio(make([]int16, 100), "r1")
	b.ClearAudioBuffer()

	// The held-back 20 samples are gone; a 60-sample delivery no longer
	// completes a packet (it becomes the new remainder).
	b.SendAudio(make([]int16, 60), "r2")
	assert.Len(t, tl.snapshot(), 1)
}

// An interruption drops the queued packets but never rewrites history:
// the recording's AI channel holds exactly the audio that went out on the
// wire before the clear, followed by silence — not the discarded tail.
func TestInterruptionKeepsRecorderTimeline(t *testing.T) {
	recording := filepath.Join(t.TempDir(), "call.wav")
	b, tl := newTestBridge(t, Config{
		AISampleRate:     8000, // codec-native, recorder sees transmitted PCM verbatim
		RecordingFile:    recording,
		RecorderInterval: time.Millisecond,
		Jitter: jitter.Config{
			Interval:             10 * time.Millisecond,
			InitialBufferPackets: 2,
			BurstPackets:         2,
		},
	}, Callbacks{})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	pcm := make([]int16, 800) // ten 10 ms packets
	for i := range pcm {
		pcm[i] = 1000
	}
	b.SendAudio(pcm, "r1")

	countReal := func() int {
		n := 0
		for _, e := range tl.snapshot() {
			if !e.Silence {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool { return countReal() >= 4 },
		time.Second, time.Millisecond)

	b.ClearAudioBuffer()
	b.Stop() // drains the recorder and finalizes the file

	sent := countReal()
	require.Less(t, sent, 10, "clear happened after all packets left")

	f, err := os.Open(recording)
	require.NoError(t, err)
	defer f.Close()
	r, err := wav.NewReader(f)
	require.NoError(t, err)
	require.Equal(t, uint16(2), r.GetFormat().NumChannels)

	samples := make([]int16, r.GetDataSize()/2)
	_, err = r.ReadSamples(samples)
	require.NoError(t, err)

	var right int
	for i := 0; i+1 < len(samples); i += 2 {
		assert.Zero(t, samples[i], "caller channel should be empty")
		if samples[i+1] != 0 {
			right++
		}
	}
	// 80 samples per transmitted packet; the dropped tail left no trace.
	assert.Equal(t, sent*80, right)
}

// Silence injected on underrun keeps the RTP stream alive but must not
// count as played audio.
func TestSilenceDoesNotAdvancePlaybackPosition(t *testing.T) {
	b, tl := newTestBridge(t, Config{
		AISampleRate: 8000,
		Jitter: jitter.Config{
			Interval:             2 * time.Millisecond,
			InitialBufferPackets: 1,
			BurstPackets:         1,
		},
	}, Callbacks{})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	b.SendAudio(make([]int16, 160), "r1") // two packets, then underrun

	require.Eventually(t, func() bool {
		for _, e := range tl.snapshot() {
			if e.Silence {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	assert.Equal(t, uint64(20), b.PlaybackPositionMs("r1"))

	// Position stays pinned while silence keeps flowing.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, uint64(20), b.PlaybackPositionMs("r1"))
}

// Inbound silence after audio has flowed fires the timeout exactly once,
// not once per elapsed interval.
func TestRTPInactivityTimeoutFiresOnce(t *testing.T) {
	var received, timeouts atomic.Int32
	b, _ := newTestBridge(t, Config{
		AISampleRate:  8000,
		RTPInactivity: 30 * time.Millisecond,
	}, Callbacks{
		OnAudioReceived: func(pcm []int16) { received.Add(1) },
		OnRTPTimeout:    func() { timeouts.Add(1) },
	})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(b.LocalPort())))
	require.NoError(t, err)
	defer conn.Close()

	pkt, err := rtpio.BuildPacket(make([]byte, 80), 0, codec.PayloadTypePCMU, false, 1, 0x1234)
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return received.Load() >= 1 },
		time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return timeouts.Load() == 1 },
		time.Second, time.Millisecond)

	// No repeats while silence continues.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), timeouts.Load())
}

func TestMismatchedPayloadTypeDropped(t *testing.T) {
	var received atomic.Int32
	b, _ := newTestBridge(t, Config{AISampleRate: 8000}, Callbacks{
		OnAudioReceived: func(pcm []int16) { received.Add(1) },
	})
	require.NoError(t, b.SetNegotiatedCodec(codec.PayloadTypePCMU))

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(b.LocalPort())))
	require.NoError(t, err)
	defer conn.Close()

	wrong, err := rtpio.BuildPacket(make([]byte, 80), 0, codec.PayloadTypePCMA, false, 1, 0x1234)
	require.NoError(t, err)
	_, err = conn.Write(wrong)
	require.NoError(t, err)

	right, err := rtpio.BuildPacket(make([]byte, 80), 80, codec.PayloadTypePCMU, false, 2, 0x1234)
	require.NoError(t, err)
	_, err = conn.Write(right)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return received.Load() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestStartIsIdempotent(t *testing.T) {
	b, _ := newTestBridge(t, Config{}, Callbacks{})
	port := b.LocalPort()

	again, err := b.Start()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}
