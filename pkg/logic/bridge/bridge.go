// Package bridge owns the RTP/UDP endpoint of one call and wires the
// codec, resampler, jitter scheduler, response tracker and recorder into
// the bidirectional audio path between the telephone leg and the
// realtime AI service.
package bridge

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"siplink/internal/protocol/wav"
	"siplink/pkg/logic/codec"
	"siplink/pkg/logic/jitter"
	"siplink/pkg/logic/recorder"
	"siplink/pkg/logic/resampler"
	"siplink/pkg/logic/rtpio"
	"siplink/pkg/logic/track"
)

const packetIntervalMs = 10

// Config is the fully resolved per-call configuration. The safety
// deadlines default to the shipped tuning but stay overridable because
// they are network-dependent, not derived.
type Config struct {
	LocalHost string
	LocalPort int // 0 = OS assigned

	// AISampleRate is the PCM rate of the AI service side, fixed at
	// 24000 in production.
	AISampleRate int

	// RecordingFile enables the stereo call recording when non-empty.
	RecordingFile string

	Jitter  jitter.Config
	Tracker track.AudioTrackerConfig

	RTPInactivity    time.Duration // default 2 s
	NATProbeDelay    time.Duration // default 500 ms
	RecorderInterval time.Duration // default 20 ms
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AISampleRate <= 0 {
		out.AISampleRate = 24000
	}
	if out.RTPInactivity <= 0 {
		out.RTPInactivity = 2 * time.Second
	}
	if out.NATProbeDelay <= 0 {
		out.NATProbeDelay = 500 * time.Millisecond
	}
	return out
}

// Callbacks are the bridge's outward-facing events. OnAudioReceived
// delivers caller audio resampled to the AI rate; OnRTPTimeout fires
// once per silence episode after inbound audio stops — the primary
// signal for detecting a hangup that never sent BYE.
type Callbacks struct {
	OnAudioReceived func(pcm []int16)
	OnRTPTimeout    func()
}

// AudioBridge bridges one call. All UDP writes flow through the jitter
// scheduler's transmit path so packet ordering (and therefore RTP
// timestamp monotonicity) is preserved.
type AudioBridge struct {
	cfg      Config
	log      *zap.Logger
	registry *codec.Registry
	cb       Callbacks

	tracker *track.ResponseAudioTracker
	sched   *jitter.Scheduler

	mu               sync.Mutex
	active           bool
	conn             *net.UDPConn
	remote           *net.UDPAddr
	codec            codec.Codec
	stream           *rtpio.Stream
	samplesPerPacket int
	pcmRemainder     []int16
	rec              *recorder.StereoRecorder
	hasReceivedAudio bool
	timedOut         bool
	inactivityTimer  *time.Timer
	natProbeTimer    *time.Timer
	readDone         chan struct{}

	// onTransmit observes every transmitted entry; used by tests.
	onTransmit func(jitter.Entry)
}

func NewAudioBridge(cfg Config, registry *codec.Registry, cb Callbacks, log *zap.Logger) *AudioBridge {
	b := &AudioBridge{
		cfg:      cfg.withDefaults(),
		log:      log,
		registry: registry,
		cb:       cb,
	}
	b.tracker = track.NewResponseAudioTracker(b.cfg.Tracker, log)
	b.sched = jitter.NewScheduler(b.cfg.Jitter, b.transmit, b.silencePacket, log)
	return b
}

// Start binds the UDP endpoint, arms the inbound listener and starts the
// recorder when recording is enabled. Idempotent: calling it on an
// active bridge returns the bound port again. A bind failure is fatal
// for the call and leaves no partial state behind.
func (b *AudioBridge) Start() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		return b.conn.LocalAddr().(*net.UDPAddr).Port, nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.ParseIP(b.cfg.LocalHost),
		Port: b.cfg.LocalPort,
	})
	if err != nil {
		return 0, fmt.Errorf("bind rtp socket: %w", err)
	}

	if b.cfg.RecordingFile != "" {
		writer, err := wav.NewFileWriter(b.cfg.RecordingFile, wav.StereoFormat(uint32(b.cfg.AISampleRate)))
		if err != nil {
			conn.Close()
			return 0, fmt.Errorf("open recording file: %w", err)
		}
		b.rec = recorder.NewStereoRecorder(writer, recorder.Options{
			Interval:   b.cfg.RecorderInterval,
			SampleRate: b.cfg.AISampleRate,
		}, b.log)
		b.rec.Start()
	}

	b.conn = conn
	b.active = true
	b.readDone = make(chan struct{})
	go b.readLoop(conn, b.readDone)

	port := conn.LocalAddr().(*net.UDPAddr).Port
	b.log.Info("audio bridge started", zap.Int("rtp_port", port))
	return port, nil
}

// Stop tears down the socket, the pacing loop and the recorder, in that
// order, and cancels all pending bookkeeping unconditionally.
func (b *AudioBridge) Stop() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	conn, readDone := b.conn, b.readDone
	rec := b.rec
	b.rec = nil
	if b.inactivityTimer != nil {
		b.inactivityTimer.Stop()
		b.inactivityTimer = nil
	}
	if b.natProbeTimer != nil {
		b.natProbeTimer.Stop()
		b.natProbeTimer = nil
	}
	b.mu.Unlock()

	conn.Close()
	<-readDone

	b.sched.Stop()
	b.tracker.CancelPending()

	if rec != nil {
		rec.Stop()
	}
	b.log.Info("audio bridge stopped")
}

// LocalPort returns the bound RTP port; the SIP side needs it before the
// SDP answer is built.
func (b *AudioBridge) LocalPort() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return 0
	}
	return b.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetNegotiatedCodec selects the codec by RTP payload type. An
// unsupported type leaves audio processing disabled: the error is logged
// and returned, but never crashes the call.
func (b *AudioBridge) SetNegotiatedCodec(payloadType uint8) error {
	c, ok := b.registry.Get(payloadType)
	if !ok {
		b.log.Error("negotiated codec unsupported, audio disabled",
			zap.Uint8("payload_type", payloadType))
		return fmt.Errorf("unsupported payload type: %d", payloadType)
	}

	b.mu.Lock()
	b.codec = c
	b.samplesPerPacket = codec.SamplesPerPacket(c, packetIntervalMs)
	b.stream = rtpio.NewStream(rtpio.DefaultSSRC, b.samplesPerPacket, c.ClockRate(), c.SampleRate())
	b.mu.Unlock()

	b.log.Info("codec negotiated",
		zap.String("codec", c.Name()),
		zap.Int("sample_rate", c.SampleRate()),
		zap.Int("clock_rate", c.ClockRate()))
	return nil
}

// SetRemoteEndpoint records where to send RTP and schedules a one-shot
// NAT-opening probe: a minimal packet sent after a short delay, only if
// no inbound audio has been seen yet. Purely a traversal aid.
func (b *AudioBridge) SetRemoteEndpoint(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("resolve remote endpoint: %w", err)
	}

	b.mu.Lock()
	b.remote = addr
	if b.natProbeTimer != nil {
		b.natProbeTimer.Stop()
	}
	b.natProbeTimer = time.AfterFunc(b.cfg.NATProbeDelay, b.natProbe)
	b.mu.Unlock()

	b.log.Info("remote rtp endpoint set", zap.String("addr", addr.String()))
	return nil
}

func (b *AudioBridge) natProbe() {
	b.mu.Lock()
	if !b.active || b.hasReceivedAudio || b.remote == nil {
		b.mu.Unlock()
		return
	}
	conn, remote := b.conn, b.remote
	b.mu.Unlock()

	probe, err := rtpio.BuildPacket(nil, 0, 0, false, 0, rtpio.DefaultSSRC)
	if err != nil {
		return
	}
	if _, err := conn.WriteToUDP(probe, remote); err != nil {
		b.log.Debug("nat probe send failed", zap.Error(err))
	}
}

// SendAudio takes AI-generated PCM at the AI rate, converts it to the
// negotiated codec's domain, slices it into 10 ms packets and hands them
// to the jitter scheduler, counting them against responseID. A trailing
// sub-packet remainder is buffered for the next delivery.
func (b *AudioBridge) SendAudio(pcm []int16, responseID string) {
	b.mu.Lock()
	c := b.codec
	if !b.active || c == nil {
		b.mu.Unlock()
		b.log.Warn("send audio dropped: bridge inactive or no codec negotiated",
			zap.String("response_id", responseID))
		return
	}

	native := resampler.Resample(pcm, b.cfg.AISampleRate, c.SampleRate())
	buf := append(b.pcmRemainder, native...)

	spp := b.samplesPerPacket
	var entries []jitter.Entry
	for len(buf) >= spp {
		chunk := buf[:spp]
		buf = buf[spp:]

		payload := c.Encode(chunk)
		pkt, err := b.stream.NextPacket(payload, c.PayloadType(), false)
		if err != nil {
			b.log.Error("rtp packet build failed", zap.Error(err))
			continue
		}
		src := make([]int16, spp)
		copy(src, chunk)
		entries = append(entries, jitter.Entry{
			RTPPacket:  pkt,
			SourcePCM:  src,
			ResponseID: responseID,
		})
	}
	b.pcmRemainder = append([]int16(nil), buf...)
	b.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	b.tracker.OnAudioQueued(responseID, len(entries))
	b.sched.Enqueue(entries)
}

// transmit runs on the scheduler's pacing goroutine (or its burst path,
// serialized with it). Packet-sent accounting happens here, in the same
// tick that performs the send, so playback-position queries never go
// stale. Send errors are logged and dropped: RTP is loss-tolerant and
// the loop must keep its cadence.
func (b *AudioBridge) transmit(e jitter.Entry) {
	b.mu.Lock()
	conn, remote := b.conn, b.remote
	c := b.codec
	rec := b.rec
	hook := b.onTransmit
	b.mu.Unlock()

	if conn != nil && remote != nil {
		if _, err := conn.WriteToUDP(e.RTPPacket, remote); err != nil {
			b.log.Warn("rtp send failed", zap.Error(err))
		}
	}

	if rec != nil && c != nil {
		rec.PushAI(resampler.Resample(e.SourcePCM, c.SampleRate(), b.cfg.AISampleRate))
	}

	if !e.Silence {
		b.tracker.OnPacketSent()
	}

	if hook != nil {
		hook(e)
	}
}

// silencePacket synthesizes one zero-filled packet in the negotiated
// codec so the outbound RTP stream never pauses.
func (b *AudioBridge) silencePacket() (jitter.Entry, bool) {
	b.mu.Lock()
	c := b.codec
	spp := b.samplesPerPacket
	stream := b.stream
	b.mu.Unlock()

	if c == nil || stream == nil {
		return jitter.Entry{}, false
	}

	zeros := make([]int16, spp)
	pkt, err := stream.NextPacket(c.Encode(zeros), c.PayloadType(), false)
	if err != nil {
		return jitter.Entry{}, false
	}
	return jitter.Entry{RTPPacket: pkt, SourcePCM: zeros, Silence: true}, true
}

func (b *AudioBridge) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed on Stop
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		b.handleIncoming(pkt, addr)
	}
}

func (b *AudioBridge) handleIncoming(pkt []byte, addr *net.UDPAddr) {
	header, payload, err := rtpio.ParsePacket(pkt)
	if err != nil {
		b.log.Warn("malformed rtp packet dropped",
			zap.String("from", addr.String()),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	c := b.codec
	rec := b.rec
	b.mu.Unlock()

	if c == nil {
		return
	}
	if header.PayloadType != c.PayloadType() {
		if header.PayloadType == codec.PayloadTypeDTMF {
			// telephone-event packets are declared in SDP but not
			// decoded here.
			return
		}
		b.log.Warn("rtp payload type mismatch, packet dropped",
			zap.Uint8("got", header.PayloadType),
			zap.Uint8("want", c.PayloadType()))
		return
	}

	b.touchInactivity()

	pcm := c.Decode(payload)
	if len(pcm) == 0 {
		return
	}
	pcm24 := resampler.Resample(pcm, c.SampleRate(), b.cfg.AISampleRate)

	if rec != nil {
		rec.PushCaller(pcm24)
	}
	if b.cb.OnAudioReceived != nil {
		b.cb.OnAudioReceived(pcm24)
	}
}

// touchInactivity re-arms the RTP inactivity deadline. Once it elapses
// after audio has flowed, OnRTPTimeout fires exactly once; the flag
// resets when audio resumes.
func (b *AudioBridge) touchInactivity() {
	b.mu.Lock()
	b.hasReceivedAudio = true
	b.timedOut = false
	if b.inactivityTimer == nil {
		b.inactivityTimer = time.AfterFunc(b.cfg.RTPInactivity, b.inactivityElapsed)
	} else {
		b.inactivityTimer.Reset(b.cfg.RTPInactivity)
	}
	b.mu.Unlock()
}

func (b *AudioBridge) inactivityElapsed() {
	b.mu.Lock()
	fire := b.active && b.hasReceivedAudio && !b.timedOut
	if fire {
		b.timedOut = true
	}
	b.mu.Unlock()

	if fire {
		b.log.Warn("rtp inactivity deadline elapsed")
		if b.cb.OnRTPTimeout != nil {
			b.cb.OnRTPTimeout()
		}
	}
}

// ClearAudioBuffer is the interruption path: pending packets are
// dropped and the burst flag resets, but the recorder's queues stay
// untouched — the recording keeps an accurate timeline of the
// interruption itself.
func (b *AudioBridge) ClearAudioBuffer() {
	b.mu.Lock()
	b.pcmRemainder = nil
	b.mu.Unlock()
	b.sched.Clear()
}

// NotifyWhenResponseComplete registers a playback-complete callback for
// a response.
func (b *AudioBridge) NotifyWhenResponseComplete(responseID string, callback func()) {
	b.tracker.NotifyWhenComplete(responseID, callback)
}

// CancelResponseTracking drops one response's accounting and callback
// without firing; used on interruption so other responses' bookkeeping
// survives.
func (b *AudioBridge) CancelResponseTracking(responseID string) {
	b.tracker.Cancel(responseID)
}

// CancelPendingCallbacks drops all completion callbacks without firing.
// Full-teardown path only.
func (b *AudioBridge) CancelPendingCallbacks() {
	b.tracker.CancelPending()
}

// PlayingResponseID returns the response currently being played out.
func (b *AudioBridge) PlayingResponseID() (string, bool) {
	return b.tracker.CurrentlyPlayingResponseID()
}

// PlaybackPositionMs returns how many milliseconds of the response the
// far end has actually heard.
func (b *AudioBridge) PlaybackPositionMs(responseID string) uint64 {
	return b.tracker.PlaybackPositionMs(responseID)
}

// QueueDepth reports the number of packets waiting in the jitter buffer.
func (b *AudioBridge) QueueDepth() int {
	return b.sched.Depth()
}

// BufferThreshold reports the current dynamic pre-buffer size.
func (b *AudioBridge) BufferThreshold() int {
	return b.sched.BufferThreshold()
}

// CodecName returns the negotiated codec's name, or "" before negotiation.
func (b *AudioBridge) CodecName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codec == nil {
		return ""
	}
	return b.codec.Name()
}
