package jitter

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the pacing machine. Packets accumulate in Buffering until the
// pre-buffer threshold is reached, then the 10 ms loop runs until Stop.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBuffering:
		return "Buffering"
	case StateStreaming:
		return "Streaming"
	default:
		return "Unknown"
	}
}

// Entry is one paced outbound packet. SourcePCM is the exact PCM handed
// to the encoder, carried along so the recorder logs what actually left
// the wire rather than what was requested.
type Entry struct {
	RTPPacket  []byte
	SourcePCM  []int16
	ResponseID string
	Silence    bool
}

// Config tunes the scheduler. Zero values fall back to the defaults the
// system shipped with.
type Config struct {
	Interval             time.Duration // pacing cadence, default 10 ms
	InitialBufferPackets int           // default 30 (300 ms)
	MaxBufferPackets     int           // default 50
	BurstPackets         int           // default 5
	GapThreshold         time.Duration // default 500 ms
	GapsPerGrowth        int           // default 3
	GrowthStep           int           // default 5
	ShrinkStep           int           // default 10
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Interval <= 0 {
		out.Interval = 10 * time.Millisecond
	}
	if out.InitialBufferPackets <= 0 {
		out.InitialBufferPackets = 30
	}
	if out.MaxBufferPackets <= 0 {
		out.MaxBufferPackets = 50
	}
	if out.BurstPackets <= 0 {
		out.BurstPackets = 5
	}
	if out.GapThreshold <= 0 {
		out.GapThreshold = 500 * time.Millisecond
	}
	if out.GapsPerGrowth <= 0 {
		out.GapsPerGrowth = 3
	}
	if out.GrowthStep <= 0 {
		out.GrowthStep = 5
	}
	if out.ShrinkStep <= 0 {
		out.ShrinkStep = 10
	}
	return out
}

// TransmitFunc puts one entry on the wire. It runs on the pacing
// goroutine (or inline during the initial burst, serialized with it), so
// packet-sent accounting done inside stays ordered with the tick that
// sent the packet. Errors are the callee's to log; the loop never stops.
type TransmitFunc func(Entry)

// SilenceFunc synthesizes one zero-filled packet in the negotiated codec,
// keeping the RTP stream continuous while the queue is starved. Far-end
// jitter buffers rely on steady arrival, so this is not optional.
// Returns false when no codec is negotiated yet.
type SilenceFunc func() (Entry, bool)

// Scheduler dequeues pre-encoded RTP packets at a fixed cadence with
// drift-corrected timing, injecting silence on underrun.
type Scheduler struct {
	cfg      Config
	log      *zap.Logger
	transmit TransmitFunc
	silence  SilenceFunc

	mu                sync.Mutex
	state             State
	queue             []Entry
	dynamicBufferSize int
	gapCount          int
	lastEnqueue       time.Time
	burstDone         bool
	stopCh            chan struct{}
	loopDone          chan struct{}

	// sendMu makes dequeue+transmit atomic in both the burst path and
	// the pacing tick; packets must hit the wire in queue order or the
	// RTP sequence/timestamp stream goes backwards.
	sendMu sync.Mutex
}

func NewScheduler(cfg Config, transmit TransmitFunc, silence SilenceFunc, log *zap.Logger) *Scheduler {
	c := cfg.withDefaults()
	return &Scheduler{
		cfg:               c,
		log:               log,
		transmit:          transmit,
		silence:           silence,
		state:             StateIdle,
		dynamicBufferSize: c.InitialBufferPackets,
	}
}

// Enqueue adds pre-encoded packets. The first audio after start (or after
// an interruption clear) bursts up to BurstPackets immediately to seed
// the far-end jitter buffer; the rest waits for the pacing loop.
func (s *Scheduler) Enqueue(entries []Entry) {
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	now := time.Now()
	if !s.lastEnqueue.IsZero() && now.Sub(s.lastEnqueue) > s.cfg.GapThreshold {
		s.gapCount++
		if s.gapCount%s.cfg.GapsPerGrowth == 0 && s.dynamicBufferSize < s.cfg.MaxBufferPackets {
			s.dynamicBufferSize += s.cfg.GrowthStep
			if s.dynamicBufferSize > s.cfg.MaxBufferPackets {
				s.dynamicBufferSize = s.cfg.MaxBufferPackets
			}
			s.log.Info("jitter buffer grown after delivery gaps",
				zap.Int("gap_count", s.gapCount),
				zap.Int("buffer_packets", s.dynamicBufferSize))
		}
	}
	s.lastEnqueue = now

	s.queue = append(s.queue, entries...)
	needBurst := !s.burstDone
	s.burstDone = true
	s.mu.Unlock()

	if needBurst {
		s.burst()
	}

	s.mu.Lock()
	startLoop := false
	switch s.state {
	case StateIdle:
		s.state = StateBuffering
		fallthrough
	case StateBuffering:
		if len(s.queue) >= s.dynamicBufferSize {
			s.state = StateStreaming
			s.stopCh = make(chan struct{})
			s.loopDone = make(chan struct{})
			startLoop = true
		}
	}
	stopCh, loopDone := s.stopCh, s.loopDone
	s.mu.Unlock()

	if startLoop {
		s.log.Debug("jitter buffer primed, streaming",
			zap.Int("buffer_packets", s.dynamicBufferSize))
		go s.run(stopCh, loopDone)
	}
}

// burst dequeues and transmits up to BurstPackets while holding sendMu,
// so a concurrent pacing tick cannot slip a later-sequence packet onto
// the wire between the dequeue and the send.
func (s *Scheduler) burst() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	n := s.cfg.BurstPackets
	if n > len(s.queue) {
		n = len(s.queue)
	}
	burst := s.queue[:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()

	for _, e := range burst {
		s.transmit(e)
	}
}

// run is the drift-corrected pacing loop: the next deadline accumulates
// in absolute time and each sleep is interval minus observed drift, so
// timer imprecision never skews the cadence cumulatively.
func (s *Scheduler) run(stopCh chan struct{}, done chan struct{}) {
	defer close(done)

	next := time.Now().Add(s.cfg.Interval)
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		s.tick()

		next = next.Add(s.cfg.Interval)
		d := time.Until(next) // interval minus drift
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}
}

// tick holds sendMu across dequeue and transmit; the burst path does the
// same, so outbound packets leave in exactly the order they were queued.
func (s *Scheduler) tick() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	var entry Entry
	var ok bool
	if len(s.queue) > 0 {
		entry, ok = s.queue[0], true
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	if !ok {
		entry, ok = s.silence()
		if !ok {
			return
		}
		entry.Silence = true
	}

	s.transmit(entry)
}

// Clear drops all pending packets on interruption. The burst flag resets
// so the next response seeds the far end again, and the buffer threshold
// shrinks back toward its floor, trading resilience for latency on the
// reply the user is now waiting for. Streaming continues: silence keeps
// the RTP flow alive.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := len(s.queue)
	s.queue = nil
	s.burstDone = false
	s.dynamicBufferSize -= s.cfg.ShrinkStep
	if s.dynamicBufferSize < s.cfg.InitialBufferPackets {
		s.dynamicBufferSize = s.cfg.InitialBufferPackets
	}
	if dropped > 0 {
		s.log.Info("jitter queue cleared",
			zap.Int("dropped_packets", dropped),
			zap.Int("buffer_packets", s.dynamicBufferSize))
	}
}

// Stop halts the pacing loop and empties the queue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh, loopDone := s.stopCh, s.loopDone
	s.stopCh, s.loopDone = nil, nil
	wasStreaming := s.state == StateStreaming
	s.state = StateIdle
	s.queue = nil
	s.burstDone = false
	s.mu.Unlock()

	if wasStreaming && stopCh != nil {
		close(stopCh)
		<-loopDone
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Depth returns the number of queued packets.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// BufferThreshold returns the current dynamic pre-buffer size in packets.
func (s *Scheduler) BufferThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dynamicBufferSize
}

// Pending returns a snapshot of the queued entries.
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.queue))
	copy(out, s.queue)
	return out
}
