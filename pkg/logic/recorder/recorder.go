package recorder

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SampleSink receives interleaved stereo frames. The WAV writer in
// internal/protocol/wav satisfies it.
type SampleSink interface {
	WriteSamples(samples []int16) error
	Close() error
}

// Options tunes the recorder; zero values use the shipped defaults
// (20 ms cadence at 24 kHz).
type Options struct {
	Interval   time.Duration
	SampleRate int
}

// StereoRecorder merges two asynchronously-arriving PCM streams into one
// synchronized stereo timeline: left = caller audio as received, right =
// AI audio as actually transmitted. It runs its own fixed-cadence timer,
// decoupled from the RTP pacing loop, because the two streams arrive on
// unrelated schedules.
//
// Recording what was transmitted (not what was queued) means an
// interruption shows up as silence on the right channel — the recording
// matches what the caller actually heard.
type StereoRecorder struct {
	log            *zap.Logger
	sink           SampleSink
	interval       time.Duration
	samplesPerTick int

	caller *ChunkQueue
	ai     *ChunkQueue

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewStereoRecorder(sink SampleSink, opts Options, log *zap.Logger) *StereoRecorder {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Millisecond
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	return &StereoRecorder{
		log:            log,
		sink:           sink,
		interval:       opts.Interval,
		samplesPerTick: opts.SampleRate * int(opts.Interval.Milliseconds()) / 1000,
		caller:         NewChunkQueue(),
		ai:             NewChunkQueue(),
	}
}

// PushCaller queues inbound caller audio (already at the recording rate).
func (r *StereoRecorder) PushCaller(pcm []int16) {
	r.caller.Push(pcm)
}

// PushAI queues the exact PCM that was handed to the codec encoder at
// send time, resampled to the recording rate by the caller.
func (r *StereoRecorder) PushAI(pcm []int16) {
	r.ai.Push(pcm)
}

// Start launches the recording loop. Idempotent.
func (r *StereoRecorder) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	stopCh, done := r.stopCh, r.done
	r.mu.Unlock()

	go r.run(stopCh, done)
}

// run writes one stereo frame per interval with drift-corrected timing.
// A slow sink write pushes the deadline into the past, which the loop
// answers with immediate catch-up ticks — frames are delayed, never
// dropped, and the push side is never blocked.
func (r *StereoRecorder) run(stopCh chan struct{}, done chan struct{}) {
	defer close(done)

	next := time.Now().Add(r.interval)
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		r.writeFrame()

		next = next.Add(r.interval)
		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}
}

func (r *StereoRecorder) writeFrame() {
	left := r.caller.Pull(r.samplesPerTick)
	right := r.ai.Pull(r.samplesPerTick)

	frame := make([]int16, 2*r.samplesPerTick)
	for i := 0; i < r.samplesPerTick; i++ {
		frame[2*i] = left[i]
		frame[2*i+1] = right[i]
	}

	if err := r.sink.WriteSamples(frame); err != nil {
		r.log.Error("recorder write failed", zap.Error(err))
	}
}

// Stop halts the loop, drains whatever is still queued (the shorter
// channel is padded with silence rather than cut mid-frame), and closes
// the sink.
func (r *StereoRecorder) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	stopCh, done := r.stopCh, r.done
	r.mu.Unlock()

	close(stopCh)
	<-done

	for r.caller.Len() > 0 || r.ai.Len() > 0 {
		r.writeFrame()
	}

	if err := r.sink.Close(); err != nil {
		r.log.Error("recorder close failed", zap.Error(err))
	}
}
