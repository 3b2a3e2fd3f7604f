package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"siplink/internal/config"
	"siplink/pkg/logic/aiclient"
	"siplink/pkg/logic/bridge"
	"siplink/pkg/logic/codec"
	"siplink/pkg/logic/events"
	"siplink/pkg/logic/jitter"
	"siplink/pkg/logic/sdp"
	"siplink/pkg/logic/track"
)

// CallSession owns everything one call needs: the audio bridge, the
// realtime AI session and the transcript correlator. It also owns the
// interruption path, which is the only place those three interact.
type CallSession struct {
	id  string
	cfg *config.Config
	log *zap.Logger

	bridge     *bridge.AudioBridge
	ai         *aiclient.Client
	transcript *track.TranscriptTracker

	rtpPort  int
	sdpOffer string

	mu          sync.Mutex
	stopped     bool
	hangupAfter string // response id the AI asked to end the call after

	onEnded  func(id string)
	loopDone chan struct{}
}

// NewCallSession binds the RTP endpoint, connects the realtime session
// and builds the SDP offer. Any failure tears down whatever was already
// started; a half-built session never leaks.
func NewCallSession(id string, cfg *config.Config, registry *codec.Registry, onEnded func(string), log *zap.Logger) (*CallSession, error) {
	log = log.With(zap.String("call_id", id))
	s := &CallSession{
		id:         id,
		cfg:        cfg,
		log:        log,
		transcript: track.NewTranscriptTracker(log),
		onEnded:    onEnded,
		loopDone:   make(chan struct{}),
	}

	recordingFile := ""
	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording dir: %w", err)
		}
		recordingFile = filepath.Join(cfg.Recording.Dir, id+".wav")
	}

	s.bridge = bridge.NewAudioBridge(bridge.Config{
		LocalHost:     cfg.Server.RTPHost,
		LocalPort:     cfg.Server.RTPPort,
		AISampleRate:  cfg.AI.SampleRate,
		RecordingFile: recordingFile,
		Jitter: jitter.Config{
			InitialBufferPackets: cfg.Audio.InitialBufferPackets,
			MaxBufferPackets:     cfg.Audio.MaxBufferPackets,
			BurstPackets:         cfg.Audio.BurstPackets,
		},
		Tracker: track.AudioTrackerConfig{
			SafetyTimeout: time.Duration(cfg.Audio.ResponseCompleteTimeoutMs) * time.Millisecond,
		},
		RTPInactivity: time.Duration(cfg.Audio.RTPInactivityMs) * time.Millisecond,
	}, registry, bridge.Callbacks{
		OnAudioReceived: s.onCallerAudio,
		OnRTPTimeout:    s.onRTPTimeout,
	}, log)

	port, err := s.bridge.Start()
	if err != nil {
		return nil, err
	}
	s.rtpPort = port

	host := cfg.Server.PublicIP
	if host == "" {
		host = cfg.Server.RTPHost
	}
	offer, err := sdp.Offer("siplink", host, port, registry.SupportedPayloadTypes())
	if err != nil {
		s.bridge.Stop()
		return nil, err
	}
	s.sdpOffer = offer

	ai, err := aiclient.Dial(context.Background(), aiclient.Config{
		URL:    cfg.AI.URL,
		APIKey: cfg.AI.APIKey,
		Model:  cfg.AI.Model,
		Voice:  cfg.AI.Voice,
	}, log)
	if err != nil {
		s.bridge.Stop()
		return nil, err
	}
	s.ai = ai

	go s.eventLoop()
	log.Info("call session created", zap.Int("rtp_port", port))
	return s, nil
}

func (s *CallSession) ID() string       { return s.id }
func (s *CallSession) RTPPort() int     { return s.rtpPort }
func (s *CallSession) SDPOffer() string { return s.sdpOffer }

// HandleSIPEvent applies a signaling event from the SIP side. CallAnswered
// carries the negotiated codec and remote RTP endpoint from the SDP
// answer; CallEnded is a remote hangup.
func (s *CallSession) HandleSIPEvent(ev events.SIPEvent) error {
	switch e := ev.(type) {
	case events.CallAnswered:
		if err := s.bridge.SetNegotiatedCodec(e.PayloadType); err != nil {
			return err
		}
		return s.bridge.SetRemoteEndpoint(e.RemoteHost, e.RemotePort)
	case events.CallEnded:
		s.End("remote hangup")
	}
	return nil
}

// onCallerAudio forwards 24 kHz caller PCM to the realtime session.
func (s *CallSession) onCallerAudio(pcm []int16) {
	if err := s.ai.SendAudio(pcm); err != nil {
		s.log.Warn("forwarding caller audio failed", zap.Error(err))
	}
}

// onRTPTimeout treats prolonged inbound silence as an undetected hangup.
func (s *CallSession) onRTPTimeout() {
	s.log.Warn("no inbound rtp, ending call")
	s.End("rtp inactivity")
}

func (s *CallSession) eventLoop() {
	defer close(s.loopDone)

	for ev := range s.ai.Events() {
		switch e := ev.(type) {
		case events.ResponseCreated:
			s.transcript.StartResponse(e.ResponseID)

		case events.TextDelta:
			s.transcript.OnTextDelta(e.ResponseID, e.Text)

		case events.AudioDelta:
			s.transcript.OnAudioDelta(e.ResponseID, len(e.PCM)*2, s.cfg.AI.SampleRate)
			s.bridge.SendAudio(e.PCM, e.ResponseID)

		case events.ResponseDone:
			s.onResponseDone(e.ResponseID)

		case events.UserSpeechStarted:
			s.onInterruption()

		case events.EndCallRequested:
			s.onEndCallRequested(e.ResponseID, e.Reason)
		}
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.log.Warn("realtime session lost, ending call")
		s.End("ai connection lost")
	}
}

// onResponseDone decides when the response's transcript becomes final.
// Audible responses wait for actual playback completion; a response that
// still has no audio after the grace window is text-only and logs
// immediately.
func (s *CallSession) onResponseDone(responseID string) {
	if s.transcript.HasAudio(responseID) {
		s.bridge.NotifyWhenResponseComplete(responseID, func() {
			s.finishResponse(responseID)
		})
		return
	}

	grace := time.Duration(s.cfg.Audio.NoAudioGraceMs) * time.Millisecond
	time.AfterFunc(grace, func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if s.transcript.HasAudio(responseID) {
			s.bridge.NotifyWhenResponseComplete(responseID, func() {
				s.finishResponse(responseID)
			})
			return
		}
		s.finishResponse(responseID)
	})
}

// finishResponse logs the final transcript, releases the correlation
// state and performs a deferred hangup if the AI asked for one.
func (s *CallSession) finishResponse(responseID string) {
	text := s.transcript.FullTranscript(responseID)
	if text != "" {
		s.log.Info("assistant said",
			zap.String("response_id", responseID),
			zap.String("text", text))
	}
	s.transcript.Cleanup(responseID)

	s.mu.Lock()
	hangup := s.hangupAfter != "" && s.hangupAfter == responseID
	if hangup {
		s.hangupAfter = ""
	}
	s.mu.Unlock()
	if hangup {
		s.End("ai requested hangup")
	}
}

// onInterruption is the barge-in path: figure out what the caller
// actually heard, truncate the transcript to it, flush the outbound
// queue and tell the service to do the same on its side.
func (s *CallSession) onInterruption() {
	responseID, ok := s.bridge.PlayingResponseID()
	if !ok {
		// Playback may have just drained; fall back to the first
		// tracked response that produced audio.
		for _, id := range s.transcript.TrackedResponses() {
			if s.transcript.HasAudio(id) {
				responseID, ok = id, true
				break
			}
		}
	}
	if !ok {
		s.log.Debug("speech started with nothing playing")
		return
	}

	playedMs := s.bridge.PlaybackPositionMs(responseID)
	spoken, planned := s.transcript.TruncatedWithPlanned(responseID, float64(playedMs))
	s.log.Info("caller interrupted response",
		zap.String("response_id", responseID),
		zap.Uint64("played_ms", playedMs),
		zap.String("spoken", spoken),
		zap.Int("unspoken_chars", len([]rune(planned))))

	s.bridge.ClearAudioBuffer()
	s.bridge.CancelResponseTracking(responseID)
	if err := s.ai.CancelResponse(responseID, playedMs); err != nil {
		s.log.Warn("cancel on realtime service failed", zap.Error(err))
	}

	if spoken != "" {
		s.log.Info("assistant said",
			zap.String("response_id", responseID),
			zap.String("text", spoken))
	}
	s.transcript.Cleanup(responseID)
}

// onEndCallRequested defers the hangup until the naming response has
// played out; if that response is already gone, hang up now.
func (s *CallSession) onEndCallRequested(responseID, reason string) {
	s.log.Info("ai requested call end",
		zap.String("response_id", responseID),
		zap.String("reason", reason))

	tracked := false
	for _, id := range s.transcript.TrackedResponses() {
		if id == responseID {
			tracked = true
			break
		}
	}
	if !tracked {
		s.End("ai requested hangup")
		return
	}

	s.mu.Lock()
	s.hangupAfter = responseID
	s.mu.Unlock()
}

// Stats returns a point-in-time snapshot for the control API.
func (s *CallSession) Stats() map[string]interface{} {
	playing, _ := s.bridge.PlayingResponseID()
	return map[string]interface{}{
		"call_id":          s.id,
		"rtp_port":         s.rtpPort,
		"codec":            s.bridge.CodecName(),
		"queue_depth":      s.bridge.QueueDepth(),
		"buffer_threshold": s.bridge.BufferThreshold(),
		"playing_response": playing,
	}
}

// End tears the session down. Idempotent; safe from any goroutine,
// including the event loop itself.
func (s *CallSession) End(reason string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info("ending call", zap.String("reason", reason))
	s.bridge.Stop()
	s.ai.Close()

	if s.onEnded != nil {
		s.onEnded(s.id)
	}
}
