package rtpio

import "sync"

// Stream owns the outbound sequence number and timestamp for one RTP
// session. Both counters wrap with plain unsigned arithmetic: sequence at
// 2^16, timestamp at 2^32.
//
// The timestamp advances at the codec's clock rate, which is not always
// the audio sample rate: a 10 ms G.722 packet carries 160 samples at
// 16 kHz but the timestamp steps by 80 (clock rate 8000).
type Stream struct {
	mu   sync.Mutex
	seq  uint16
	ts   uint32
	ssrc uint32
	step uint32 // timestamp increment per packet
}

// NewStream creates a stream whose timestamp advances by
// samplesPerPacket*clockRate/sampleRate per packet.
func NewStream(ssrc uint32, samplesPerPacket, clockRate, sampleRate int) *Stream {
	return &Stream{
		ssrc: ssrc,
		step: uint32(samplesPerPacket * clockRate / sampleRate),
	}
}

// NextPacket frames the payload with the stream's current sequence number
// and timestamp, then advances both.
func (s *Stream) NextPacket(payload []byte, payloadType uint8, marker bool) ([]byte, error) {
	s.mu.Lock()
	seq, ts := s.seq, s.ts
	s.seq++        // wraps at 65536
	s.ts += s.step // wraps at 2^32
	s.mu.Unlock()

	return BuildPacket(payload, ts, payloadType, marker, seq, s.ssrc)
}

// SSRC returns the stream's synchronization source identifier.
func (s *Stream) SSRC() uint32 {
	return s.ssrc
}

// Position returns the next sequence number and timestamp without
// consuming them.
func (s *Stream) Position() (uint16, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.ts
}
