package codec

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Codec converts between 16-bit PCM at its native sample rate and the
// payload bytes carried in RTP. A codec instance is negotiated once per
// call and never swapped mid-call.
//
// SampleRate and ClockRate differ for G.722 (16000 vs 8000 per RFC 3551):
// RTP timestamp arithmetic must always use ClockRate.
type Codec interface {
	PayloadType() uint8
	Name() string
	SampleRate() int
	ClockRate() int
	Encode(pcm []int16) []byte
	Decode(data []byte) []int16
}

// Factory builds a fresh codec instance for one call. Stateful codecs
// (G.722) must not be shared between calls.
type Factory func() (Codec, error)

// Registry maps RTP payload types to codec factories. G.711 µ-law and
// A-law are always present; wideband G.722 is registered through a
// factory whose failure only removes payload type 9 from the advertised
// set, never breaks call setup.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint8]Factory
	log       *zap.Logger
}

// NewRegistry returns a registry with the standard telephony codecs
// registered.
func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{
		factories: make(map[uint8]Factory),
		log:       log,
	}
	r.Register(PayloadTypePCMU, func() (Codec, error) { return newPCMU(), nil })
	r.Register(PayloadTypePCMA, func() (Codec, error) { return newPCMA(), nil })
	r.Register(PayloadTypeG722, newG722)
	return r
}

// Standard RTP payload types (RFC 3551).
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
	PayloadTypeG722 uint8 = 9

	// PayloadTypeDTMF is telephone-event/8000. It is advertised in SDP
	// but never instantiated as an audio codec.
	PayloadTypeDTMF uint8 = 101
)

func (r *Registry) Register(payloadType uint8, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[payloadType] = factory
}

// Get instantiates a codec for the given payload type. Factory failures
// are logged and reported as "unsupported" rather than propagated, so a
// missing optional codec degrades the offer instead of failing the call.
func (r *Registry) Get(payloadType uint8) (Codec, bool) {
	r.mu.RLock()
	factory, ok := r.factories[payloadType]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c, err := factory()
	if err != nil {
		if r.log != nil {
			r.log.Warn("codec unavailable",
				zap.Uint8("payload_type", payloadType),
				zap.Error(err))
		}
		return nil, false
	}
	return c, true
}

func (r *Registry) IsSupported(payloadType uint8) bool {
	_, ok := r.Get(payloadType)
	return ok
}

// SupportedPayloadTypes returns the payload types that can actually be
// instantiated right now, sorted ascending. Used to build the SDP offer.
func (r *Registry) SupportedPayloadTypes() []uint8 {
	r.mu.RLock()
	candidates := make([]uint8, 0, len(r.factories))
	for pt := range r.factories {
		candidates = append(candidates, pt)
	}
	r.mu.RUnlock()

	supported := make([]uint8, 0, len(candidates))
	for _, pt := range candidates {
		if r.IsSupported(pt) {
			supported = append(supported, pt)
		}
	}
	sort.Slice(supported, func(i, j int) bool { return supported[i] < supported[j] })
	return supported
}

// SamplesPerPacket returns the PCM samples covered by one packetization
// interval at the codec's native rate.
func SamplesPerPacket(c Codec, intervalMs int) int {
	return c.SampleRate() * intervalMs / 1000
}

// TimestampStep returns the RTP timestamp increment for one packet. For
// codecs where clock rate and sample rate differ the step is scaled, e.g.
// G.722 advances 80 per 10 ms packet even though 160 samples were sent.
func TimestampStep(c Codec, samplesPerPacket int) uint32 {
	return uint32(samplesPerPacket * c.ClockRate() / c.SampleRate())
}
