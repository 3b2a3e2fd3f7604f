package codec

import "github.com/zaf/g711"

// G.711 µ-law (PCMU) and A-law (PCMA), 8 kHz narrowband. Stateless, one
// payload byte per PCM sample.

type pcmuCodec struct{}

func newPCMU() Codec { return pcmuCodec{} }

func (pcmuCodec) PayloadType() uint8 { return PayloadTypePCMU }
func (pcmuCodec) Name() string       { return "PCMU" }
func (pcmuCodec) SampleRate() int    { return 8000 }
func (pcmuCodec) ClockRate() int     { return 8000 }

func (pcmuCodec) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

func (pcmuCodec) Decode(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

type pcmaCodec struct{}

func newPCMA() Codec { return pcmaCodec{} }

func (pcmaCodec) PayloadType() uint8 { return PayloadTypePCMA }
func (pcmaCodec) Name() string       { return "PCMA" }
func (pcmaCodec) SampleRate() int    { return 8000 }
func (pcmaCodec) ClockRate() int     { return 8000 }

func (pcmaCodec) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeAlawFrame(s)
	}
	return out
}

func (pcmaCodec) Decode(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = g711.DecodeAlawFrame(b)
	}
	return out
}
