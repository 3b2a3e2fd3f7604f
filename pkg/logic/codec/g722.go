package codec

import (
	"fmt"

	"github.com/gotranspile/g722"
)

// G.722 wideband: 16 kHz audio, but RTP timestamps advance at 8000/s
// (RFC 3551 kept the historically wrong clock rate for compatibility).
// Encoder and decoder carry sub-band ADPCM state, so every call gets its
// own instance via the registry factory.

type g722Codec struct {
	enc *g722.Encoder
	dec *g722.Decoder
}

func newG722() (c Codec, err error) {
	// The transpiled codec panics rather than erroring on bad modes;
	// convert that into the registry's "unsupported" path so a broken
	// optional codec only removes payload type 9 from the offer.
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("g722 init: %v", r)
		}
	}()
	return &g722Codec{
		enc: g722.NewEncoder(g722.Rate64000, 0),
		dec: g722.NewDecoder(g722.Rate64000, 0),
	}, nil
}

func (c *g722Codec) PayloadType() uint8 { return PayloadTypeG722 }
func (c *g722Codec) Name() string       { return "G722" }
func (c *g722Codec) SampleRate() int    { return 16000 }
func (c *g722Codec) ClockRate() int     { return 8000 }

// Encode packs 16 kHz PCM at 64 kbit/s: one payload byte per two samples.
func (c *g722Codec) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm)/2)
	n := c.enc.Encode(out, pcm)
	return out[:n]
}

func (c *g722Codec) Decode(data []byte) []int16 {
	out := make([]int16, len(data)*2)
	n := c.dec.Decode(out, data)
	return out[:n]
}
