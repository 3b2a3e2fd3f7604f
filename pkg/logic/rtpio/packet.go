package rtpio

import (
	"fmt"

	"github.com/pion/rtp"
)

const (
	headerSize = 12

	// DefaultSSRC identifies the bridge's outbound stream. The bridge is
	// the only sender on its socket, so a fixed value is sufficient.
	DefaultSSRC uint32 = 0x51504C4B
)

// BuildPacket frames payload bytes into an RTP v2 packet with the fixed
// 12-byte header. Sequence number and timestamp are bridge-owned counters
// (see Stream); they are never derived from inbound packets.
func BuildPacket(payload []byte, timestamp uint32, payloadType uint8, marker bool, sequenceNumber uint16, ssrc uint32) ([]byte, error) {
	p := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    payloadType,
			SequenceNumber: sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	buf, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp packet: %w", err)
	}
	return buf, nil
}

// ParsePacket validates and decodes an inbound RTP packet, returning the
// header and payload. Packets shorter than the fixed header or with a
// version other than 2 are rejected.
func ParsePacket(buf []byte) (*rtp.Header, []byte, error) {
	if len(buf) < headerSize {
		return nil, nil, fmt.Errorf("rtp packet too short: %d bytes", len(buf))
	}
	var p rtp.Packet
	if err := p.Unmarshal(buf); err != nil {
		return nil, nil, fmt.Errorf("unmarshal rtp packet: %w", err)
	}
	if p.Header.Version != 2 {
		return nil, nil, fmt.Errorf("unsupported rtp version: %d", p.Header.Version)
	}
	return &p.Header, p.Payload, nil
}
