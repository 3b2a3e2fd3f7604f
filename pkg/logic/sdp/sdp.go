// Package sdp builds the audio session description offered to the SIP
// side. The codec list comes from the registry at call time, so an
// unavailable optional codec simply drops out of the offer.
package sdp

import (
	"fmt"
	"strconv"
	"time"

	pionsdp "github.com/pion/sdp/v3"

	"siplink/pkg/logic/codec"
)

// rtpmap entries for the payload types this bridge can negotiate. G.722
// deliberately advertises 8000 even though it produces 16 kHz audio
// (RFC 3551 legacy clock rate).
var rtpmaps = map[uint8]string{
	codec.PayloadTypePCMU: "PCMU/8000",
	codec.PayloadTypePCMA: "PCMA/8000",
	codec.PayloadTypeG722: "G722/8000",
	codec.PayloadTypeDTMF: "telephone-event/8000",
}

// Offer renders an SDP body advertising the given payload types plus
// telephone-event, sendrecv, on the given RTP endpoint.
func Offer(sessionName, host string, port int, payloadTypes []uint8) (string, error) {
	if port <= 0 {
		return "", fmt.Errorf("invalid rtp port: %d", port)
	}

	formats := make([]string, 0, len(payloadTypes)+1)
	for _, pt := range payloadTypes {
		formats = append(formats, strconv.Itoa(int(pt)))
	}
	formats = append(formats, strconv.Itoa(int(codec.PayloadTypeDTMF)))

	media := &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   "audio",
			Port:    pionsdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
	}
	for _, pt := range payloadTypes {
		if name, ok := rtpmaps[pt]; ok {
			media.Attributes = append(media.Attributes, pionsdp.Attribute{
				Key:   "rtpmap",
				Value: fmt.Sprintf("%d %s", pt, name),
			})
		}
	}
	media.Attributes = append(media.Attributes,
		pionsdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", codec.PayloadTypeDTMF, rtpmaps[codec.PayloadTypeDTMF])},
		pionsdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-16", codec.PayloadTypeDTMF)},
		pionsdp.Attribute{Key: "sendrecv"},
	)

	sessionID := uint64(time.Now().Unix())
	desc := &pionsdp.SessionDescription{
		Origin: pionsdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: pionsdp.SessionName(sessionName),
		ConnectionInformation: &pionsdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &pionsdp.Address{Address: host},
		},
		TimeDescriptions:  []pionsdp.TimeDescription{{}},
		MediaDescriptions: []*pionsdp.MediaDescription{media},
	}

	body, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(body), nil
}
