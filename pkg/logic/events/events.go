// Package events defines the closed event sets exchanged with the two
// external collaborators: the SIP signaling stack and the realtime AI
// service. Each variant carries exactly the fields that event needs; no
// open dictionaries.
package events

// SIPEvent is a signaling-side event delivered to a call session.
type SIPEvent interface{ isSIPEvent() }

// CallAnswered carries the negotiated codec and the remote RTP endpoint
// from the SDP answer.
type CallAnswered struct {
	PayloadType uint8
	RemoteHost  string
	RemotePort  int
}

// CallEnded signals a BYE (or equivalent) from the far end.
type CallEnded struct{}

func (CallAnswered) isSIPEvent() {}
func (CallEnded) isSIPEvent()    {}

// AIEvent is a decoded event from the realtime AI service. The wire
// protocol (JSON envelope, base64 audio) never leaves pkg/logic/aiclient.
type AIEvent interface{ isAIEvent() }

// ResponseCreated announces a new utterance.
type ResponseCreated struct {
	ResponseID string
}

// AudioDelta carries one decoded chunk of 24 kHz PCM16 response audio.
type AudioDelta struct {
	ResponseID string
	PCM        []int16
}

// TextDelta carries one transcript fragment, in generation order.
type TextDelta struct {
	ResponseID string
	Text       string
}

// ResponseDone signals the service finished generating a response.
type ResponseDone struct {
	ResponseID string
}

// UserSpeechStarted is the barge-in trigger: the service detected the
// caller speaking while response audio may still be playing.
type UserSpeechStarted struct{}

// EndCallRequested asks the bridge to hang up once the given response
// has finished playing.
type EndCallRequested struct {
	ResponseID string
	Reason     string
}

func (ResponseCreated) isAIEvent()   {}
func (AudioDelta) isAIEvent()        {}
func (TextDelta) isAIEvent()         {}
func (ResponseDone) isAIEvent()      {}
func (UserSpeechStarted) isAIEvent() {}
func (EndCallRequested) isAIEvent()  {}
