// Package aiclient speaks the realtime speech service's websocket
// protocol and translates it into the closed event set in
// pkg/logic/events. The JSON envelope and base64 audio encoding never
// leave this package.
package aiclient

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"siplink/pkg/logic/events"
)

// Config selects the realtime endpoint and session parameters. Audio is
// always 24 kHz PCM16 in both directions.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	DialTimeout  time.Duration // default 10 s
}

// Client is a connected realtime session. Decoded events arrive on
// Events(); the channel closes when the socket dies or Close is called.
type Client struct {
	cfg  Config
	log  *zap.Logger
	conn *websocket.Conn

	// gorilla allows one concurrent writer only.
	writeMu sync.Mutex

	eventCh chan events.AIEvent

	mu           sync.Mutex
	itemByRespID map[string]string // response id -> assistant item id, for truncation
	closed       bool
}

// serverEvent is the superset of fields this bridge reads from the wire.
type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Response   struct {
		ID string `json:"id"`
	} `json:"response"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Dial connects, configures the session (voice, PCM16 format, server-side
// voice activity detection, the end_call tool) and starts the read loop.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	url := cfg.URL
	if cfg.Model != "" {
		url = fmt.Sprintf("%s?model=%s", cfg.URL, cfg.Model)
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime service: %w", err)
	}

	c := &Client{
		cfg:          cfg,
		log:          log,
		conn:         conn,
		eventCh:      make(chan events.AIEvent, 64),
		itemByRespID: make(map[string]string),
	}

	if err := c.sendSessionUpdate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure realtime session: %w", err)
	}

	go c.readLoop()
	log.Info("realtime session established", zap.String("model", cfg.Model))
	return c, nil
}

func (c *Client) sendSessionUpdate() error {
	session := map[string]interface{}{
		"modalities":          []string{"text", "audio"},
		"voice":               c.cfg.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection":      map[string]interface{}{"type": "server_vad"},
		"tools": []map[string]interface{}{
			{
				"type":        "function",
				"name":        "end_call",
				"description": "Hang up the telephone call once the current response finishes playing.",
				"parameters": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"reason": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
	if c.cfg.Instructions != "" {
		session["instructions"] = c.cfg.Instructions
	}
	return c.send(map[string]interface{}{
		"type":    "session.update",
		"session": session,
	})
}

// Events returns the decoded event stream. Closed on disconnect.
func (c *Client) Events() <-chan events.AIEvent {
	return c.eventCh
}

// SendAudio appends caller PCM (24 kHz, 16-bit) to the service's input
// buffer. Commit is implicit: server-side VAD segments the turns.
func (c *Client) SendAudio(pcm []int16) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.send(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16ToBytes(pcm)),
	})
}

// CancelResponse aborts generation of a response and truncates its
// conversation item to what the caller actually heard, so the service's
// context matches reality after a barge-in.
func (c *Client) CancelResponse(responseID string, playedMs uint64) error {
	if err := c.send(map[string]interface{}{"type": "response.cancel"}); err != nil {
		return err
	}

	c.mu.Lock()
	itemID := c.itemByRespID[responseID]
	c.mu.Unlock()
	if itemID == "" {
		c.log.Warn("no conversation item for interrupted response, skipping truncate",
			zap.String("response_id", responseID))
		return nil
	}
	return c.send(map[string]interface{}{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  playedMs,
	})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the socket; the read loop then closes the event channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.eventCh)
	defer c.conn.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warn("realtime socket read failed", zap.Error(err))
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("undecodable realtime event dropped", zap.Error(err))
			continue
		}
		if out, ok := c.translate(&ev); ok {
			c.eventCh <- out
		}
	}
}

// translate maps wire event types onto the bridge's event variants.
// Unknown types are ignored: the protocol grows faster than this bridge
// cares about.
func (c *Client) translate(ev *serverEvent) (events.AIEvent, bool) {
	switch ev.Type {
	case "response.created":
		return events.ResponseCreated{ResponseID: ev.Response.ID}, true

	case "response.audio.delta":
		raw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.log.Warn("bad base64 in audio delta", zap.Error(err))
			return nil, false
		}
		c.mu.Lock()
		c.itemByRespID[ev.ResponseID] = ev.ItemID
		c.mu.Unlock()
		return events.AudioDelta{ResponseID: ev.ResponseID, PCM: bytesToPCM16(raw)}, true

	case "response.audio_transcript.delta":
		return events.TextDelta{ResponseID: ev.ResponseID, Text: ev.Delta}, true

	case "response.done":
		return events.ResponseDone{ResponseID: ev.Response.ID}, true

	case "input_audio_buffer.speech_started":
		return events.UserSpeechStarted{}, true

	case "response.function_call_arguments.done":
		if ev.Name != "end_call" {
			return nil, false
		}
		var args struct {
			Reason string `json:"reason"`
		}
		if ev.Arguments != "" {
			if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
				c.log.Warn("bad end_call arguments", zap.Error(err))
			}
		}
		return events.EndCallRequested{ResponseID: ev.ResponseID, Reason: args.Reason}, true

	case "error":
		c.log.Error("realtime service error",
			zap.String("code", ev.Error.Code),
			zap.String("message", ev.Error.Message))
		return nil, false
	}
	return nil, false
}

func pcm16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
