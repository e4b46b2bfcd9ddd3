package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformedMessage   = errors.New("malformed client message")
	ErrUnknownMessageType = errors.New("unknown client message type")
)

// InboundKind is the kind of a client message.
type InboundKind int

const (
	InboundHeartbeat InboundKind = iota
	InboundSubscribe
	InboundUnsubscribe
)

// Inbound is a parsed client message.
type Inbound struct {
	Kind     InboundKind
	Channels []string
}

// ParseInbound reads a client frame. Channels may be given at the top level
// or under "data".
func ParseInbound(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, ErrMalformedMessage
	}

	msgType := gjson.GetBytes(raw, "type")
	if msgType.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch msgType.String() {
	case "ping", "heartbeat":
		return Inbound{Kind: InboundHeartbeat}, nil
	case "subscribe":
		channels, err := parseChannels(raw)
		return Inbound{Kind: InboundSubscribe, Channels: channels}, err
	case "unsubscribe":
		channels, err := parseChannels(raw)
		return Inbound{Kind: InboundUnsubscribe, Channels: channels}, err
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType.String())
	}
}

func parseChannels(raw []byte) ([]string, error) {
	result := gjson.GetBytes(raw, "channels")
	if !result.Exists() {
		result = gjson.GetBytes(raw, "data.channels")
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: channels must be an array", ErrMalformedMessage)
	}

	var channels []string
	for _, c := range result.Array() {
		if c.Type == gjson.String {
			channels = append(channels, c.String())
		}
	}
	return normalizeChannels(channels), nil
}

type envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectedData struct {
	SessionID     string   `json:"sessionId"`
	Subscriptions []string `json:"subscriptions"`
	Timestamp     int64    `json:"timestamp"`
}

func encodeConnected(s *Session, now time.Time) ([]byte, error) {
	ts := now.UnixMilli()
	return json.Marshal(envelope{
		Type: "connected",
		Data: connectedData{
			SessionID:     s.ID().String(),
			Subscriptions: s.Subscriptions(),
			Timestamp:     ts,
		},
		Timestamp: ts,
	})
}

func encodePong(now time.Time) ([]byte, error) {
	return json.Marshal(envelope{Type: "pong", Timestamp: now.UnixMilli()})
}

func encodeUpdate(msg domain.UpdateMessage, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Type:      string(msg.Type),
		Data:      msg.Payload,
		Timestamp: now.UnixMilli(),
	})
}
