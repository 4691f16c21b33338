package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names on the wire. Clients send join, code-change and
// sync-request; the server emits joined and left.
type EventType string

const (
	EventJoin        EventType = "join"
	EventJoined      EventType = "joined"
	EventCodeChange  EventType = "code-change"
	EventSyncRequest EventType = "sync-request"
	EventLeft        EventType = "left"
)

// One connected user as seen by other room members.
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Envelope is the frame every event travels in. Payload stays raw so
// relayed events can be forwarded byte-for-byte without re-encoding.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// JoinedPayload carries the full post-join member list plus the
// identity of the joiner, so receivers can tell a foreign join from
// their own echo.
type JoinedPayload struct {
	Members      []Member `json:"members"`
	ConnectionID string   `json:"connectionId"`
	DisplayName  string   `json:"displayName"`
}

type CodeChangePayload struct {
	Code string `json:"code"`
}

// SyncRequestPayload is addressed point-to-point: an existing member
// replies to a joiner's connection id with the current document text.
type SyncRequestPayload struct {
	Code               string `json:"code"`
	TargetConnectionID string `json:"targetConnectionId"`
}

type LeftPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Decode parses a raw frame into an envelope, leaving the payload raw.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &env, nil
}

// DecodePayload parses an envelope's payload into the given struct.
func DecodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s event missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	return nil
}

func encode(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

func EncodeJoined(members []Member, connectionID, displayName string) ([]byte, error) {
	return encode(EventJoined, JoinedPayload{
		Members:      members,
		ConnectionID: connectionID,
		DisplayName:  displayName,
	})
}

func EncodeLeft(connectionID, displayName string) ([]byte, error) {
	return encode(EventLeft, LeftPayload{
		ConnectionID: connectionID,
		DisplayName:  displayName,
	})
}
