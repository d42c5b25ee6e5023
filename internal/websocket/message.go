package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSyncNeeded MessageType = "sync_needed"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SyncNeededPayload tells a device that another device changed something and
// a pull is worthwhile. It intentionally carries no record content; the
// receiver syncs through the pull endpoint.
type SyncNeededPayload struct {
	Entity         string    `json:"entity"`
	RecordID       string    `json:"record_id"`
	Version        int64     `json:"version"`
	Deleted        bool      `json:"deleted"`
	OriginDeviceID string    `json:"origin_device_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}
