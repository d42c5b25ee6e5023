package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxFailed     OutboxStatus = "failed"
)

type EventKind string

const (
	EventNoteCreated  EventKind = "note.created"
	EventNoteUpdated  EventKind = "note.updated"
	EventNoteDeleted  EventKind = "note.deleted"
	EventTaskCreated  EventKind = "task.created"
	EventTaskUpdated  EventKind = "task.updated"
	EventTaskDeleted  EventKind = "task.deleted"
	EventBlockCreated EventKind = "block.created"
	EventBlockUpdated EventKind = "block.updated"
	EventBlockDeleted EventKind = "block.deleted"
	EventAssetStored  EventKind = "asset.stored"
	EventAssetDeleted EventKind = "asset.deleted"
)

var AllEventKinds = []EventKind{
	EventNoteCreated, EventNoteUpdated, EventNoteDeleted,
	EventTaskCreated, EventTaskUpdated, EventTaskDeleted,
	EventBlockCreated, EventBlockUpdated, EventBlockDeleted,
	EventAssetStored, EventAssetDeleted,
}

// OutboxMessage is one row of the append-only outbox log. It is written
// together with the business change it describes and afterwards mutated only
// by the dispatcher; the core never deletes it.
type OutboxMessage struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Kind          EventKind       `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	LeaseUntil    *time.Time      `json:"lease_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ChangeEventPayload is the payload of record-change events. It carries enough
// for a handler to act without re-querying the record.
type ChangeEventPayload struct {
	Entity         EntityKind `json:"entity"`
	RecordID       string     `json:"record_id"`
	Version        int64      `json:"version"`
	Deleted        bool       `json:"deleted"`
	OriginDeviceID string     `json:"origin_device_id,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewChangeMessage builds the outbox message describing the record's latest
// accepted mutation. The id is supplied by the caller so the message can be
// created in the same storage operation as the record write.
func NewChangeMessage(id string, rec *Record, originDeviceID string) (*OutboxMessage, error) {
	op := "updated"
	switch {
	case rec.IsDeleted:
		op = "deleted"
	case rec.Version == 1:
		op = "created"
	}

	payload, err := json.Marshal(&ChangeEventPayload{
		Entity:         rec.Kind,
		RecordID:       rec.ID,
		Version:        rec.Version,
		Deleted:        rec.IsDeleted,
		OriginDeviceID: originDeviceID,
		OccurredAt:     rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change payload: %w", err)
	}

	return &OutboxMessage{
		ID:        id,
		UserID:    rec.UserID,
		Kind:      EventKind(fmt.Sprintf("%s.%s", rec.Kind, op)),
		Payload:   payload,
		Status:    OutboxPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}
