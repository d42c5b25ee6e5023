package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type EntityKind string

const (
	EntityNote  EntityKind = "note"
	EntityTask  EntityKind = "task"
	EntityBlock EntityKind = "block"
)

// SyncableKinds lists the entity kinds the sync engine serves, in the order
// they appear in responses.
var SyncableKinds = []EntityKind{EntityNote, EntityTask, EntityBlock}

func (k EntityKind) Valid() bool {
	switch k {
	case EntityNote, EntityTask, EntityBlock:
		return true
	}
	return false
}

// ErrRecordDeleted is returned when a mutation is attempted on a soft-deleted
// record. Deletion is terminal: a deleted record never accepts new content.
var ErrRecordDeleted = errors.New("record is deleted")

// SyncRecord is the invariant layer shared by every syncable entity: a
// monotonically increasing version counter, UTC timestamps, and a soft-delete
// flag. Rows are never physically removed once synced.
type SyncRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted bool      `json:"is_deleted"`
}

// Record is a syncable entity: the shared invariant layer plus a kind tag and
// the entity's content. The sync engine treats content as opaque; its shape
// belongs to the client applications.
type Record struct {
	SyncRecord
	Kind    EntityKind      `json:"kind"`
	Content json.RawMessage `json:"content,omitempty"`
}

func NewRecord(kind EntityKind, id, userID string, content json.RawMessage) *Record {
	now := time.Now().UTC()
	return &Record{
		SyncRecord: SyncRecord{
			ID:        id,
			UserID:    userID,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Kind:    kind,
		Content: content,
	}
}

// touch bumps the version and advances UpdatedAt. UpdatedAt must strictly
// increase with the version, so a clock that has not moved past the previous
// mutation is nudged forward.
func (r *SyncRecord) touch() {
	now := time.Now().UTC()
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Microsecond)
	}
	r.Version++
	r.UpdatedAt = now
}

// ApplyContent replaces the record's content and bumps its version.
func (r *Record) ApplyContent(content json.RawMessage) error {
	if r.IsDeleted {
		return ErrRecordDeleted
	}
	r.Content = content
	r.touch()
	return nil
}

// SoftDelete marks the record deleted under the same version discipline as a
// content update. The tombstone keeps syncing so other devices can retract
// their local copy.
func (r *Record) SoftDelete() error {
	if r.IsDeleted {
		return ErrRecordDeleted
	}
	r.IsDeleted = true
	r.touch()
	return nil
}
