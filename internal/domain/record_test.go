package domain

import (
	"encoding/json"
	"testing"
)

func TestRecordVersionDiscipline(t *testing.T) {
	rec := NewRecord(EntityNote, "n1", "user-1", json.RawMessage(`{"title":"a"}`))

	if rec.Version != 1 {
		t.Fatalf("NewRecord() version = %d, want 1", rec.Version)
	}

	prev := rec.UpdatedAt
	if err := rec.ApplyContent(json.RawMessage(`{"title":"b"}`)); err != nil {
		t.Fatalf("ApplyContent() error = %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("ApplyContent() version = %d, want 2", rec.Version)
	}
	if !rec.UpdatedAt.After(prev) {
		t.Error("ApplyContent() UpdatedAt did not strictly increase")
	}

	prev = rec.UpdatedAt
	if err := rec.SoftDelete(); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if rec.Version != 3 || !rec.IsDeleted {
		t.Errorf("SoftDelete() version = %d, deleted = %v; want 3, true", rec.Version, rec.IsDeleted)
	}
	if !rec.UpdatedAt.After(prev) {
		t.Error("SoftDelete() UpdatedAt did not strictly increase")
	}
}

func TestRecordDeletionIsTerminal(t *testing.T) {
	rec := NewRecord(EntityTask, "t1", "user-1", nil)
	if err := rec.SoftDelete(); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	if err := rec.ApplyContent(json.RawMessage(`{}`)); err != ErrRecordDeleted {
		t.Errorf("ApplyContent() on tombstone error = %v, want ErrRecordDeleted", err)
	}
	if err := rec.SoftDelete(); err != ErrRecordDeleted {
		t.Errorf("SoftDelete() on tombstone error = %v, want ErrRecordDeleted", err)
	}
	if rec.Version != 2 {
		t.Errorf("tombstone version = %d, want unchanged 2", rec.Version)
	}
}

func TestNewChangeMessageKinds(t *testing.T) {
	rec := NewRecord(EntityBlock, "b1", "user-1", json.RawMessage(`{}`))

	msg, err := NewChangeMessage("msg-1", rec, "dev-1")
	if err != nil {
		t.Fatalf("NewChangeMessage() error = %v", err)
	}
	if msg.Kind != EventBlockCreated {
		t.Errorf("Kind = %s, want %s for a fresh record", msg.Kind, EventBlockCreated)
	}
	if msg.Status != OutboxPending {
		t.Errorf("Status = %s, want pending", msg.Status)
	}

	rec.ApplyContent(json.RawMessage(`{"x":1}`))
	msg, _ = NewChangeMessage("msg-2", rec, "dev-1")
	if msg.Kind != EventBlockUpdated {
		t.Errorf("Kind = %s, want %s after an update", msg.Kind, EventBlockUpdated)
	}

	rec.SoftDelete()
	msg, _ = NewChangeMessage("msg-3", rec, "dev-1")
	if msg.Kind != EventBlockDeleted {
		t.Errorf("Kind = %s, want %s after a delete", msg.Kind, EventBlockDeleted)
	}

	var payload ChangeEventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error = %v", err)
	}
	if payload.Entity != EntityBlock || payload.RecordID != "b1" || !payload.Deleted {
		t.Errorf("payload = %+v, want the b1 tombstone", payload)
	}
	if payload.Version != rec.Version {
		t.Errorf("payload version = %d, want %d", payload.Version, rec.Version)
	}
}
