package domain

import (
	"encoding/json"
	"time"
)

// PullRequest asks for changes per entity kind. A kind with no watermark gets
// a full snapshot; a kind with a watermark gets everything updated strictly
// after it, tombstones included.
type PullRequest struct {
	DeviceID          string                    `json:"device_id,omitempty"`
	Entities          map[EntityKind]PullCursor `json:"entities" validate:"required,min=1"`
	MaxItemsPerEntity int                       `json:"max_items_per_entity,omitempty"`
}

type PullCursor struct {
	Since *time.Time `json:"since,omitempty"`
}

type PullResponse struct {
	Entities map[EntityKind]*ChangeSet `json:"entities"`
	SyncTime time.Time                 `json:"sync_time"`
}

// ChangeSet is one entity kind's slice of a pull response. When the eligible
// set exceeded the item cap, HasMore is set and NextSince is the watermark to
// resume from.
type ChangeSet struct {
	Records   []*Record  `json:"records"`
	Snapshot  bool       `json:"snapshot"`
	HasMore   bool       `json:"has_more"`
	NextSince *time.Time `json:"next_since,omitempty"`
}

// PushRequest carries client-originated changes per entity kind.
type PushRequest struct {
	DeviceID string                    `json:"device_id" validate:"required"`
	Entities map[EntityKind]*PushBatch `json:"entities" validate:"required,min=1"`
}

type PushBatch struct {
	Created []PushItem `json:"created,omitempty"`
	Updated []PushItem `json:"updated,omitempty"`
	Deleted []PushItem `json:"deleted,omitempty"`
}

func (b *PushBatch) Len() int {
	return len(b.Created) + len(b.Updated) + len(b.Deleted)
}

// PushItem is one client change. ID is client-generated and doubles as the
// idempotency key for creates. Version is the version the client believes is
// current; updates and deletes apply only when it matches the stored version.
type PushItem struct {
	ID      string          `json:"id" validate:"required"`
	Version int64           `json:"version,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type ItemStatus string

const (
	ItemApplied  ItemStatus = "applied"
	ItemConflict ItemStatus = "conflict"
	ItemRejected ItemStatus = "rejected"
)

// ItemOutcome reports what happened to one push item. A conflict carries the
// current server record so the client can reconcile without another pull.
type ItemOutcome struct {
	ID      string     `json:"id"`
	Status  ItemStatus `json:"status"`
	Version int64      `json:"version,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Server  *Record    `json:"server,omitempty"`
}

type PushResponse struct {
	Entities map[EntityKind][]ItemOutcome `json:"entities"`
	SyncTime time.Time                    `json:"sync_time"`
}
