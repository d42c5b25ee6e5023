package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/repository"

	"github.com/google/uuid"
)

// SyncLimits bounds pull and push request sizes. Pull limits cap response
// sizes; push limits are validated before any storage mutation.
type SyncLimits struct {
	PullDefaultItems      int
	PullMaxItems          int
	PushMaxItemsPerEntity int
	PushMaxTotalItems     int
}

type SyncService struct {
	records repository.RecordRepository
	devices repository.DeviceRepository
	limits  SyncLimits
}

func NewSyncService(records repository.RecordRepository, devices repository.DeviceRepository, limits SyncLimits) *SyncService {
	return &SyncService{
		records: records,
		devices: devices,
		limits:  limits,
	}
}

// Pull computes per-entity change sets. Without a watermark the set is a
// snapshot of live records; with one it is everything updated strictly after
// it, tombstones included so the caller can retract local copies.
func (s *SyncService) Pull(ctx context.Context, userID string, req *domain.PullRequest) (*domain.PullResponse, error) {
	limit := s.limits.PullDefaultItems
	if req.MaxItemsPerEntity > 0 {
		limit = req.MaxItemsPerEntity
	}
	if limit > s.limits.PullMaxItems {
		limit = s.limits.PullMaxItems
	}
	if limit < 1 {
		limit = 1
	}

	resp := &domain.PullResponse{
		Entities: make(map[domain.EntityKind]*domain.ChangeSet, len(req.Entities)),
	}

	for kind, cursor := range req.Entities {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
		}

		records, err := s.records.List(ctx, userID, kind)
		if err != nil {
			return nil, err
		}

		resp.Entities[kind] = buildChangeSet(records, cursor.Since, limit)
	}

	// The pulling device checked in; a failed touch never fails the pull.
	if req.DeviceID != "" {
		if err := s.touchDevice(ctx, userID, req.DeviceID); err != nil {
			log.Printf("[Sync] failed to touch device %s: %v", req.DeviceID, err)
		}
	}

	resp.SyncTime = time.Now().UTC()
	return resp, nil
}

func buildChangeSet(records []*domain.Record, since *time.Time, limit int) *domain.ChangeSet {
	set := &domain.ChangeSet{Snapshot: since == nil}

	eligible := make([]*domain.Record, 0, len(records))
	for _, rec := range records {
		if since == nil {
			if !rec.IsDeleted {
				eligible = append(eligible, rec)
			}
			continue
		}
		if rec.UpdatedAt.After(*since) {
			eligible = append(eligible, rec)
		}
	}

	// Oldest-by-update-time first, id as tie-break: truncation is
	// deterministic and the caller resumes from NextSince without ever
	// skipping a newer change.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].UpdatedAt.Equal(eligible[j].UpdatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].UpdatedAt.Before(eligible[j].UpdatedAt)
	})

	if len(eligible) > limit {
		// Records tied on the boundary timestamp stay in this page. The
		// resume filter is strictly-after, so cutting between ties would
		// leave the trailing ones undeliverable.
		cut := limit
		for cut < len(eligible) && eligible[cut].UpdatedAt.Equal(eligible[cut-1].UpdatedAt) {
			cut++
		}
		if cut < len(eligible) {
			eligible = eligible[:cut]
			next := eligible[cut-1].UpdatedAt
			set.HasMore = true
			set.NextSince = &next
		}
	}

	set.Records = eligible
	return set
}

func (s *SyncService) touchDevice(ctx context.Context, userID, deviceID string) error {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.UserID != userID {
		return ErrNotFound
	}

	device.LastSeenAt = time.Now().UTC()
	return s.devices.Update(ctx, device)
}

// Push validates the whole call, then applies each item. Size violations
// reject the call before anything is written; version mismatches are reported
// per item and never fail their siblings.
func (s *SyncService) Push(ctx context.Context, userID string, req *domain.PushRequest) (*domain.PushResponse, error) {
	total := 0
	for kind, batch := range req.Entities {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
		}
		if batch == nil {
			continue
		}
		for _, n := range []int{len(batch.Created), len(batch.Updated), len(batch.Deleted)} {
			if n > s.limits.PushMaxItemsPerEntity {
				return nil, fmt.Errorf("%w: %s batch exceeds %d items", ErrValidation, kind, s.limits.PushMaxItemsPerEntity)
			}
		}
		total += batch.Len()
	}
	if total > s.limits.PushMaxTotalItems {
		return nil, fmt.Errorf("%w: push exceeds %d total items", ErrValidation, s.limits.PushMaxTotalItems)
	}

	resp := &domain.PushResponse{
		Entities: make(map[domain.EntityKind][]domain.ItemOutcome, len(req.Entities)),
	}

	for kind, batch := range req.Entities {
		if batch == nil {
			continue
		}

		outcomes := make([]domain.ItemOutcome, 0, batch.Len())
		for _, item := range batch.Created {
			outcomes = append(outcomes, s.applyCreate(ctx, userID, kind, req.DeviceID, item))
		}
		for _, item := range batch.Updated {
			outcomes = append(outcomes, s.applyMutation(ctx, userID, kind, req.DeviceID, item, false))
		}
		for _, item := range batch.Deleted {
			outcomes = append(outcomes, s.applyMutation(ctx, userID, kind, req.DeviceID, item, true))
		}

		resp.Entities[kind] = outcomes
	}

	resp.SyncTime = time.Now().UTC()
	return resp, nil
}

func (s *SyncService) applyCreate(ctx context.Context, userID string, kind domain.EntityKind, deviceID string, item domain.PushItem) domain.ItemOutcome {
	if item.ID == "" {
		return domain.ItemOutcome{Status: domain.ItemRejected, Reason: "missing id"}
	}

	existing, _, err := s.records.FindByID(ctx, kind, item.ID)
	if err == nil {
		if existing.UserID != userID {
			return domain.ItemOutcome{ID: item.ID, Status: domain.ItemRejected, Reason: "id unavailable"}
		}
		// Replayed create: the client id is the idempotency key, so the
		// record is simply acknowledged again.
		return domain.ItemOutcome{ID: item.ID, Status: domain.ItemApplied, Version: existing.Version}
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.ItemOutcome{ID: item.ID, Status: domain.ItemRejected, Reason: "storage failure"}
	}

	rec := domain.NewRecord(kind, item.ID, userID, item.Content)
	return s.persist(ctx, rec, "", deviceID)
}

func (s *SyncService) applyMutation(ctx context.Context, userID string, kind domain.EntityKind, deviceID string, item domain.PushItem, softDelete bool) domain.ItemOutcome {
	if item.ID == "" {
		return domain.ItemOutcome{Status: domain.ItemRejected, Reason: "missing id"}
	}

	rec, rev, err := s.records.FindByID(ctx, kind, item.ID)
	if err != nil || rec.UserID != userID {
		return domain.ItemOutcome{ID: item.ID, Status: domain.ItemRejected, Reason: "record not found"}
	}

	if rec.Version != item.Version {
		return conflictOutcome(item.ID, rec)
	}

	if softDelete {
		err = rec.SoftDelete()
	} else {
		err = rec.ApplyContent(item.Content)
	}
	if err != nil {
		// Deletion is terminal; the tombstone is the server's word on it.
		return conflictOutcome(item.ID, rec)
	}

	return s.persist(ctx, rec, rev, deviceID)
}

func (s *SyncService) persist(ctx context.Context, rec *domain.Record, rev, deviceID string) domain.ItemOutcome {
	msg, err := domain.NewChangeMessage(uuid.New().String(), rec, deviceID)
	if err != nil {
		return domain.ItemOutcome{ID: rec.ID, Status: domain.ItemRejected, Reason: "storage failure"}
	}

	if err := s.records.Apply(ctx, rec, rev, msg); err != nil {
		if errors.Is(err, repository.ErrStaleRecord) {
			// The version gate passed on a read that storage has since
			// superseded; the item conflicts against whoever won.
			return s.lostRaceOutcome(ctx, rec.Kind, rec.ID)
		}
		log.Printf("[Sync] failed to apply %s %s: %v", rec.Kind, rec.ID, err)
		return domain.ItemOutcome{ID: rec.ID, Status: domain.ItemRejected, Reason: "storage failure"}
	}

	return domain.ItemOutcome{ID: rec.ID, Status: domain.ItemApplied, Version: rec.Version}
}

func (s *SyncService) lostRaceOutcome(ctx context.Context, kind domain.EntityKind, id string) domain.ItemOutcome {
	server, _, err := s.records.FindByID(ctx, kind, id)
	if err != nil {
		return domain.ItemOutcome{ID: id, Status: domain.ItemConflict, Reason: "version mismatch"}
	}
	return conflictOutcome(id, server)
}

func conflictOutcome(id string, server *domain.Record) domain.ItemOutcome {
	return domain.ItemOutcome{
		ID:      id,
		Status:  domain.ItemConflict,
		Version: server.Version,
		Reason:  "version mismatch",
		Server:  server,
	}
}
