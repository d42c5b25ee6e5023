package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"leaflet-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrNotFound is returned when a document does not exist. Callers that own
// authorization report it uniformly for absent and unowned documents.
var ErrNotFound = errors.New("document not found")

// ErrStaleRecord is returned by Apply when the record changed between read
// and write. The caller re-reads and reports a conflict.
var ErrStaleRecord = errors.New("record changed concurrently")

type RecordRepository interface {
	// FindByID returns the record together with its storage revision. The
	// revision must be passed back to Apply unchanged.
	FindByID(ctx context.Context, kind domain.EntityKind, id string) (*domain.Record, string, error)
	// List returns every record of the kind owned by the user, soft-deleted
	// ones included. Filtering and ordering belong to the caller.
	List(ctx context.Context, userID string, kind domain.EntityKind) ([]*domain.Record, error)
	// Apply persists a record mutation together with the outbox message that
	// describes it. The write is conditional on rev still being current; a
	// concurrent writer surfaces as ErrStaleRecord, never as a silent
	// overwrite. The outbox document is written first so a partial failure
	// can produce a spurious notification but never a silent change. An
	// empty rev creates the document.
	Apply(ctx context.Context, rec *domain.Record, rev string, msg *domain.OutboxMessage) error
}

// recordDoc carries the CouchDB revision alongside the domain record; the
// revision is the concurrency token for Apply's conditional write.
type recordDoc struct {
	Rev string `json:"_rev,omitempty"`
	domain.Record
}

type recordRepository struct {
	client *kivik.Client
	dbName string
}

func NewRecordRepository(client *kivik.Client, dbName string) RecordRepository {
	return &recordRepository{
		client: client,
		dbName: dbName,
	}
}

func recordDocID(kind domain.EntityKind, id string) string {
	return fmt.Sprintf("record:%s:%s", kind, id)
}

func (r *recordRepository) FindByID(ctx context.Context, kind domain.EntityKind, id string) (*domain.Record, string, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, recordDocID(kind, id))

	var doc recordDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to find record: %w", err)
	}

	return &doc.Record, doc.Rev, nil
}

func (r *recordRepository) List(ctx context.Context, userID string, kind domain.EntityKind) ([]*domain.Record, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id": userID,
			"kind":    kind,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.ScanDoc(&rec); err != nil {
			continue // Skip malformed docs
		}
		records = append(records, &rec)
	}

	return records, nil
}

func (r *recordRepository) Apply(ctx context.Context, rec *domain.Record, rev string, msg *domain.OutboxMessage) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Put(ctx, outboxDocID(msg.ID), msg); err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}

	doc := recordDoc{Rev: rev, Record: *rec}
	if _, err := db.Put(ctx, recordDocID(rec.Kind, rec.ID), doc); err != nil {
		// Another writer landed first; its revision is now current.
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrStaleRecord
		}
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

func toDoc(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
