package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"leaflet-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type OutboxRepository interface {
	Append(ctx context.Context, msg *domain.OutboxMessage) error
	// ClaimBatch claims up to limit pending messages, oldest first, stamping
	// each with a lease. Claiming races on the document revision, so two
	// concurrent dispatchers can never claim the same message; messages whose
	// lease has expired are claimable again.
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error)
	// Update persists the dispatcher-owned fields (status, attempts, last
	// attempt, last error, lease) of a claimed message.
	Update(ctx context.Context, msg *domain.OutboxMessage) error
	FindByID(ctx context.Context, userID, id string) (*domain.OutboxMessage, error)
	ListFailed(ctx context.Context, userID string) ([]*domain.OutboxMessage, error)
	// Requeue resets a poisoned message to pending with a fresh retry budget.
	Requeue(ctx context.Context, userID, id string) error
}

type outboxRepository struct {
	client *kivik.Client
	dbName string
}

func NewOutboxRepository(client *kivik.Client, dbName string) OutboxRepository {
	return &outboxRepository{
		client: client,
		dbName: dbName,
	}
}

func outboxDocID(id string) string {
	return fmt.Sprintf("outbox:%s", id)
}

// outboxDoc carries the CouchDB revision alongside the message fields so a
// claim can be written back as a compare-and-swap on _rev.
type outboxDoc struct {
	Rev string `json:"_rev,omitempty"`
	domain.OutboxMessage
}

func (r *outboxRepository) Append(ctx context.Context, msg *domain.OutboxMessage) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Put(ctx, outboxDocID(msg.ID), msg); err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}

	return nil
}

func (r *outboxRepository) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"status": domain.OutboxPending,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()

	var candidates []*outboxDoc
	for rows.Next() {
		var doc outboxDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		if doc.LeaseUntil != nil && doc.LeaseUntil.After(now) {
			continue // Still claimed by a live dispatcher.
		}
		candidates = append(candidates, &doc)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	until := now.Add(lease)

	var claimed []*domain.OutboxMessage
	for _, doc := range candidates {
		if len(claimed) >= limit {
			break
		}

		doc.LeaseUntil = &until
		if _, err := db.Put(ctx, outboxDocID(doc.OutboxMessage.ID), doc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusConflict {
				continue // Another dispatcher won this message.
			}
			return claimed, fmt.Errorf("failed to claim outbox message: %w", err)
		}

		msg := doc.OutboxMessage
		claimed = append(claimed, &msg)
	}

	return claimed, nil
}

func (r *outboxRepository) Update(ctx context.Context, msg *domain.OutboxMessage) error {
	db := r.client.DB(r.dbName)
	docID := outboxDocID(msg.ID)

	var existing map[string]interface{}
	if err := db.Get(ctx, docID).ScanDoc(&existing); err != nil {
		return fmt.Errorf("failed to fetch outbox message for update: %w", err)
	}

	existing["status"] = msg.Status
	existing["attempts"] = msg.Attempts
	existing["last_attempt_at"] = msg.LastAttemptAt
	existing["lease_until"] = msg.LeaseUntil
	if msg.LastError != "" {
		existing["last_error"] = msg.LastError
	} else {
		delete(existing, "last_error")
	}

	if _, err := db.Put(ctx, docID, existing); err != nil {
		return fmt.Errorf("failed to update outbox message: %w", err)
	}

	return nil
}

func (r *outboxRepository) FindByID(ctx context.Context, userID, id string) (*domain.OutboxMessage, error) {
	db := r.client.DB(r.dbName)

	var msg domain.OutboxMessage
	if err := db.Get(ctx, outboxDocID(id)).ScanDoc(&msg); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find outbox message: %w", err)
	}

	// Absent and unowned look identical to the caller.
	if msg.UserID != userID {
		return nil, ErrNotFound
	}

	return &msg, nil
}

func (r *outboxRepository) ListFailed(ctx context.Context, userID string) ([]*domain.OutboxMessage, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"status":  domain.OutboxFailed,
			"user_id": userID,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list failed messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.ScanDoc(&msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}

	return msgs, nil
}

func (r *outboxRepository) Requeue(ctx context.Context, userID, id string) error {
	db := r.client.DB(r.dbName)
	docID := outboxDocID(id)

	var doc outboxDoc
	if err := db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch outbox message: %w", err)
	}

	if doc.UserID != userID {
		return ErrNotFound
	}
	if doc.Status != domain.OutboxFailed {
		return fmt.Errorf("outbox message %s is not failed", id)
	}

	doc.Status = domain.OutboxPending
	doc.Attempts = 0
	doc.LastError = ""
	doc.LeaseUntil = nil

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to requeue outbox message: %w", err)
	}

	return nil
}
