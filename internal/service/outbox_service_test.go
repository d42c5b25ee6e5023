package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/repository"
)

type mockOutboxRepository struct {
	messages map[string]*domain.OutboxMessage
}

func newMockOutboxRepository() *mockOutboxRepository {
	return &mockOutboxRepository{messages: make(map[string]*domain.OutboxMessage)}
}

func (m *mockOutboxRepository) Append(_ context.Context, msg *domain.OutboxMessage) error {
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockOutboxRepository) ClaimBatch(context.Context, int, time.Duration) ([]*domain.OutboxMessage, error) {
	return nil, nil
}

func (m *mockOutboxRepository) Update(_ context.Context, msg *domain.OutboxMessage) error {
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockOutboxRepository) FindByID(_ context.Context, userID, id string) (*domain.OutboxMessage, error) {
	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return msg, nil
}

func (m *mockOutboxRepository) ListFailed(_ context.Context, userID string) ([]*domain.OutboxMessage, error) {
	var out []*domain.OutboxMessage
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.Status == domain.OutboxFailed {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockOutboxRepository) Requeue(_ context.Context, userID, id string) error {
	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return repository.ErrNotFound
	}
	if msg.Status != domain.OutboxFailed {
		return errors.New("message is not failed")
	}
	msg.Status = domain.OutboxPending
	msg.Attempts = 0
	msg.LastError = ""
	return nil
}

func TestOutboxService_ListFailed(t *testing.T) {
	repo := newMockOutboxRepository()
	repo.messages["m1"] = &domain.OutboxMessage{ID: "m1", UserID: "user-1", Status: domain.OutboxFailed}
	repo.messages["m2"] = &domain.OutboxMessage{ID: "m2", UserID: "user-1", Status: domain.OutboxDispatched}
	repo.messages["m3"] = &domain.OutboxMessage{ID: "m3", UserID: "user-2", Status: domain.OutboxFailed}

	service := NewOutboxService(repo)

	failed, err := service.ListFailed(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListFailed() error = %v", err)
	}

	if len(failed) != 1 || failed[0].ID != "m1" {
		t.Errorf("ListFailed() returned %d messages, want just the user's poisoned one", len(failed))
	}
}

func TestOutboxService_Requeue(t *testing.T) {
	repo := newMockOutboxRepository()
	repo.messages["m1"] = &domain.OutboxMessage{
		ID:        "m1",
		UserID:    "user-1",
		Status:    domain.OutboxFailed,
		Attempts:  10,
		LastError: "downstream unavailable",
	}

	service := NewOutboxService(repo)

	if err := service.Requeue(context.Background(), "user-1", "m1"); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	msg := repo.messages["m1"]
	if msg.Status != domain.OutboxPending {
		t.Errorf("Requeue() status = %s, want pending", msg.Status)
	}
	if msg.Attempts != 0 {
		t.Errorf("Requeue() attempts = %d, want reset retry budget", msg.Attempts)
	}
}

func TestOutboxService_RequeueNotFound(t *testing.T) {
	repo := newMockOutboxRepository()
	repo.messages["m1"] = &domain.OutboxMessage{ID: "m1", UserID: "user-2", Status: domain.OutboxFailed}

	service := NewOutboxService(repo)

	// A foreign message reads as not found; ownership never leaks.
	if err := service.Requeue(context.Background(), "user-1", "m1"); err != ErrNotFound {
		t.Errorf("Requeue() error = %v, want ErrNotFound", err)
	}

	if err := service.Requeue(context.Background(), "user-1", "missing"); err != ErrNotFound {
		t.Errorf("Requeue() error = %v, want ErrNotFound", err)
	}
}

func TestOutboxService_RequeueNonFailed(t *testing.T) {
	repo := newMockOutboxRepository()
	repo.messages["m1"] = &domain.OutboxMessage{ID: "m1", UserID: "user-1", Status: domain.OutboxDispatched}

	service := NewOutboxService(repo)

	if err := service.Requeue(context.Background(), "user-1", "m1"); err == nil {
		t.Error("Requeue() on a dispatched message should fail")
	}
}
