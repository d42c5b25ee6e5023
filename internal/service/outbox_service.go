package service

import (
	"context"
	"errors"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/repository"
)

// OutboxService is the operator surface over poisoned messages: inspect them,
// put them back in line. It never deletes anything.
type OutboxService struct {
	repo repository.OutboxRepository
}

func NewOutboxService(repo repository.OutboxRepository) *OutboxService {
	return &OutboxService{repo: repo}
}

func (s *OutboxService) ListFailed(ctx context.Context, userID string) ([]*domain.OutboxMessage, error) {
	return s.repo.ListFailed(ctx, userID)
}

// Requeue resets a poisoned message to pending with a fresh retry budget.
func (s *OutboxService) Requeue(ctx context.Context, userID, messageID string) error {
	err := s.repo.Requeue(ctx, userID, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
