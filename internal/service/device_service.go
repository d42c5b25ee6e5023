package service

import (
	"context"
	"errors"
	"time"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/repository"

	"github.com/google/uuid"
)

type DeviceService struct {
	repo repository.DeviceRepository
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{repo: repo}
}

// Register upserts by push token: re-registering the same token refreshes the
// existing device instead of creating a duplicate, and reactivates it if it
// had been retired.
func (s *DeviceService) Register(ctx context.Context, userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	now := time.Now().UTC()

	existing, err := s.repo.FindByToken(ctx, userID, req.PushToken)
	if err == nil {
		existing.Platform = req.Platform
		existing.Name = req.Name
		existing.Active = true
		existing.LastSeenAt = now

		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return deviceResponse(existing), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	device := &domain.UserDevice{
		ID:         uuid.New().String(),
		UserID:     userID,
		PushToken:  req.PushToken,
		Platform:   req.Platform,
		Name:       req.Name,
		LastSeenAt: now,
		CreatedAt:  now,
		Active:     true,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	return deviceResponse(device), nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, deviceResponse(d))
	}

	return responses, nil
}

func (s *DeviceService) Heartbeat(ctx context.Context, userID, deviceID string) error {
	device, err := s.owned(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	device.LastSeenAt = time.Now().UTC()
	return s.repo.Update(ctx, device)
}

// Retire flips the device inactive. The row stays so the registry keeps its
// history; only targeting stops considering it.
func (s *DeviceService) Retire(ctx context.Context, userID, deviceID string) error {
	device, err := s.owned(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	device.Active = false
	return s.repo.Update(ctx, device)
}

func (s *DeviceService) owned(ctx context.Context, userID, deviceID string) (*domain.UserDevice, error) {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil || device.UserID != userID {
		return nil, ErrNotFound
	}
	return device, nil
}

func deviceResponse(d *domain.UserDevice) *domain.DeviceResponse {
	return &domain.DeviceResponse{
		ID:         d.ID,
		Platform:   d.Platform,
		Name:       d.Name,
		LastSeenAt: d.LastSeenAt,
		Active:     d.Active,
	}
}
