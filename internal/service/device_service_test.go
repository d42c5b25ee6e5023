package service

import (
	"context"
	"testing"
	"time"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/repository"
)

type mockDeviceRepository struct {
	devices map[string]*domain.UserDevice
}

func newMockDeviceRepository() *mockDeviceRepository {
	return &mockDeviceRepository{
		devices: make(map[string]*domain.UserDevice),
	}
}

func (m *mockDeviceRepository) Create(_ context.Context, device *domain.UserDevice) error {
	m.devices[device.ID] = device
	return nil
}

func (m *mockDeviceRepository) FindByID(_ context.Context, deviceID string) (*domain.UserDevice, error) {
	if device, ok := m.devices[deviceID]; ok {
		return device, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockDeviceRepository) FindByToken(_ context.Context, userID, pushToken string) (*domain.UserDevice, error) {
	for _, device := range m.devices {
		if device.UserID == userID && device.PushToken == pushToken {
			return device, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockDeviceRepository) List(_ context.Context, userID string) ([]*domain.UserDevice, error) {
	var devices []*domain.UserDevice
	for _, device := range m.devices {
		if device.UserID == userID {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

func (m *mockDeviceRepository) ListActive(_ context.Context, userID string) ([]*domain.UserDevice, error) {
	var devices []*domain.UserDevice
	for _, device := range m.devices {
		if device.UserID == userID && device.Active {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

func (m *mockDeviceRepository) Update(_ context.Context, device *domain.UserDevice) error {
	m.devices[device.ID] = device
	return nil
}

func TestDeviceService_Register(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	resp, err := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "android",
		Name:      "Pixel",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if resp.ID == "" {
		t.Error("Register() returned empty device id")
	}
	if !resp.Active {
		t.Error("Register() new device should be active")
	}
	if len(repo.devices) != 1 {
		t.Errorf("Register() stored %d devices, want 1", len(repo.devices))
	}
}

func TestDeviceService_RegisterUpsertsByToken(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	first, err := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "android",
		Name:      "Pixel",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Retire it, then re-register the same token.
	if err := service.Retire(ctx, "user-1", first.ID); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	second, err := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "android",
		Name:      "Pixel 9",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Register() created new device %s, want upsert of %s", second.ID, first.ID)
	}
	if len(repo.devices) != 1 {
		t.Errorf("Register() stored %d devices, want 1", len(repo.devices))
	}
	if !second.Active {
		t.Error("Register() re-registration should reactivate the device")
	}
	if second.Name != "Pixel 9" {
		t.Errorf("Register() name = %q, want refreshed name", second.Name)
	}
}

func TestDeviceService_RegisterSameTokenDifferentUsers(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	a, err := service.Register(ctx, "user-a", &domain.RegisterDeviceRequest{
		PushToken: "shared-token",
		Platform:  "ios",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	b, err := service.Register(ctx, "user-b", &domain.RegisterDeviceRequest{
		PushToken: "shared-token",
		Platform:  "ios",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if a.ID == b.ID {
		t.Error("Register() token upsert must be scoped per user")
	}
}

func TestDeviceService_Heartbeat(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	resp, _ := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "desktop",
	})

	stale := time.Now().UTC().Add(-time.Hour)
	repo.devices[resp.ID].LastSeenAt = stale

	if err := service.Heartbeat(ctx, "user-1", resp.ID); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	if !repo.devices[resp.ID].LastSeenAt.After(stale) {
		t.Error("Heartbeat() did not advance LastSeenAt")
	}
}

func TestDeviceService_HeartbeatUnownedDevice(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	resp, _ := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "web",
	})

	err := service.Heartbeat(ctx, "user-2", resp.ID)
	if err != ErrNotFound {
		t.Errorf("Heartbeat() error = %v, want ErrNotFound for foreign device", err)
	}

	err = service.Heartbeat(ctx, "user-1", "no-such-device")
	if err != ErrNotFound {
		t.Errorf("Heartbeat() error = %v, want ErrNotFound for unknown device", err)
	}
}

func TestDeviceService_Retire(t *testing.T) {
	repo := newMockDeviceRepository()
	service := NewDeviceService(repo)
	ctx := context.Background()

	resp, _ := service.Register(ctx, "user-1", &domain.RegisterDeviceRequest{
		PushToken: "token-abc",
		Platform:  "ios",
	})

	if err := service.Retire(ctx, "user-1", resp.ID); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	device := repo.devices[resp.ID]
	if device == nil {
		t.Fatal("Retire() removed the device row, want it kept inactive")
	}
	if device.Active {
		t.Error("Retire() device still active")
	}

	active, _ := repo.ListActive(ctx, "user-1")
	if len(active) != 0 {
		t.Errorf("Retire() device still listed active, got %d", len(active))
	}
}
