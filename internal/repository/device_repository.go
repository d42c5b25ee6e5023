package repository

import (
	"context"
	"fmt"
	"net/http"

	"leaflet-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.UserDevice) error
	FindByID(ctx context.Context, deviceID string) (*domain.UserDevice, error)
	// FindByToken locates the user's device carrying the given push token,
	// the upsert key for re-registration.
	FindByToken(ctx context.Context, userID, pushToken string) (*domain.UserDevice, error)
	List(ctx context.Context, userID string) ([]*domain.UserDevice, error)
	ListActive(ctx context.Context, userID string) ([]*domain.UserDevice, error)
	Update(ctx context.Context, device *domain.UserDevice) error
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func deviceDocID(id string) string {
	return fmt.Sprintf("device:%s", id)
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.UserDevice) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Put(ctx, deviceDocID(device.ID), device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.UserDevice, error) {
	db := r.client.DB(r.dbName)

	var device domain.UserDevice
	if err := db.Get(ctx, deviceDocID(deviceID)).ScanDoc(&device); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	return &device, nil
}

func (r *deviceRepository) FindByToken(ctx context.Context, userID, pushToken string) (*domain.UserDevice, error) {
	devices, err := r.find(ctx, map[string]interface{}{
		"user_id":    userID,
		"push_token": pushToken,
	})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNotFound
	}

	return devices[0], nil
}

func (r *deviceRepository) List(ctx context.Context, userID string) ([]*domain.UserDevice, error) {
	return r.find(ctx, map[string]interface{}{
		"user_id":    userID,
		"push_token": map[string]interface{}{"$exists": true},
	})
}

func (r *deviceRepository) ListActive(ctx context.Context, userID string) ([]*domain.UserDevice, error) {
	return r.find(ctx, map[string]interface{}{
		"user_id":    userID,
		"push_token": map[string]interface{}{"$exists": true},
		"active":     true,
	})
}

func (r *deviceRepository) Update(ctx context.Context, device *domain.UserDevice) error {
	db := r.client.DB(r.dbName)
	docID := deviceDocID(device.ID)

	doc, err := toDoc(device)
	if err != nil {
		return fmt.Errorf("failed to encode device: %w", err)
	}

	var existing map[string]interface{}
	if err := db.Get(ctx, docID).ScanDoc(&existing); err != nil {
		return fmt.Errorf("failed to fetch device for update: %w", err)
	}
	doc["_rev"] = existing["_rev"]

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	return nil
}

func (r *deviceRepository) find(ctx context.Context, selector map[string]interface{}) ([]*domain.UserDevice, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(ctx, map[string]interface{}{"selector": selector})
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.UserDevice
	for rows.Next() {
		var device domain.UserDevice
		if err := rows.ScanDoc(&device); err != nil {
			continue // Skip malformed docs
		}
		devices = append(devices, &device)
	}

	return devices, nil
}
