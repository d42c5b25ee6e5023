package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/outbox"
	"leaflet-sync-server/internal/repository"
	"leaflet-sync-server/internal/websocket"
)

// PushSender delivers one notification to one device. The provider protocol
// behind it is not this server's concern.
type PushSender interface {
	Send(ctx context.Context, device *domain.UserDevice, kind domain.EventKind, payload json.RawMessage) error
}

// LogPushSender is the development sender: it delivers nowhere and logs what
// it would have sent.
type LogPushSender struct{}

func (LogPushSender) Send(_ context.Context, device *domain.UserDevice, kind domain.EventKind, _ json.RawMessage) error {
	log.Printf("[Notify] would push %s to device %s (%s)", kind, device.ID, device.Platform)
	return nil
}

// NotificationService resolves which devices should hear about a change and
// fans the notification out to them.
type NotificationService struct {
	devices repository.DeviceRepository
	sender  PushSender
	ws      *websocket.Manager
}

func NewNotificationService(devices repository.DeviceRepository, sender PushSender, ws *websocket.Manager) *NotificationService {
	return &NotificationService{
		devices: devices,
		sender:  sender,
		ws:      ws,
	}
}

// ResolveTargets returns the user's active devices, minus the origin device
// when one is given: a device that just made a change is not told to re-sync
// from itself. An empty result is a success.
func (s *NotificationService) ResolveTargets(ctx context.Context, userID, originDeviceID string) ([]*domain.UserDevice, error) {
	devices, err := s.devices.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	targets := make([]*domain.UserDevice, 0, len(devices))
	for _, device := range devices {
		if originDeviceID != "" && device.ID == originDeviceID {
			continue
		}
		targets = append(targets, device)
	}

	return targets, nil
}

// HandleChangeEvent is the dispatcher's handler for record-change events. A
// failed send to one device is logged and does not fail the others or the
// message; only targeting itself failing makes the attempt retryable.
func (s *NotificationService) HandleChangeEvent(ctx context.Context, msg *domain.OutboxMessage) error {
	var payload domain.ChangeEventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("malformed change payload: %w", err)
	}

	// The acting user comes from the message scope, not from any request.
	scope, ok := outbox.ScopeFrom(ctx)
	if !ok {
		return fmt.Errorf("no message scope on context")
	}

	targets, err := s.ResolveTargets(ctx, scope.UserID, payload.OriginDeviceID)
	if err != nil {
		return fmt.Errorf("failed to resolve targets: %w", err)
	}

	for _, device := range targets {
		if err := s.sender.Send(ctx, device, msg.Kind, msg.Payload); err != nil {
			log.Printf("[Notify] push to device %s failed: %v", device.ID, err)
		}
	}

	if s.ws != nil {
		if err := s.pingConnected(scope.UserID, &payload); err != nil {
			log.Printf("[Notify] websocket ping for user %s failed: %v", scope.UserID, err)
		}
	}

	return nil
}

func (s *NotificationService) pingConnected(userID string, payload *domain.ChangeEventPayload) error {
	wsMsg, err := websocket.NewMessage(websocket.TypeSyncNeeded, &websocket.SyncNeededPayload{
		Entity:         string(payload.Entity),
		RecordID:       payload.RecordID,
		Version:        payload.Version,
		Deleted:        payload.Deleted,
		OriginDeviceID: payload.OriginDeviceID,
		OccurredAt:     payload.OccurredAt,
	})
	if err != nil {
		return err
	}

	return s.ws.BroadcastToUser(userID, wsMsg, payload.OriginDeviceID)
}
