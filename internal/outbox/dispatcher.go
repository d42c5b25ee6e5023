package outbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"leaflet-sync-server/internal/domain"
)

// Queue is the slice of outbox storage the dispatcher needs.
type Queue interface {
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error)
	Update(ctx context.Context, msg *domain.OutboxMessage) error
}

// HandlerFunc processes one claimed message. Delivery is at-least-once, so
// handlers must tolerate replays.
type HandlerFunc func(ctx context.Context, msg *domain.OutboxMessage) error

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	ClaimLease   time.Duration
}

// Dispatcher polls the outbox, claims pending messages oldest first, and runs
// the handler registered for each message's event kind. A failed attempt
// leaves the message pending for the next cycle until the retry budget is
// spent, at which point the message is parked as failed for an operator.
type Dispatcher struct {
	queue    Queue
	cfg      Config
	handlers map[domain.EventKind]HandlerFunc
}

func NewDispatcher(queue Queue, cfg Config) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[domain.EventKind]HandlerFunc),
	}
}

// Handle registers the handler for an event kind. Not safe to call after Run.
func (d *Dispatcher) Handle(kind domain.EventKind, h HandlerFunc) {
	d.handlers[kind] = h
}

// Run blocks, polling until ctx is cancelled. The inter-cycle sleep and the
// claim step both exit promptly on cancellation; the message being handled at
// that moment is allowed to finish and record its outcome.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("[Outbox] dispatcher started (batch=%d, interval=%s, retries=%d)",
		d.cfg.BatchSize, d.cfg.PollInterval, d.cfg.MaxAttempts)

	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()

	for {
		d.cycle(ctx)

		timer.Reset(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			log.Printf("[Outbox] dispatcher stopped")
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	msgs, err := d.queue.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.ClaimLease)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[Outbox] claim failed: %v", err)
		}
		return
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			// Unprocessed claims stay leased and become reclaimable when the
			// lease lapses.
			return
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *domain.OutboxMessage) {
	now := time.Now().UTC()
	msg.Attempts++
	msg.LastAttemptAt = &now

	var err error
	if handler, ok := d.handlers[msg.Kind]; ok {
		// The scope dies with this derived context; nothing outlives the
		// attempt.
		err = handler(WithScope(ctx, MessageScope{MessageID: msg.ID, UserID: msg.UserID}), msg)
	} else {
		err = fmt.Errorf("no handler registered for event kind %q", msg.Kind)
	}

	msg.LeaseUntil = nil
	switch {
	case err == nil:
		msg.Status = domain.OutboxDispatched
		msg.LastError = ""
	case msg.Attempts >= d.cfg.MaxAttempts:
		msg.Status = domain.OutboxFailed
		msg.LastError = err.Error()
		log.Printf("[Outbox] message %s poisoned after %d attempts: %v", msg.ID, msg.Attempts, err)
	default:
		msg.Status = domain.OutboxPending
		msg.LastError = err.Error()
		log.Printf("[Outbox] message %s attempt %d/%d failed: %v", msg.ID, msg.Attempts, d.cfg.MaxAttempts, err)
	}

	// The outcome write survives shutdown so a finished attempt is never left
	// claimed-but-unrecorded.
	if uerr := d.queue.Update(context.WithoutCancel(ctx), msg); uerr != nil {
		log.Printf("[Outbox] failed to record outcome for message %s: %v", msg.ID, uerr)
	}
}
