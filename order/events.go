package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox topics emitted by the order lifecycle. The notify dispatcher maps
// these to per-user notifications; delivery is best-effort and never part of
// a transition's atomicity guarantee.
const (
	TopicOrderRequested = "order.requested"
	TopicOrderAccepted  = "order.accepted"
	TopicOrderDeclined  = "order.declined"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderOverdue   = "order.overdue"
	TopicOrderCompleted = "order.completed"
)

// Recorder appends order_events rows and enqueues outbox messages inside the
// caller's transaction. Both tables are append-only.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append inserts an immutable order event.
func (r *Recorder) Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal event payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const q = `
INSERT INTO order_events (order_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, orderID, eventType, body, actor); err != nil {
		return fmt.Errorf("order: insert order event: %w", err)
	}
	return nil
}

// Enqueue writes a transactional outbox message for the dispatcher.
func (r *Recorder) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal outbox payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("order: enqueue outbox: %w", err)
	}
	return nil
}
