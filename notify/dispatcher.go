package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"borrowpal/handoff"
	"borrowpal/negotiation"
	"borrowpal/order"
)

// NotificationWriter writes notification rows inside the dispatcher's tx.
type NotificationWriter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) error
}

// XPAwarder grants gamification awards for completed orders.
type XPAwarder interface {
	AwardOrderCompletedTx(ctx context.Context, tx pgx.Tx, orderID, requesterID, providerID string) error
}

// DispatchPool is the slice of pgxpool.Pool the dispatcher needs: one
// transaction per message, plus a pool-level write for attempt bookkeeping
// that must survive the rolled-back message transaction.
type DispatchPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Dispatcher drains the transactional outbox and fans each message out to
// per-user notifications and gamification awards. Every message is handled
// in its own transaction; failures bump the attempt counter and the row is
// parked as dead after maxAttempts. Dispatch failures never touch the
// lifecycle rows that produced the message.
type Dispatcher struct {
	pool        DispatchPool
	repo        NotificationWriter
	xp          XPAwarder
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(pool *pgxpool.Pool, repo NotificationWriter, xp XPAwarder) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		repo:        repo,
		xp:          xp,
		interval:    2 * time.Second,
		batchSize:   25,
		maxAttempts: 5,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				log.Printf("notify: drain outbox: %v", err)
			}
		}
	}
}

type outboxRow struct {
	ID       string
	Topic    string
	Payload  map[string]any
	Attempts int
}

// DrainOnce processes up to one batch of pending outbox messages, each in
// its own transaction so one poisoned message cannot stall the rest.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	for i := 0; i < d.batchSize; i++ {
		processed, err := d.dispatchNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) dispatchNext(ctx context.Context) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		row outboxRow
		raw []byte
	)
	err = tx.QueryRow(ctx, `
SELECT id::text, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED
`).Scan(&row.ID, &row.Topic, &raw, &row.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notify: select outbox: %w", err)
	}

	err = json.Unmarshal(raw, &row.Payload)
	if err == nil {
		err = d.handle(ctx, tx, row)
	}
	if err != nil {
		// Suppressed: the message is retried, the source transition stays.
		log.Printf("notify: handle %s (%s): %v", row.ID, row.Topic, err)
		tx.Rollback(ctx)
		return true, d.recordFailure(ctx, row)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE outbox SET status = 'processed' WHERE id = $1`, row.ID); err != nil {
		return false, fmt.Errorf("notify: mark processed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("notify: commit dispatch: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, row outboxRow) error {
	status := "pending"
	if row.Attempts+1 >= d.maxAttempts {
		status = "dead"
	}
	if _, err := d.pool.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1 AND status = 'pending'`,
		row.ID, status); err != nil {
		return fmt.Errorf("notify: record failure: %w", err)
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, tx pgx.Tx, row outboxRow) error {
	str := func(key string) string {
		s, _ := row.Payload[key].(string)
		return s
	}
	cents := func(key string) int64 {
		f, _ := row.Payload[key].(float64)
		return int64(f)
	}
	dollars := func(key string) string {
		return fmt.Sprintf("$%.2f", float64(cents(key))/100)
	}

	switch row.Topic {
	case order.TopicOrderRequested:
		return d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        str("provider_id"),
			Type:          "order_requested",
			Title:         "New Booking Request",
			Message:       fmt.Sprintf("You have a new booking request for %s", dollars("amount_cents")),
			ReferenceID:   str("order_id"),
			ReferenceType: "order",
		})

	case order.TopicOrderAccepted, order.TopicOrderDeclined, order.TopicOrderCancelled, order.TopicOrderOverdue:
		recipient := str("requester_id")
		if str("actor_id") == recipient {
			recipient = str("provider_id")
		}
		return d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        recipient,
			Type:          row.Topic,
			Title:         "Order Update",
			Message:       fmt.Sprintf("Your order is now %s", str("next")),
			ReferenceID:   str("order_id"),
			ReferenceType: "order",
		})

	case negotiation.TopicOfferProposed:
		return d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        str("recipient_id"),
			Type:          "offer_received",
			Title:         "New Price Offer",
			Message:       fmt.Sprintf("You received an offer of %s", dollars("amount_cents")),
			ReferenceID:   str("order_id"),
			ReferenceType: "order",
		})

	case negotiation.TopicOfferAccepted, negotiation.TopicOfferDeclined:
		verdict := "accepted"
		if row.Topic == negotiation.TopicOfferDeclined {
			verdict = "declined"
		}
		return d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        str("recipient_id"),
			Type:          "offer_" + verdict,
			Title:         "Offer " + verdict,
			Message:       fmt.Sprintf("Your offer of %s was %s", dollars("amount_cents"), verdict),
			ReferenceID:   str("offer_id"),
			ReferenceType: "offer",
		})

	case negotiation.TopicPaymentReceived:
		return d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        str("recipient_id"),
			Type:          "payment_received",
			Title:         "Payment Received",
			Message:       fmt.Sprintf("You have received a payment of %s", dollars("amount_cents")),
			ReferenceID:   str("order_id"),
			ReferenceType: "order",
		})

	case handoff.TopicHandoffConfirmed:
		return d.notifyBoth(ctx, tx, row, "handoff_confirmed", "Handoff Confirmed",
			fmt.Sprintf("The %s handoff was confirmed", str("action")))

	case order.TopicOrderCompleted:
		if d.xp != nil {
			if err := d.xp.AwardOrderCompletedTx(ctx, tx, str("order_id"), str("requester_id"), str("provider_id")); err != nil {
				return err
			}
		}
		return d.notifyBoth(ctx, tx, row, "order_completed", "Order Completed",
			"Your order is complete. Thanks for using BorrowPal!")

	default:
		// Unknown topics are processed without effect so the outbox drains.
		log.Printf("notify: dropping unknown topic %q", row.Topic)
		return nil
	}
}

func (d *Dispatcher) notifyBoth(ctx context.Context, tx pgx.Tx, row outboxRow, typ, title, message string) error {
	str := func(key string) string {
		s, _ := row.Payload[key].(string)
		return s
	}
	for _, userID := range []string{str("requester_id"), str("provider_id")} {
		if userID == "" {
			continue
		}
		if err := d.repo.InsertTx(ctx, tx, InsertParams{
			UserID:        userID,
			Type:          typ,
			Title:         title,
			Message:       message,
			ReferenceID:   str("order_id"),
			ReferenceType: "order",
		}); err != nil {
			return err
		}
	}
	return nil
}
