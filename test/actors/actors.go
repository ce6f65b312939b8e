package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Proposer races competing pending offers onto the same order. The partial
// unique index allows at most one pending offer per order, so concurrent
// inserts are expected to collide.
func Proposer(ctx context.Context, pool *pgxpool.Pool, orderID, senderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := int64(1000 + rand.Intn(9000))
		_, err := pool.Exec(ctx, `INSERT INTO offers (order_id, sender_id, amount_cents, message, kind, negotiation_status)
                                   VALUES ($1,$2,$3,'stress offer','price_offer','pending')`, orderID, senderID, amount)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // one pending offer per order
				// expected under contention
			} else {
				return fmt.Errorf("proposer insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Responder races accept/decline decisions against pending offers. The CAS on
// negotiation_status guarantees only one decision applies per offer.
func Responder(ctx context.Context, pool *pgxpool.Pool, orderID string, stop <-chan struct{}) error {
	verdicts := []string{"accepted", "declined"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var offerID string
		err = tx.QueryRow(ctx, `SELECT id FROM offers WHERE order_id=$1 AND negotiation_status='pending' LIMIT 1 FOR UPDATE SKIP LOCKED`, orderID).Scan(&offerID)
		if err == nil {
			verdict := verdicts[rand.Intn(len(verdicts))]
			_, err = tx.Exec(ctx, `UPDATE offers SET negotiation_status=$2::offer_negotiation_status, responded_at=now()
                                    WHERE id=$1 AND negotiation_status='pending'`, offerID, verdict)
			if err == nil && verdict == "accepted" {
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('offer.accepted', jsonb_build_object('offer_id',$1))`, offerID)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// PaymentConfirmer replays the same payment confirmation. The idempotency key
// plus the pending-only CAS must let exactly one replay move the order.
func PaymentConfirmer(ctx context.Context, pool *pgxpool.Pool, orderID, sessionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1) ON CONFLICT DO NOTHING`, "payment:"+sessionID+fmt.Sprint(rand.Intn(3)))
		if err == nil && tag.RowsAffected() > 0 {
			_, err = tx.Exec(ctx, `UPDATE orders SET status='accepted', paid_at=COALESCE(paid_at, now()), payment_session_id=COALESCE(payment_session_id,$2), updated_at=now()
                                    WHERE id=$1 AND status='pending'`, orderID, sessionID)
			if err == nil {
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('payment.received', jsonb_build_object('order_id',$1))`, orderID)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Scanner races handoff scans. The NULL guard on the confirmation column and
// the status CAS together consume each code at most once.
func Scanner(ctx context.Context, pool *pgxpool.Pool, orderID, requesterID, providerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		// delivery scan: accepted -> ongoing
		tag, err := tx.Exec(ctx, `UPDATE orders SET delivery_confirmed_at=now()
                                   WHERE id=$1 AND status='accepted' AND delivery_confirmed_at IS NULL`, orderID)
		if err == nil && tag.RowsAffected() > 0 {
			_, err = tx.Exec(ctx, `UPDATE orders SET status='ongoing', updated_at=now() WHERE id=$1 AND status='accepted'`, orderID)
		}

		// return scan: ongoing -> completed, with XP grants for both sides
		if err == nil {
			tag, err = tx.Exec(ctx, `UPDATE orders SET return_confirmed_at=now()
                                      WHERE id=$1 AND status='ongoing' AND delivery_confirmed_at IS NOT NULL AND return_confirmed_at IS NULL`, orderID)
			if err == nil && tag.RowsAffected() > 0 {
				_, err = tx.Exec(ctx, `UPDATE orders SET status='completed', updated_at=now() WHERE id=$1 AND status='ongoing'`, orderID)
				if err == nil {
					for _, userID := range []string{requesterID, providerID} {
						_, _ = tx.Exec(ctx, `INSERT INTO xp_awards (user_id, points, reason, order_id)
                                              VALUES ($1, 50, 'order_completed', $2) ON CONFLICT DO NOTHING`, userID, orderID)
					}
					_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('order.completed', jsonb_build_object('order_id',$1))`, orderID)
				}
			}
		}

		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks processed.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
