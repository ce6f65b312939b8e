package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const offerColumns = `id::text, order_id::text, sender_id::text, amount_cents, message,
kind::text, negotiation_status::text, created_at, responded_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var (
		o      Offer
		kind   string
		status string
	)
	err := row.Scan(&o.ID, &o.OrderID, &o.SenderID, &o.AmountCents, &o.Message,
		&kind, &status, &o.CreatedAt, &o.RespondedAt)
	if err != nil {
		return Offer{}, err
	}
	o.Kind = OfferKind(kind)
	o.Status = NegotiationStatus(status)
	return o, nil
}

// PGRepository is the Postgres-backed data access for offers.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateOfferParams enumerates the fields of a new offer insert.
type CreateOfferParams struct {
	OrderID     string
	SenderID    string
	AmountCents int64
	Message     string
	Kind        OfferKind
}

// CreateTx inserts a new pending offer and declines any prior pending offer
// on the same thread, keeping at most one pending offer per order.
func (r *PGRepository) CreateTx(ctx context.Context, tx pgx.Tx, params CreateOfferParams) (Offer, error) {
	if _, err := tx.Exec(ctx, `
UPDATE offers
SET negotiation_status = 'declined',
    responded_at = get_tx_timestamp()
WHERE order_id = $1 AND negotiation_status = 'pending'
`, params.OrderID); err != nil {
		return Offer{}, fmt.Errorf("negotiation: supersede pending offers: %w", err)
	}

	const q = `
INSERT INTO offers (order_id, sender_id, amount_cents, message, kind, negotiation_status)
VALUES ($1, $2, $3, $4, $5::offer_kind, 'pending')
RETURNING ` + offerColumns

	offer, err := scanOffer(tx.QueryRow(ctx, q,
		params.OrderID, params.SenderID, params.AmountCents, params.Message, params.Kind))
	if err != nil {
		return Offer{}, fmt.Errorf("negotiation: insert offer: %w", err)
	}
	return offer, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Offer, error) {
	offer, err := scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrOfferNotFound
		}
		return Offer{}, fmt.Errorf("negotiation: get offer: %w", err)
	}
	return offer, nil
}

// LockTx loads the offer FOR UPDATE inside the caller's transaction.
func (r *PGRepository) LockTx(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	offer, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrOfferNotFound
		}
		return Offer{}, fmt.Errorf("negotiation: lock offer: %w", err)
	}
	return offer, nil
}

// RespondTx flips a pending offer to accepted or declined. The WHERE clause
// on negotiation_status is the concurrency guard against two responses both
// applying.
func (r *PGRepository) RespondTx(ctx context.Context, tx pgx.Tx, offerID string, status NegotiationStatus) error {
	tag, err := tx.Exec(ctx, `
UPDATE offers
SET negotiation_status = $2::offer_negotiation_status,
    responded_at = get_tx_timestamp()
WHERE id = $1 AND negotiation_status = 'pending'
`, offerID, status)
	if err != nil {
		return fmt.Errorf("negotiation: update offer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListForOrder returns the negotiation thread for an order, oldest first.
func (r *PGRepository) ListForOrder(ctx context.Context, orderID string) ([]Offer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("negotiation: list offers: %w", err)
	}
	defer rows.Close()

	offers := make([]Offer, 0, 8)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("negotiation: scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("negotiation: iterate offers: %w", err)
	}
	return offers, nil
}

// InsertConfirmationKey reserves the payment confirmation idempotency key
// inside the active transaction.
func (r *PGRepository) InsertConfirmationKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("negotiation: empty confirmation key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateConfirmation
		}
		return fmt.Errorf("negotiation: insert confirmation key: %w", err)
	}
	return nil
}

// MarkPaidTx records payment receipt, moving the order from pending to
// accepted. Returns false when the order already left pending, which callers
// treat as an idempotent no-op.
func (r *PGRepository) MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, sessionID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = 'accepted',
    paid_at = COALESCE(paid_at, get_tx_timestamp()),
    payment_session_id = COALESCE(payment_session_id, $2),
    updated_at = get_tx_timestamp()
WHERE id = $1 AND status = 'pending'
`, orderID, sessionID)
	if err != nil {
		return false, fmt.Errorf("negotiation: mark paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
