package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id::text, kind::text, requester_id::text, provider_id::text,
amount_cents, deposit_cents, status::text,
delivery_confirmed_at, return_confirmed_at, service_started_at, service_completed_at,
delivery_code, return_code, service_start_code, service_complete_code,
paid_at, payment_session_id, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		kind   string
		status string
	)
	err := row.Scan(
		&o.ID, &kind, &o.RequesterID, &o.ProviderID,
		&o.AmountCents, &o.DepositCents, &status,
		&o.DeliveryConfirmedAt, &o.ReturnConfirmedAt, &o.ServiceStartedAt, &o.ServiceCompletedAt,
		&o.DeliveryCode, &o.ReturnCode, &o.ServiceStartCode, &o.ServiceCompleteCode,
		&o.PaidAt, &o.PaymentSessionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Kind = Kind(kind)
	if o.Status, err = ParseStatus(status); err != nil {
		return Order{}, err
	}
	return o, nil
}

// PGRepository is the Postgres-backed data access for orders.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateParams enumerates the fields required to insert a booking request.
type CreateParams struct {
	Kind         Kind
	RequesterID  string
	ProviderID   string
	AmountCents  int64
	DepositCents *int64
}

// CreateTx inserts a new order in the pending state inside the caller's
// transaction.
func (r *PGRepository) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Order, error) {
	const q = `
INSERT INTO orders (kind, requester_id, provider_id, amount_cents, deposit_cents, status)
VALUES ($1::order_kind, $2, $3, $4, $5, 'pending')
RETURNING ` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, q,
		params.Kind, params.RequesterID, params.ProviderID, params.AmountCents, params.DepositCents))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get by id: %w", err)
	}
	return o, nil
}

// LockTx loads the order row FOR UPDATE inside the caller's transaction.
func (r *PGRepository) LockTx(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock: %w", err)
	}
	return o, nil
}

// TransitionTx applies a single compare-and-set status edge. The WHERE clause
// on the current status is the concurrency guard: a row whose status moved
// since it was read yields zero affected rows and ErrStatusConflict.
func (r *PGRepository) TransitionTx(ctx context.Context, tx pgx.Tx, orderID string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = $3::order_status,
    updated_at = get_tx_timestamp()
WHERE id = $1 AND status = $2::order_status
`, orderID, from, to)
	if err != nil {
		return fmt.Errorf("order: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListFilters narrows ListForUser. A zero Page/PageSize falls back to defaults.
type ListFilters struct {
	UserID   string
	Page     int
	PageSize int
}

// ListForUser returns orders where the user is requester or provider, newest
// first, plus the total count.
func (r *PGRepository) ListForUser(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `
SELECT ` + orderColumns + `
FROM orders
WHERE requester_id = $1 OR provider_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	rows, err := r.pool.Query(ctx, query, filters.UserID, filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("order: scan list row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("order: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE requester_id = $1 OR provider_id = $1`,
		filters.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("order: count list: %w", err)
	}

	return orders, total, nil
}
