package handoff

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"borrowpal/order"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderLocker loads order rows under row locks inside a transaction.
type OrderLocker interface {
	LockTx(ctx context.Context, tx pgx.Tx, id string) (order.Order, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, orderID string, from, to order.Status) error
}

// EventRecorder appends order events and outbox messages in the caller's tx.
type EventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Outbox topics emitted by the handoff engine.
const (
	TopicHandoffConfirmed = "handoff.confirmed"
)

// Service manages single-use proof-of-exchange codes and their scan-time
// verification.
type Service struct {
	pool     TxBeginner
	orders   OrderLocker
	rec      EventRecorder
	tokenGen func() (string, error)
}

func NewService(pool TxBeginner, orders OrderLocker, rec EventRecorder) *Service {
	if rec == nil {
		rec = order.NewRecorder()
	}
	return &Service{
		pool:     pool,
		orders:   orders,
		rec:      rec,
		tokenGen: randomToken,
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("handoff: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GeneratedCode is the result of GenerateCode.
type GeneratedCode struct {
	Code string
	// Presented is the scannable "orderID|code" payload.
	Presented string
	// Existing is true when the code had already been issued for this action.
	Existing bool
}

// GenerateCode returns the handoff code for (order, action), creating it on
// first request. Generation is idempotent: a code already shown to the
// counterpart is never invalidated by regeneration. Only the presenting
// participant may generate.
func (s *Service) GenerateCode(ctx context.Context, orderID, actorID string, action Action) (GeneratedCode, error) {
	codeCol, ok := codeColumns[action]
	if !ok {
		return GeneratedCode{}, fmt.Errorf("handoff: unknown action %q", action)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return GeneratedCode{}, fmt.Errorf("handoff: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.orders.LockTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return GeneratedCode{}, ErrOrderNotFound
		}
		return GeneratedCode{}, err
	}

	if !action.ValidFor(o.Kind) {
		return GeneratedCode{}, ErrInvalidAction
	}
	if actorID != action.Presenter(o) {
		return GeneratedCode{}, ErrWrongActor
	}

	if existing := existingCode(o, action); existing != nil {
		return GeneratedCode{
			Code:      *existing,
			Presented: PresentedValue(o.ID, *existing),
			Existing:  true,
		}, nil
	}

	code, err := s.tokenGen()
	if err != nil {
		return GeneratedCode{}, err
	}

	// The row is locked, but the NULL guard keeps the write a no-op if a
	// code slipped in anyway.
	q := fmt.Sprintf(`UPDATE orders SET %s = $2, updated_at = get_tx_timestamp() WHERE id = $1 AND %s IS NULL`, codeCol, codeCol)
	tag, err := tx.Exec(ctx, q, o.ID, code)
	if err != nil {
		return GeneratedCode{}, fmt.Errorf("handoff: persist code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return GeneratedCode{}, fmt.Errorf("handoff: code column changed concurrently")
	}

	if err := s.rec.Append(ctx, tx, o.ID, "HANDOFF_CODE_ISSUED", actorID, map[string]any{
		"action": string(action),
	}); err != nil {
		return GeneratedCode{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return GeneratedCode{}, fmt.Errorf("handoff: commit code: %w", err)
	}

	return GeneratedCode{Code: code, Presented: PresentedValue(o.ID, code)}, nil
}

func existingCode(o order.Order, action Action) *string {
	switch action {
	case ActionDelivery:
		return o.DeliveryCode
	case ActionReturn:
		return o.ReturnCode
	case ActionStartService:
		return o.ServiceStartCode
	case ActionCompleteService:
		return o.ServiceCompleteCode
	default:
		return nil
	}
}

func confirmedAt(o order.Order, action Action) bool {
	switch action {
	case ActionDelivery:
		return o.DeliveryConfirmedAt != nil
	case ActionReturn:
		return o.ReturnConfirmedAt != nil
	case ActionStartService:
		return o.ServiceStartedAt != nil
	case ActionCompleteService:
		return o.ServiceCompletedAt != nil
	default:
		return false
	}
}

// ScanResult reports a successful verification.
type ScanResult struct {
	OrderID   string
	Action    Action
	NewStatus order.Status
	Message   string
}

// VerifyScan parses an "orderID|code" payload, validates the scanning user
// and the order state, consumes the code, and applies the resulting status
// edge. All checks and writes happen under one row lock; a code is consumed
// at most once.
func (s *Service) VerifyScan(ctx context.Context, presented, scannerID string, expectedAction Action) (ScanResult, error) {
	orderID, code, err := ParsePresentedValue(presented)
	if err != nil {
		return ScanResult{}, err
	}

	confirmCol, ok := confirmColumns[expectedAction]
	if !ok {
		return ScanResult{}, fmt.Errorf("handoff: unknown action %q", expectedAction)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("handoff: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.orders.LockTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return ScanResult{}, ErrCodeNotFound
		}
		return ScanResult{}, err
	}

	if !expectedAction.ValidFor(o.Kind) {
		return ScanResult{}, ErrInvalidAction
	}
	stored := existingCode(o, expectedAction)
	if stored == nil || *stored != code {
		return ScanResult{}, ErrCodeNotFound
	}
	if scannerID != expectedAction.ExpectedScanner(o) {
		return ScanResult{}, ErrWrongActor
	}
	if confirmedAt(o, expectedAction) {
		return ScanResult{}, ErrAlreadyConsumed
	}

	next := order.StatusOngoing
	if !expectedAction.Initial() {
		next = order.StatusCompleted
	}
	if !order.CanTransition(o.Status, next) {
		return ScanResult{}, fmt.Errorf("%w: %s while %s", ErrInvalidState, expectedAction, o.Status)
	}

	// Consume the code. The NULL guard is the idempotency barrier against a
	// concurrent scan that slipped past the row lock.
	q := fmt.Sprintf(`UPDATE orders SET %s = get_tx_timestamp() WHERE id = $1 AND %s IS NULL`, confirmCol, confirmCol)
	tag, err := tx.Exec(ctx, q, o.ID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("handoff: consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ScanResult{}, ErrAlreadyConsumed
	}

	if err := s.orders.TransitionTx(ctx, tx, o.ID, o.Status, next); err != nil {
		return ScanResult{}, err
	}

	if err := s.rec.Append(ctx, tx, o.ID, "HANDOFF_CONFIRMED", scannerID, map[string]any{
		"action":          string(expectedAction),
		"previous_status": string(o.Status),
		"next_status":     string(next),
	}); err != nil {
		return ScanResult{}, err
	}

	topic := TopicHandoffConfirmed
	if next == order.StatusCompleted {
		topic = order.TopicOrderCompleted
	}
	if err := s.rec.Enqueue(ctx, tx, topic, map[string]any{
		"order_id":     o.ID,
		"requester_id": o.RequesterID,
		"provider_id":  o.ProviderID,
		"action":       string(expectedAction),
		"scanner_id":   scannerID,
		"next":         string(next),
	}); err != nil {
		return ScanResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ScanResult{}, fmt.Errorf("handoff: commit scan: %w", err)
	}

	return ScanResult{
		OrderID:   o.ID,
		Action:    expectedAction,
		NewStatus: next,
		Message:   scanMessages[expectedAction],
	}, nil
}
