package order

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	LockTx(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, orderID string, from, to Status) error
	ListForUser(ctx context.Context, filters ListFilters) ([]Order, int, error)
}

// EventRecorder appends order events and outbox messages in the caller's tx.
type EventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the booking-request lifecycle: creation plus the direct
// accept/decline path and the cancel/overdue edges. The negotiation and
// handoff engines drive the remaining edges.
type Service struct {
	pool TxBeginner
	repo Repository
	rec  EventRecorder
}

func NewService(pool TxBeginner, repo Repository, rec EventRecorder) *Service {
	if rec == nil {
		rec = NewRecorder()
	}
	return &Service{pool: pool, repo: repo, rec: rec}
}

// CreateBooking inserts a new pending order for the given participants.
func (s *Service) CreateBooking(ctx context.Context, params CreateParams) (Order, error) {
	if !params.Kind.Valid() {
		return Order{}, fmt.Errorf("order: unknown kind %q", params.Kind)
	}
	if params.RequesterID == "" || params.ProviderID == "" {
		return Order{}, fmt.Errorf("order: participant ids required")
	}
	if params.RequesterID == params.ProviderID {
		return Order{}, ErrSameParticipants
	}
	if params.AmountCents <= 0 {
		return Order{}, ErrInvalidAmount
	}
	if params.DepositCents != nil {
		if params.Kind != KindItem {
			return Order{}, fmt.Errorf("order: deposit only applies to item orders")
		}
		if *params.DepositCents < 0 {
			return Order{}, ErrInvalidAmount
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.CreateTx(ctx, tx, params)
	if err != nil {
		return Order{}, err
	}

	payload := map[string]any{
		"kind":         string(o.Kind),
		"amount_cents": o.AmountCents,
	}
	if err := s.rec.Append(ctx, tx, o.ID, "ORDER_REQUESTED", o.RequesterID, payload); err != nil {
		return Order{}, err
	}
	if err := s.rec.Enqueue(ctx, tx, TopicOrderRequested, map[string]any{
		"order_id":     o.ID,
		"requester_id": o.RequesterID,
		"provider_id":  o.ProviderID,
		"amount_cents": o.AmountCents,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return o, nil
}

// Accept moves a pending order to accepted on the direct-acceptance path.
// Only the provider may accept.
func (s *Service) Accept(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.transition(ctx, orderID, actorID, StatusAccepted, "ORDER_ACCEPTED", TopicOrderAccepted, roleProvider)
}

// Decline moves a pending order to declined. Only the provider may decline.
func (s *Service) Decline(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.transition(ctx, orderID, actorID, StatusDeclined, "ORDER_DECLINED", TopicOrderDeclined, roleProvider)
}

// Cancel moves any non-terminal order to cancelled. Either participant may cancel.
func (s *Service) Cancel(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.transition(ctx, orderID, actorID, StatusCancelled, "ORDER_CANCELLED", TopicOrderCancelled, roleAny)
}

// MarkOverdue moves an ongoing order to overdue. Only the provider may flag it.
func (s *Service) MarkOverdue(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.transition(ctx, orderID, actorID, StatusOverdue, "ORDER_OVERDUE", TopicOrderOverdue, roleProvider)
}

func (s *Service) GetByID(ctx context.Context, id string) (Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForUser(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	return s.repo.ListForUser(ctx, filters)
}

type actorRole int

const (
	roleAny actorRole = iota
	roleProvider
)

func (s *Service) transition(ctx context.Context, orderID, actorID string, to Status, eventType, topic string, role actorRole) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.LockTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}

	if !o.IsParticipant(actorID) {
		return Order{}, ErrNotParticipant
	}
	if role == roleProvider && actorID != o.ProviderID {
		return Order{}, ErrInvalidActor
	}

	if err := s.repo.TransitionTx(ctx, tx, o.ID, o.Status, to); err != nil {
		return Order{}, err
	}

	payload := map[string]any{
		"previous_status": string(o.Status),
		"next_status":     string(to),
	}
	if err := s.rec.Append(ctx, tx, o.ID, eventType, actorID, payload); err != nil {
		return Order{}, err
	}
	if err := s.rec.Enqueue(ctx, tx, topic, map[string]any{
		"order_id":     o.ID,
		"requester_id": o.RequesterID,
		"provider_id":  o.ProviderID,
		"actor_id":     actorID,
		"previous":     string(o.Status),
		"next":         string(to),
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit transition: %w", err)
	}

	o.Status = to
	return o, nil
}
