package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"borrowpal/order"
	"borrowpal/payment"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OfferRepository defines the data access required by the service.
type OfferRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, params CreateOfferParams) (Offer, error)
	GetByID(ctx context.Context, id string) (Offer, error)
	LockTx(ctx context.Context, tx pgx.Tx, id string) (Offer, error)
	RespondTx(ctx context.Context, tx pgx.Tx, offerID string, status NegotiationStatus) error
	ListForOrder(ctx context.Context, orderID string) ([]Offer, error)
	InsertConfirmationKey(ctx context.Context, tx pgx.Tx, key string) error
	MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, sessionID string) (bool, error)
}

// OrderReader loads orders for precondition checks.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (order.Order, error)
}

// EventRecorder appends order events and outbox messages in the caller's tx.
type EventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// CheckoutCollaborator is the external payment provider boundary.
type CheckoutCollaborator interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (payment.VerificationResult, error)
}

// Outbox topics emitted by the negotiation engine.
const (
	TopicOfferProposed   = "offer.proposed"
	TopicOfferAccepted   = "offer.accepted"
	TopicOfferDeclined   = "offer.declined"
	TopicPaymentReceived = "payment.received"
)

// Service decides whether a proposed offer transition is legal given the
// order's and offer's current state, and applies the resulting state.
type Service struct {
	pool     TxBeginner
	repo     OfferRepository
	orders   OrderReader
	rec      EventRecorder
	checkout CheckoutCollaborator
}

func NewService(pool TxBeginner, repo OfferRepository, orders OrderReader, rec EventRecorder, checkout CheckoutCollaborator) *Service {
	if rec == nil {
		rec = order.NewRecorder()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		orders:   orders,
		rec:      rec,
		checkout: checkout,
	}
}

// ProposeParams describes a new offer or counter-offer in a thread.
type ProposeParams struct {
	OrderID     string
	SenderID    string
	AmountCents int64
	Message     string
	Kind        OfferKind
}

// ProposeOffer creates a new pending offer. Any prior pending offer on the
// same thread is declined in the same transaction.
func (s *Service) ProposeOffer(ctx context.Context, params ProposeParams) (Offer, error) {
	if params.AmountCents <= 0 {
		return Offer{}, ErrInvalidAmount
	}
	if !params.Kind.Valid() {
		return Offer{}, fmt.Errorf("negotiation: unknown offer kind %q", params.Kind)
	}

	o, err := s.orders.GetByID(ctx, params.OrderID)
	if err != nil {
		return Offer{}, err
	}
	if !o.IsParticipant(params.SenderID) {
		return Offer{}, ErrNotParticipant
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	offer, err := s.repo.CreateTx(ctx, tx, CreateOfferParams(params))
	if err != nil {
		return Offer{}, err
	}

	if err := s.rec.Append(ctx, tx, o.ID, "OFFER_PROPOSED", params.SenderID, map[string]any{
		"offer_id":     offer.ID,
		"amount_cents": offer.AmountCents,
		"kind":         string(offer.Kind),
	}); err != nil {
		return Offer{}, err
	}
	if err := s.rec.Enqueue(ctx, tx, TopicOfferProposed, map[string]any{
		"order_id":     o.ID,
		"offer_id":     offer.ID,
		"sender_id":    params.SenderID,
		"recipient_id": o.Counterpart(params.SenderID),
		"amount_cents": offer.AmountCents,
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("negotiation: commit propose: %w", err)
	}
	return offer, nil
}

// RespondParams carries the counterpart's decision on a pending offer.
type RespondParams struct {
	OfferID     string
	ResponderID string
	Decision    Decision
}

// RespondToOffer accepts or declines a pending offer. The offer's own sender
// may never respond. Accepting does not mutate the order; the accepted amount
// is what the counterpart later pays.
func (s *Service) RespondToOffer(ctx context.Context, params RespondParams) (Offer, error) {
	var next NegotiationStatus
	switch params.Decision {
	case DecisionAccept:
		next = StatusAccepted
	case DecisionDecline:
		next = StatusDeclined
	default:
		return Offer{}, fmt.Errorf("negotiation: unknown decision %q", params.Decision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	offer, err := s.repo.LockTx(ctx, tx, params.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if params.ResponderID == offer.SenderID {
		return Offer{}, ErrInvalidActor
	}
	if offer.Status != StatusPending {
		return Offer{}, ErrInvalidState
	}
	if offer.OrderID != nil {
		o, err := s.orders.GetByID(ctx, *offer.OrderID)
		if err != nil && !errors.Is(err, order.ErrNotFound) {
			return Offer{}, err
		}
		if err == nil && !o.IsParticipant(params.ResponderID) {
			return Offer{}, ErrNotParticipant
		}
	}

	if err := s.repo.RespondTx(ctx, tx, offer.ID, next); err != nil {
		return Offer{}, err
	}

	eventType := "OFFER_ACCEPTED"
	topic := TopicOfferAccepted
	if next == StatusDeclined {
		eventType = "OFFER_DECLINED"
		topic = TopicOfferDeclined
	}

	if offer.OrderID != nil {
		if err := s.rec.Append(ctx, tx, *offer.OrderID, eventType, params.ResponderID, map[string]any{
			"offer_id":     offer.ID,
			"amount_cents": offer.AmountCents,
		}); err != nil {
			return Offer{}, err
		}
	}
	if err := s.rec.Enqueue(ctx, tx, topic, map[string]any{
		"offer_id":     offer.ID,
		"responder_id": params.ResponderID,
		"recipient_id": offer.SenderID,
		"amount_cents": offer.AmountCents,
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("negotiation: commit response: %w", err)
	}

	offer.Status = next
	return offer, nil
}

// PaymentParams identifies the accepted offer the payer settles.
type PaymentParams struct {
	OrderID string
	OfferID string
	PayerID string
}

// InitiatePayment starts a hosted checkout for an accepted offer. The payer
// must be the counterpart of whoever sent the accepted offer. Nothing is
// marked paid here; receipt is only recognised via ConfirmPayment.
func (s *Service) InitiatePayment(ctx context.Context, params PaymentParams) (payment.CheckoutSession, error) {
	o, err := s.orders.GetByID(ctx, params.OrderID)
	if err != nil {
		return payment.CheckoutSession{}, err
	}
	offer, err := s.repo.GetByID(ctx, params.OfferID)
	if err != nil {
		return payment.CheckoutSession{}, err
	}

	if offer.Status != StatusAccepted {
		return payment.CheckoutSession{}, ErrInvalidState
	}
	if offer.OrderID != nil && *offer.OrderID != params.OrderID {
		return payment.CheckoutSession{}, ErrInvalidState
	}
	if !o.IsParticipant(params.PayerID) {
		return payment.CheckoutSession{}, ErrNotParticipant
	}
	if params.PayerID != o.Counterpart(offer.SenderID) {
		return payment.CheckoutSession{}, ErrInvalidActor
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		AmountCents: offer.AmountCents,
		Currency:    "usd",
		Description: fmt.Sprintf("BorrowPal %s order %s", o.Kind, o.ID),
		Metadata: map[string]string{
			"order_id":   o.ID,
			"order_kind": string(o.Kind),
			"offer_id":   offer.ID,
			"payer_id":   params.PayerID,
		},
	})
	if err != nil {
		return payment.CheckoutSession{}, err
	}
	return session, nil
}

// ConfirmPayment verifies a checkout session with the external collaborator
// and, on success, moves the order to accepted. Replays of the same session
// and orders that already left pending are no-ops.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("negotiation: missing session id")
	}

	result, err := s.checkout.VerifySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !result.Paid {
		return ErrPaymentNotCompleted
	}

	orderID := result.Metadata["order_id"]
	if orderID == "" {
		return fmt.Errorf("negotiation: session %s carries no order reference", sessionID)
	}
	payerID := result.Metadata["payer_id"]

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertConfirmationKey(ctx, tx, "payment:"+sessionID); err != nil {
		if errors.Is(err, ErrDuplicateConfirmation) {
			return nil
		}
		return err
	}

	moved, err := s.repo.MarkPaidTx(ctx, tx, orderID, sessionID)
	if err != nil {
		return err
	}
	if moved {
		if err := s.rec.Append(ctx, tx, orderID, "PAYMENT_CONFIRMED", payerID, map[string]any{
			"session_id":   sessionID,
			"amount_cents": result.AmountCents,
			"currency":     result.Currency,
		}); err != nil {
			return err
		}
		if err := s.rec.Enqueue(ctx, tx, TopicPaymentReceived, map[string]any{
			"order_id":     orderID,
			"recipient_id": o.Counterpart(payerID),
			"payer_id":     payerID,
			"amount_cents": result.AmountCents,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("negotiation: commit confirmation: %w", err)
	}
	return nil
}

// Thread returns the ordered sequence of offers exchanged for an order.
func (s *Service) Thread(ctx context.Context, orderID string) ([]Offer, error) {
	return s.repo.ListForOrder(ctx, orderID)
}
