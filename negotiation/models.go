package negotiation

import (
	"errors"
	"time"
)

// OfferKind classifies a chat offer message.
type OfferKind string

const (
	KindPriceOffer   OfferKind = "price_offer"
	KindCounterOffer OfferKind = "counter_offer"
)

func (k OfferKind) Valid() bool {
	return k == KindPriceOffer || k == KindCounterOffer
}

// NegotiationStatus is the only mutable field of an offer.
type NegotiationStatus string

const (
	StatusPending  NegotiationStatus = "pending"
	StatusAccepted NegotiationStatus = "accepted"
	StatusDeclined NegotiationStatus = "declined"
)

// Decision is the counterpart's response to a pending offer.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Offer is one priced message in a negotiation thread. Offers are immutable
// once created except for their negotiation status.
type Offer struct {
	ID string
	// OrderID links the offer to its order. The link is best-effort: chat
	// threads can carry offers before an order exists.
	OrderID     *string
	SenderID    string
	AmountCents int64
	Message     string
	Kind        OfferKind
	Status      NegotiationStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

var (
	// ErrInvalidActor signals the offer's own sender tried to respond, or the
	// payer is not the counterpart of the accepted offer's sender.
	ErrInvalidActor = errors.New("negotiation: invalid actor")
	// ErrInvalidState signals the offer or order does not satisfy the
	// precondition state for the operation.
	ErrInvalidState = errors.New("negotiation: invalid state")
	// ErrInvalidAmount signals a non-positive offer amount.
	ErrInvalidAmount = errors.New("negotiation: amount must be positive")
	// ErrOfferNotFound is returned when no offer row matches the identifier.
	ErrOfferNotFound = errors.New("negotiation: offer not found")
	// ErrNotParticipant signals the actor does not belong to the order.
	ErrNotParticipant = errors.New("negotiation: user is not a participant")
	// ErrDuplicateConfirmation signals the payment confirmation was already applied.
	ErrDuplicateConfirmation = errors.New("negotiation: duplicate payment confirmation")
	// ErrPaymentNotCompleted signals the verification collaborator reported an
	// unpaid session.
	ErrPaymentNotCompleted = errors.New("negotiation: payment not completed")
)
