package order

import (
	"errors"
	"time"
)

// Kind distinguishes item rentals from service bookings. The two share the
// same lifecycle; only the handoff actions and the deposit differ.
type Kind string

const (
	KindItem    Kind = "item"
	KindService Kind = "service"
)

func (k Kind) Valid() bool {
	return k == KindItem || k == KindService
}

// Order mirrors the orders table columns touched by the services.
type Order struct {
	ID          string
	Kind        Kind
	RequesterID string
	ProviderID  string

	// Amounts are in minor units (cents). DepositCents is nil for services.
	AmountCents  int64
	DepositCents *int64

	Status Status

	// Handoff confirmation timestamps, each set exactly once.
	DeliveryConfirmedAt *time.Time
	ReturnConfirmedAt   *time.Time
	ServiceStartedAt    *time.Time
	ServiceCompletedAt  *time.Time

	// Single-use handoff codes, generated lazily and then immutable.
	DeliveryCode        *string
	ReturnCode          *string
	ServiceStartCode    *string
	ServiceCompleteCode *string

	PaidAt           *time.Time
	PaymentSessionID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Counterpart returns the participant opposite to userID, or "" when userID
// is not a participant of the order.
func (o Order) Counterpart(userID string) string {
	switch userID {
	case o.RequesterID:
		return o.ProviderID
	case o.ProviderID:
		return o.RequesterID
	default:
		return ""
	}
}

// IsParticipant reports whether userID is the requester or the provider.
func (o Order) IsParticipant(userID string) bool {
	return userID == o.RequesterID || userID == o.ProviderID
}

var (
	// ErrNotFound is returned when no order row exists for the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrNotParticipant signals the acting user is neither requester nor provider.
	ErrNotParticipant = errors.New("order: user is not a participant")
	// ErrInvalidActor signals the wrong participant attempted the action.
	ErrInvalidActor = errors.New("order: invalid actor for action")
	// ErrInvalidTransition signals the requested status edge is not in the lifecycle graph.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrStatusConflict signals the row's status changed between read and write.
	ErrStatusConflict = errors.New("order: status changed concurrently")
	// ErrInvalidAmount signals a non-positive amount or negative deposit.
	ErrInvalidAmount = errors.New("order: invalid amount")
	// ErrSameParticipants signals requester and provider are the same user.
	ErrSameParticipants = errors.New("order: requester and provider must differ")
)
