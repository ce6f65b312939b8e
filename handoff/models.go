package handoff

import (
	"errors"
	"fmt"
	"strings"

	"borrowpal/order"
)

// Action identifies a physical-exchange confirmation step. Delivery and
// return apply to item orders; start and complete apply to service bookings.
type Action string

const (
	ActionDelivery        Action = "delivery"
	ActionReturn          Action = "return"
	ActionStartService    Action = "start_service"
	ActionCompleteService Action = "complete_service"
)

// ValidFor reports whether the action matches the order kind.
func (a Action) ValidFor(kind order.Kind) bool {
	switch a {
	case ActionDelivery, ActionReturn:
		return kind == order.KindItem
	case ActionStartService, ActionCompleteService:
		return kind == order.KindService
	default:
		return false
	}
}

// Initial reports whether the action opens the physical exchange
// (accepted→ongoing); the complementary actions close it (→completed).
func (a Action) Initial() bool {
	return a == ActionDelivery || a == ActionStartService
}

// ExpectedScanner returns the participant who must perform the scan. The
// receiving party always scans: the requester confirms delivery/service
// start, the provider confirms return/service completion. The counterpart
// presents the code.
func (a Action) ExpectedScanner(o order.Order) string {
	if a.Initial() {
		return o.RequesterID
	}
	return o.ProviderID
}

// Presenter returns the participant who shows the code.
func (a Action) Presenter(o order.Order) string {
	if a.Initial() {
		return o.ProviderID
	}
	return o.RequesterID
}

// codeColumns and confirmColumns map actions to their orders-table columns.
// Values are compile-time constants, never user input.
var codeColumns = map[Action]string{
	ActionDelivery:        "delivery_code",
	ActionReturn:          "return_code",
	ActionStartService:    "service_start_code",
	ActionCompleteService: "service_complete_code",
}

var confirmColumns = map[Action]string{
	ActionDelivery:        "delivery_confirmed_at",
	ActionReturn:          "return_confirmed_at",
	ActionStartService:    "service_started_at",
	ActionCompleteService: "service_completed_at",
}

var scanMessages = map[Action]string{
	ActionDelivery:        "Delivery confirmed. The rental is now ongoing.",
	ActionReturn:          "Return confirmed. The rental is complete.",
	ActionStartService:    "Service start confirmed. The booking is now ongoing.",
	ActionCompleteService: "Service completion confirmed. The booking is complete.",
}

var (
	// ErrInvalidAction signals the action does not match the order kind.
	ErrInvalidAction = errors.New("handoff: action does not match order kind")
	// ErrMalformedScan signals the presented value is not "orderID|code".
	ErrMalformedScan = errors.New("handoff: malformed scan payload")
	// ErrCodeNotFound signals no order/code pair matches the scan.
	ErrCodeNotFound = errors.New("handoff: code not found")
	// ErrWrongActor signals the scanning user is not the expected counterpart.
	ErrWrongActor = errors.New("handoff: wrong scanning user")
	// ErrAlreadyConsumed signals the action's confirmation timestamp is set.
	ErrAlreadyConsumed = errors.New("handoff: code already consumed")
	// ErrInvalidState signals the order status does not admit the transition.
	ErrInvalidState = errors.New("handoff: order state does not allow scan")
	// ErrOrderNotFound is returned when the order row is missing.
	ErrOrderNotFound = errors.New("handoff: order not found")
)

const presentedSeparator = "|"

// PresentedValue encodes the scannable payload for a code.
func PresentedValue(orderID, code string) string {
	return orderID + presentedSeparator + code
}

// ParsePresentedValue splits "orderID|code", rejecting missing parts.
func ParsePresentedValue(v string) (orderID, code string, err error) {
	orderID, code, found := strings.Cut(v, presentedSeparator)
	if !found || orderID == "" || code == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedScan, v)
	}
	return orderID, code, nil
}
