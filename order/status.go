package order

import "fmt"

// Status enumerates the order lifecycle states. The zero value is not a
// valid status; use ParseStatus for untrusted input.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// transitions is the full lifecycle graph. pending→accepted covers both the
// direct-acceptance path and the confirmed-payment path; the two converge.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusDeclined, StatusCancelled},
	StatusAccepted: {StatusOngoing, StatusCancelled},
	StatusOngoing:  {StatusCompleted, StatusOverdue, StatusCancelled},
	StatusOverdue:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from→to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusOngoing,
		StatusCompleted, StatusOverdue, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("order: unknown status %q", raw)
	}
	return s, nil
}
