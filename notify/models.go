package notify

import "time"

// Notification is a per-user inbox row. Delivery is best-effort; rows are
// written by the outbox dispatcher, never inside a lifecycle transaction.
type Notification struct {
	ID            string
	UserID        string
	Type          string
	Title         string
	Message       string
	ReferenceID   *string
	ReferenceType *string
	ReadAt        *time.Time
	CreatedAt     time.Time
}
