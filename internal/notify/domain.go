package notify

import "time"

// Kind classifies a notification for the inbox.
type Kind string

const (
	KindSystem         Kind = "SYSTEM"
	KindAccessGranted  Kind = "ACCESS_GRANTED"
	KindEditRequest    Kind = "EDIT_REQUEST"
	KindEditApproved   Kind = "EDIT_APPROVED"
	KindLedgerUnlocked Kind = "LEDGER_UNLOCKED"
)

// Notification is an inbox entry. An empty UserID is a broadcast visible to everyone.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Broadcast reports whether the notification targets every user.
func (n Notification) Broadcast() bool {
	return n.UserID == ""
}
