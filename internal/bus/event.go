package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace prefix
// ("doc.", "outbox.", "timeline.", "roster.", "ledger.").
const (
	DocChanged       = "doc.changed"
	TimelineUpdated  = "timeline.updated"
	OutboxPending    = "outbox.pending"
	OutboxConfirmed  = "outbox.confirmed"
	OutboxRolledBack = "outbox.rolled_back"
	RosterUpdated    = "roster.updated"
	LedgerAssigned   = "ledger.assigned"
	LedgerUnassigned = "ledger.unassigned"
	LedgerReconciled = "ledger.reconciled"
	CacheSwept       = "cache.swept"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// DocChange is the payload of DocChanged: the collections touched by one
// committed batch, in op order without duplicates.
type DocChange struct {
	Collections []string
}
