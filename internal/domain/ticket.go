package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "Open"
	TicketStatusInProgress TicketStatus = "In Progress"
	TicketStatusClosed     TicketStatus = "Closed"
)

// Ticket is the aggregate for support requests. Owner is fixed at creation
// and Messages only ever grows.
type Ticket struct {
	ID         string
	Title      string
	Department string
	Status     TicketStatus
	Owner      UserRef
	Messages   []TicketMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LatestSentAt returns the SentAt of the newest message, or the zero time.
func (t *Ticket) LatestSentAt() time.Time {
	var latest time.Time
	for _, msg := range t.Messages {
		if msg.SentAt.After(latest) {
			latest = msg.SentAt
		}
	}
	return latest
}
