package domain

import "time"

// TicketMessage is one entry in a ticket thread. IsResponse marks messages
// written by support staff.
type TicketMessage struct {
	ID         string
	Body       string
	IsResponse bool
	Author     UserRef
	SentAt     time.Time
}
