package dto

import (
	"time"

	"github.com/sharifiasldev/support-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title      string `json:"title"`
	Department string `json:"department"`
	Message    string `json:"message"`
}

// ReplyRequest payload.
type ReplyRequest struct {
	Message string `json:"message"`
}

// TicketSummary response.
type TicketSummary struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Status    domain.TicketStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
}

// TicketDetailResponse provides full ticket info. The owner is implied by
// the route and never serialized.
type TicketDetailResponse struct {
	ID         string                  `json:"id"`
	Title      string                  `json:"title"`
	Department string                  `json:"department"`
	Status     domain.TicketStatus     `json:"status"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
	Messages   []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID         string       `json:"id"`
	Message    string       `json:"message"`
	IsResponse bool         `json:"isResponse"`
	SentAt     time.Time    `json:"sentAt"`
	Author     UserResponse `json:"author"`
}
