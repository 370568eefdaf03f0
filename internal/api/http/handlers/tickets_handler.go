package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharifiasldev/support-service/internal/api/dto"
	"github.com/sharifiasldev/support-service/internal/auth"
	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/service"
	apperrors "github.com/sharifiasldev/support-service/pkg/util/errorutil"
)

// TicketsHandler manages end-user ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// ListTickets GET /tickets/me.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	tickets, err := h.service.ListForOwner(c.UserContext(), principal.User.Ref())
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/me/:ticketId.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.service.GetForOwner(c.UserContext(), principal.User.Ref(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// CreateTicket POST /tickets/me.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Create(c.UserContext(), principal.User.Ref(), service.TicketCreateInput{
		Title:      req.Title,
		Department: req.Department,
		Message:    req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// Reply POST /tickets/me/:ticketId/reply.
func (h *TicketsHandler) Reply(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Reply(c.UserContext(), principal.User.Ref(), c.Params("ticketId"), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:        ticket.ID,
		Title:     ticket.Title,
		Status:    ticket.Status,
		CreatedAt: ticket.CreatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket) dto.TicketDetailResponse {
	resp := dto.TicketDetailResponse{
		ID:         ticket.ID,
		Title:      ticket.Title,
		Department: ticket.Department,
		Status:     ticket.Status,
		CreatedAt:  ticket.CreatedAt,
		UpdatedAt:  ticket.UpdatedAt,
		Messages:   make([]dto.TicketMessageResponse, 0, len(ticket.Messages)),
	}
	for _, msg := range ticket.Messages {
		resp.Messages = append(resp.Messages, dto.TicketMessageResponse{
			ID:         msg.ID,
			Message:    msg.Body,
			IsResponse: msg.IsResponse,
			SentAt:     msg.SentAt,
			Author:     dto.UserResponse{ID: msg.Author.ID, Username: msg.Author.Username},
		})
	}
	return resp
}
