package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/events"
	"github.com/sharifiasldev/support-service/internal/repository"
	apperrors "github.com/sharifiasldev/support-service/pkg/util/errorutil"
)

const previewLength = 120

// TicketService coordinates ticket workflows for the ticket owner.
type TicketService struct {
	tickets     repository.TicketRepository
	dispatcher  events.Dispatcher
	departments map[string]struct{}
	now         func() time.Time
	logger      *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Dispatcher events.Dispatcher
	// Departments restricts accepted departments when non-empty.
	Departments []string
	Now         func() time.Time
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title      string
	Department string
	Message    string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	svc := &TicketService{
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		now:        deps.Now,
		logger:     deps.Logger,
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if len(deps.Departments) > 0 {
		svc.departments = make(map[string]struct{}, len(deps.Departments))
		for _, d := range deps.Departments {
			svc.departments[d] = struct{}{}
		}
	}
	return svc
}

// ListForOwner returns the owner's ticket summaries, newest first.
func (s *TicketService) ListForOwner(ctx context.Context, owner domain.UserRef) ([]domain.Ticket, error) {
	if owner.ID == "" {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	tickets, err := s.tickets.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, storeError(err, "")
	}
	return tickets, nil
}

// GetForOwner returns a ticket with its thread. Tickets that do not exist
// and tickets owned by someone else are indistinguishable.
func (s *TicketService) GetForOwner(ctx context.Context, owner domain.UserRef, ticketID string) (*domain.Ticket, error) {
	if owner.ID == "" {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := s.tickets.GetForOwner(ctx, owner.ID, strings.TrimSpace(ticketID))
	if err != nil {
		return nil, storeError(err, ticketID)
	}
	return ticket, nil
}

// Create opens a ticket whose first message is the owner's description.
func (s *TicketService) Create(ctx context.Context, owner domain.UserRef, input TicketCreateInput) (*domain.Ticket, error) {
	if owner.ID == "" {
		return nil, apperrors.NewUnauthorized("authentication required")
	}

	title := strings.TrimSpace(input.Title)
	department := strings.TrimSpace(input.Department)
	body := strings.TrimSpace(input.Message)

	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if department == "" {
		missing = append(missing, "department")
	}
	if body == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("required fields are missing", map[string]any{"fields": missing})
	}
	if !s.departmentAllowed(department) {
		return nil, apperrors.NewValidationError("unknown department", map[string]any{
			"fields":  []string{"department"},
			"allowed": s.allowedDepartments(),
		})
	}

	now := s.now().UTC()
	ticket := &domain.Ticket{
		Title:      title,
		Department: department,
		Status:     domain.TicketStatusOpen,
		Owner:      owner,
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages: []domain.TicketMessage{{
			Body:       body,
			IsResponse: false,
			Author:     owner,
			SentAt:     now,
		}},
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, storeError(err, "")
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    userActor(owner),
		Payload: events.TicketCreatedPayload{
			Department: ticket.Department,
			Title:      ticket.Title,
		},
	})
	return ticket, nil
}

// Reply appends a message from the owner and returns the updated ticket.
func (s *TicketService) Reply(ctx context.Context, owner domain.UserRef, ticketID, body string) (*domain.Ticket, error) {
	if owner.ID == "" {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message is required", map[string]any{"fields": []string{"message"}})
	}

	ticket, err := s.tickets.AppendMessage(ctx, owner.ID, strings.TrimSpace(ticketID), domain.TicketMessage{
		Body:       body,
		IsResponse: false,
		Author:     owner,
		SentAt:     s.now().UTC(),
	})
	if err != nil {
		return nil, storeError(err, ticketID)
	}

	if n := len(ticket.Messages); n > 0 {
		last := ticket.Messages[n-1]
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketMessageAdded,
			TicketID: ticket.ID,
			Actor:    userActor(owner),
			Payload: events.TicketMessageAddedPayload{
				MessageID:   last.ID,
				IsResponse:  last.IsResponse,
				BodyPreview: events.Preview(last.Body, previewLength),
			},
		})
	}
	return ticket, nil
}

func (s *TicketService) departmentAllowed(department string) bool {
	if s.departments == nil {
		return true
	}
	_, ok := s.departments[department]
	return ok
}

func (s *TicketService) allowedDepartments() []string {
	out := make([]string, 0, len(s.departments))
	for d := range s.departments {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func userActor(owner domain.UserRef) events.Actor {
	return events.Actor{UserID: owner.ID, Username: owner.Username}
}

// storeError maps repository failures onto the client-facing taxonomy.
func storeError(err error, ticketID string) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	default:
		return apperrors.NewStoreUnavailable(err)
	}
}
