package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sharifiasldev/support-service/internal/contentstore"
	"github.com/sharifiasldev/support-service/internal/domain"
)

// contentStoreTickets stores tickets as CMS collection entries with the
// thread as a repeatable component. The CMS only supports whole-document
// updates, so AppendMessage is a read-modify-write serialized per ticket by
// the Locker. Writers that bypass the lock (CMS admin UI) can still race
// with it.
type contentStoreTickets struct {
	client     *contentstore.Client
	collection string
	locker     Locker
	holdLimit  time.Duration
	now        func() time.Time
}

// NewContentStoreTicketRepository builds the CMS-backed repository.
// holdLimit bounds the store calls made while a ticket lock is held and must
// stay below the lock's expiry; zero leaves them bounded only by the caller.
func NewContentStoreTicketRepository(client *contentstore.Client, collection string, locker Locker, holdLimit time.Duration) TicketRepository {
	return &contentStoreTickets{client: client, collection: collection, locker: locker, holdLimit: holdLimit, now: time.Now}
}

type relation struct {
	Data *struct {
		ID         int64 `json:"id"`
		Attributes struct {
			Username string `json:"username"`
		} `json:"attributes"`
	} `json:"data"`
}

func (r relation) ref() domain.UserRef {
	if r.Data == nil {
		return domain.UserRef{}
	}
	return domain.UserRef{ID: strconv.FormatInt(r.Data.ID, 10), Username: r.Data.Attributes.Username}
}

type messageComponent struct {
	ID         int64      `json:"id"`
	Message    string     `json:"message"`
	IsResponse bool       `json:"isResponse"`
	SentAt     *time.Time `json:"sentAt"`
	Author     relation   `json:"author"`
}

type ticketAttributes struct {
	Title      string             `json:"title"`
	Department string             `json:"department"`
	Status     string             `json:"status"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	User       relation           `json:"user"`
	Messages   []messageComponent `json:"messages"`
}

type messageInput struct {
	ID         int64      `json:"id,omitempty"`
	Message    string     `json:"message"`
	IsResponse bool       `json:"isResponse"`
	Author     *int64     `json:"author"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
}

// storedInput echoes a component back exactly as it was read.
func (m messageComponent) storedInput() messageInput {
	input := messageInput{
		ID:         m.ID,
		Message:    m.Message,
		IsResponse: m.IsResponse,
		SentAt:     m.SentAt,
	}
	if m.Author.Data != nil {
		author := m.Author.Data.ID
		input.Author = &author
	}
	return input
}

func threadPopulate() map[string]contentstore.Populate {
	return map[string]contentstore.Populate{
		"user": {Fields: []string{"username"}},
		"messages": {Populate: map[string]contentstore.Populate{
			"author": {Fields: []string{"username"}},
		}},
	}
}

func (r *contentStoreTickets) ListByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error) {
	if _, ok := parseEntryID(ownerID); !ok {
		return []domain.Ticket{}, nil
	}
	entries, err := r.client.Find(ctx, r.collection, contentstore.Query{
		Filters: []contentstore.Filter{contentstore.Eq("user.id", ownerID)},
		Fields:  []string{"title", "status", "createdAt"},
		Sort:    []string{"createdAt:desc"},
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Ticket, 0, len(entries))
	for _, entry := range entries {
		var attrs ticketAttributes
		if err := json.Unmarshal(entry.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("decode ticket %d: %w", entry.ID, err)
		}
		result = append(result, domain.Ticket{
			ID:        strconv.FormatInt(entry.ID, 10),
			Title:     attrs.Title,
			Status:    domain.TicketStatus(attrs.Status),
			CreatedAt: attrs.CreatedAt,
		})
	}
	return result, nil
}

func (r *contentStoreTickets) GetForOwner(ctx context.Context, ownerID, ticketID string) (*domain.Ticket, error) {
	entry, err := r.findOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	return decodeTicket(*entry)
}

func (r *contentStoreTickets) findOwned(ctx context.Context, ownerID, ticketID string) (*contentstore.Entry, error) {
	_, ownerOK := parseEntryID(ownerID)
	_, ticketOK := parseEntryID(ticketID)
	if !ownerOK || !ticketOK {
		return nil, ErrNotFound
	}
	entries, err := r.client.Find(ctx, r.collection, contentstore.Query{
		Filters: []contentstore.Filter{
			contentstore.Eq("id", ticketID),
			contentstore.Eq("user.id", ownerID),
		},
		Populate: threadPopulate(),
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func (r *contentStoreTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	ownerID, ok := parseEntryID(ticket.Owner.ID)
	if !ok {
		return fmt.Errorf("owner id %q is not a content store id", ticket.Owner.ID)
	}
	messages, err := messageInputs(ticket.Messages)
	if err != nil {
		return err
	}

	entry, err := r.client.Create(ctx, r.collection, map[string]any{
		"title":       ticket.Title,
		"department":  ticket.Department,
		"status":      ticket.Status,
		"user":        ownerID,
		"messages":    messages,
		"publishedAt": r.now().UTC(),
	}, contentstore.Query{Populate: threadPopulate()})
	if err != nil {
		return err
	}

	stored, err := decodeTicket(*entry)
	if err != nil {
		return err
	}
	ticket.ID = stored.ID
	ticket.CreatedAt = stored.CreatedAt
	ticket.UpdatedAt = stored.UpdatedAt
	for i := range ticket.Messages {
		if i < len(stored.Messages) {
			ticket.Messages[i].ID = stored.Messages[i].ID
		}
	}
	return nil
}

func (r *contentStoreTickets) AppendMessage(ctx context.Context, ownerID, ticketID string, msg domain.TicketMessage) (*domain.Ticket, error) {
	release, err := r.locker.Acquire(ctx, "ticket:"+ticketID)
	if err != nil {
		return nil, err
	}
	defer release()

	// The PUT must not land after the lock has expired and been retaken.
	if r.holdLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.holdLimit)
		defer cancel()
	}

	// Re-read under the lock so the appended list includes every message
	// written by an earlier holder.
	current, err := r.findOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	var attrs ticketAttributes
	if err := json.Unmarshal(current.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("decode ticket %d: %w", current.ID, err)
	}

	messages := make([]messageInput, 0, len(attrs.Messages)+1)
	for _, m := range attrs.Messages {
		if m.SentAt != nil && m.SentAt.After(msg.SentAt) {
			msg.SentAt = *m.SentAt
		}
		messages = append(messages, m.storedInput())
	}
	added, err := messageInputs([]domain.TicketMessage{msg})
	if err != nil {
		return nil, err
	}
	messages = append(messages, added...)

	entry, err := r.client.Update(ctx, r.collection, ticketID, map[string]any{
		"messages": messages,
	}, contentstore.Query{Populate: threadPopulate()})
	if errors.Is(err, contentstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTicket(*entry)
}

func messageInputs(messages []domain.TicketMessage) ([]messageInput, error) {
	inputs := make([]messageInput, 0, len(messages))
	for _, msg := range messages {
		sentAt := msg.SentAt
		input := messageInput{
			Message:    msg.Body,
			IsResponse: msg.IsResponse,
			SentAt:     &sentAt,
		}
		if msg.ID != "" {
			id, ok := parseEntryID(msg.ID)
			if !ok {
				return nil, fmt.Errorf("message id %q is not a content store id", msg.ID)
			}
			input.ID = id
		}
		if msg.Author.ID != "" {
			author, ok := parseEntryID(msg.Author.ID)
			if !ok {
				return nil, fmt.Errorf("author id %q is not a content store id", msg.Author.ID)
			}
			input.Author = &author
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func decodeTicket(entry contentstore.Entry) (*domain.Ticket, error) {
	var attrs ticketAttributes
	if err := json.Unmarshal(entry.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("decode ticket %d: %w", entry.ID, err)
	}
	ticket := &domain.Ticket{
		ID:         strconv.FormatInt(entry.ID, 10),
		Title:      attrs.Title,
		Department: attrs.Department,
		Status:     domain.TicketStatus(attrs.Status),
		Owner:      attrs.User.ref(),
		CreatedAt:  attrs.CreatedAt,
		UpdatedAt:  attrs.UpdatedAt,
		Messages:   make([]domain.TicketMessage, 0, len(attrs.Messages)),
	}
	for _, m := range attrs.Messages {
		msg := domain.TicketMessage{
			Body:       m.Message,
			IsResponse: m.IsResponse,
			Author:     m.Author.ref(),
		}
		if m.ID > 0 {
			msg.ID = strconv.FormatInt(m.ID, 10)
		}
		if m.SentAt != nil {
			msg.SentAt = *m.SentAt
		}
		ticket.Messages = append(ticket.Messages, msg)
	}
	return ticket, nil
}

func parseEntryID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
