package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharifiasldev/support-service/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. Appends are atomic
// under the repository mutex.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
	order   []string
}

// NewMemoryTicketRepository returns an empty repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*domain.Ticket)}
}

func (r *MemoryTicketRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []domain.Ticket{}
	// newest insertion first so equal CreatedAt values keep a stable order
	for i := len(r.order) - 1; i >= 0; i-- {
		t := r.tickets[r.order[i]]
		if t.Owner.ID != ownerID {
			continue
		}
		result = append(result, domain.Ticket{
			ID:        t.ID,
			Title:     t.Title,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryTicketRepository) GetForOwner(ctx context.Context, ownerID, ticketID string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[ticketID]
	if !ok || t.Owner.ID != ownerID {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket.ID = uuid.NewString()
	for i := range ticket.Messages {
		ticket.Messages[i].ID = uuid.NewString()
	}
	r.tickets[ticket.ID] = cloneTicket(ticket)
	r.order = append(r.order, ticket.ID)
	return nil
}

func (r *MemoryTicketRepository) AppendMessage(ctx context.Context, ownerID, ticketID string, msg domain.TicketMessage) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[ticketID]
	if !ok || t.Owner.ID != ownerID {
		return nil, ErrNotFound
	}
	if latest := t.LatestSentAt(); latest.After(msg.SentAt) {
		msg.SentAt = latest
	}
	msg.ID = uuid.NewString()
	t.Messages = append(t.Messages, msg)
	if msg.SentAt.After(t.UpdatedAt) {
		t.UpdatedAt = msg.SentAt
	}
	return cloneTicket(t), nil
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	c.Messages = append([]domain.TicketMessage(nil), t.Messages...)
	if c.Messages == nil {
		c.Messages = []domain.TicketMessage{}
	}
	return &c
}

// MemoryUserRepository keeps users in process memory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	now   func() time.Time
}

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*domain.User), now: time.Now}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicate
		}
	}
	now := r.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range r.users {
		if id != user.ID && (existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email)) {
			return ErrDuplicate
		}
	}
	user.UpdatedAt = r.now().UTC()
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *user
	return &found, nil
}

func (r *MemoryUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Username == identifier || strings.EqualFold(user.Email, identifier) {
			found := *user
			return &found, nil
		}
	}
	return nil, ErrNotFound
}
