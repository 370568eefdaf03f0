package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharifiasldev/support-service/internal/domain"
)

// TicketRepository encapsulates ticket persistence. Every read and write is
// scoped to the owning user; a ticket owned by someone else behaves exactly
// like a missing one.
type TicketRepository interface {
	// ListByOwner returns summaries (no messages) newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error)
	GetForOwner(ctx context.Context, ownerID, ticketID string) (*domain.Ticket, error)
	// Create stores the ticket and its initial messages, filling in ids.
	Create(ctx context.Context, ticket *domain.Ticket) error
	// AppendMessage atomically appends msg and returns the updated ticket.
	// msg.SentAt is raised to the thread's latest SentAt if it is earlier.
	AppendMessage(ctx context.Context, ownerID, ticketID string, msg domain.TicketMessage) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error) {
	if !validUUID(ownerID) {
		return []domain.Ticket{}, nil
	}
	const query = `
        SELECT id::text, title, status, created_at
        FROM tickets WHERE owner_id=$1
        ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(&ticket.ID, &ticket.Title, &ticket.Status, &ticket.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) GetForOwner(ctx context.Context, ownerID, ticketID string) (*domain.Ticket, error) {
	if !validUUID(ownerID) || !validUUID(ticketID) {
		return nil, ErrNotFound
	}
	return loadTicket(ctx, r.pool, ownerID, ticketID)
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertTicket = `
        INSERT INTO tickets (owner_id, title, department, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id::text`
	if err := tx.QueryRow(ctx, insertTicket,
		ticket.Owner.ID,
		ticket.Title,
		ticket.Department,
		ticket.Status,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	).Scan(&ticket.ID); err != nil {
		return err
	}

	for i := range ticket.Messages {
		if err := insertMessage(ctx, tx, ticket.ID, &ticket.Messages[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ticketRepository) AppendMessage(ctx context.Context, ownerID, ticketID string, msg domain.TicketMessage) (*domain.Ticket, error) {
	if !validUUID(ownerID) || !validUUID(ticketID) {
		return nil, ErrNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock serializes concurrent appends to the same ticket.
	var locked string
	err = tx.QueryRow(ctx, `SELECT id::text FROM tickets WHERE id=$1 AND owner_id=$2 FOR UPDATE`, ticketID, ownerID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var latest *time.Time
	if err := tx.QueryRow(ctx, `SELECT MAX(sent_at) FROM ticket_messages WHERE ticket_id=$1`, ticketID).Scan(&latest); err != nil {
		return nil, err
	}
	if latest != nil && latest.After(msg.SentAt) {
		msg.SentAt = *latest
	}

	if err := insertMessage(ctx, tx, ticketID, &msg); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tickets SET updated_at=GREATEST(updated_at, $2) WHERE id=$1`, ticketID, msg.SentAt); err != nil {
		return nil, err
	}

	ticket, err := loadTicket(ctx, tx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ticket, nil
}

func insertMessage(ctx context.Context, q querier, ticketID string, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, author_id, body, is_response, sent_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id::text`
	if err := q.QueryRow(ctx, query,
		ticketID,
		msg.Author.ID,
		msg.Body,
		msg.IsResponse,
		msg.SentAt,
	).Scan(&msg.ID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func loadTicket(ctx context.Context, q querier, ownerID, ticketID string) (*domain.Ticket, error) {
	const ticketQuery = `
        SELECT t.id::text, t.title, t.department, t.status, t.owner_id::text, u.username, t.created_at, t.updated_at
        FROM tickets t JOIN users u ON u.id = t.owner_id
        WHERE t.id=$1 AND t.owner_id=$2`
	var ticket domain.Ticket
	if err := q.QueryRow(ctx, ticketQuery, ticketID, ownerID).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Department,
		&ticket.Status,
		&ticket.Owner.ID,
		&ticket.Owner.Username,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	const messagesQuery = `
        SELECT m.id::text, m.body, m.is_response, m.author_id::text, u.username, m.sent_at
        FROM ticket_messages m JOIN users u ON u.id = m.author_id
        WHERE m.ticket_id=$1 ORDER BY m.seq ASC`
	rows, err := q.Query(ctx, messagesQuery, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ticket.Messages = []domain.TicketMessage{}
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.Body,
			&msg.IsResponse,
			&msg.Author.ID,
			&msg.Author.Username,
			&msg.SentAt,
		); err != nil {
			return nil, err
		}
		ticket.Messages = append(ticket.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
