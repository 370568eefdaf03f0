package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sharifiasldev/support-service/internal/config"
	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/persistence"
)

func newPostgresRepos(t *testing.T) (TicketRepository, UserRepository) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pg, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	_, err = persistence.RunMigrations(ctx, pg.Pool, "../../migrations", zap.NewNop())
	require.NoError(t, err)
	return NewTicketRepository(pg.Pool), NewUserRepository(pg.Pool)
}

func createPostgresUser(t *testing.T, users UserRepository) domain.UserRef {
	t.Helper()
	suffix := uuid.NewString()[:8]
	user := &domain.User{Username: "user-" + suffix, Email: suffix + "@example.com", PasswordHash: "x"}
	require.NoError(t, users.Create(context.Background(), user))
	return user.Ref()
}

func TestPostgresTicketLifecycle(t *testing.T) {
	tickets, users := newPostgresRepos(t)
	ctx := context.Background()
	owner := createPostgresUser(t, users)
	stranger := createPostgresUser(t, users)

	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := newTicket(owner, "Refund request", now)
	require.NoError(t, tickets.Create(ctx, ticket))
	require.NotEmpty(t, ticket.ID)

	_, err := tickets.GetForOwner(ctx, stranger.ID, ticket.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tickets.GetForOwner(ctx, owner.ID, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := tickets.AppendMessage(ctx, owner.ID, ticket.ID, domain.TicketMessage{
		Body: "skewed", Author: owner, SentAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.True(t, updated.Messages[1].SentAt.Equal(now))
	assert.Equal(t, owner, updated.Messages[1].Author)

	list, err := tickets.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Refund request", list[0].Title)
}

func TestPostgresConcurrentAppends(t *testing.T) {
	tickets, users := newPostgresRepos(t)
	ctx := context.Background()
	owner := createPostgresUser(t, users)

	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := newTicket(owner, "busy", now)
	require.NoError(t, tickets.Create(ctx, ticket))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := tickets.AppendMessage(gctx, owner.ID, ticket.ID, domain.TicketMessage{
				Body: "reply", Author: owner, SentAt: time.Now().UTC(),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := tickets.GetForOwner(ctx, owner.ID, ticket.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 9)
	for i := 1; i < len(got.Messages); i++ {
		assert.False(t, got.Messages[i].SentAt.Before(got.Messages[i-1].SentAt), "message %d out of order", i)
	}
}
