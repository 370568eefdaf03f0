package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/events"
	"github.com/sharifiasldev/support-service/internal/repository"
	apperrors "github.com/sharifiasldev/support-service/pkg/util/errorutil"
)

func TestMain(m *testing.M) {
	// keep-alive connections to the fake content store close asynchronously
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var (
	userU = domain.UserRef{ID: "u-1", Username: "sara"}
	userV = domain.UserRef{ID: "u-2", Username: "omid"}
)

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc   *TicketService
	repo  *repository.MemoryTicketRepository
	seen  *recorder
	clock *stepClock
}

func newFixture(t *testing.T, departments ...string) fixture {
	t.Helper()
	repo := repository.NewMemoryTicketRepository()
	dispatcher := events.NewInMemoryDispatcher()
	seen := &recorder{}
	dispatcher.Subscribe(events.EventTicketCreated, seen.handle)
	dispatcher.Subscribe(events.EventTicketMessageAdded, seen.handle)
	clock := &stepClock{cur: time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)}

	svc := NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		Dispatcher:  dispatcher,
		Departments: departments,
		Now:         clock.Now,
	})
	return fixture{svc: svc, repo: repo, seen: seen, clock: clock}
}

func createScenarioTicket(t *testing.T, f fixture) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.Create(context.Background(), userU, TicketCreateInput{
		Title:      "Cannot download file",
		Department: "Technical Support",
		Message:    "My download link is broken",
	})
	require.NoError(t, err)
	return ticket
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, code), "want %s, got %v", code, err)
}

func TestCreateScenario(t *testing.T) {
	f := newFixture(t)
	ticket := createScenarioTicket(t, f)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, userU, ticket.Owner)
	require.Len(t, ticket.Messages, 1)

	want := domain.TicketMessage{Body: "My download link is broken", IsResponse: false, Author: userU, SentAt: ticket.CreatedAt}
	if diff := cmp.Diff(want, ticket.Messages[0], cmpopts.IgnoreFields(domain.TicketMessage{}, "ID")); diff != "" {
		t.Errorf("first message mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.seen.types())
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name   string
		input  TicketCreateInput
		fields []string
	}{
		{"all blank", TicketCreateInput{}, []string{"title", "department", "message"}},
		{"whitespace title", TicketCreateInput{Title: "  ", Department: "Sales", Message: "hi"}, []string{"title"}},
		{"missing department", TicketCreateInput{Title: "t", Message: "hi"}, []string{"department"}},
		{"blank message", TicketCreateInput{Title: "t", Department: "Sales", Message: "\n\t"}, []string{"message"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), userU, tc.input)
			assertCode(t, err, "VALIDATION_FAILED")
			assert.Equal(t, tc.fields, apperrors.ToDomainError(err).Details["fields"])

			list, err := f.repo.ListByOwner(context.Background(), userU.ID)
			require.NoError(t, err)
			assert.Empty(t, list, "nothing may be created")
			assert.Empty(t, f.seen.types())
		})
	}
}

func TestCreateDepartmentAllowList(t *testing.T) {
	f := newFixture(t, "Sales", "Technical Support")

	_, err := f.svc.Create(context.Background(), userU, TicketCreateInput{Title: "t", Department: "Billing", Message: "m"})
	assertCode(t, err, "VALIDATION_FAILED")
	assert.Equal(t, []string{"Sales", "Technical Support"}, apperrors.ToDomainError(err).Details["allowed"])

	createScenarioTicket(t, f)
}

func TestReplyScenario(t *testing.T) {
	f := newFixture(t)
	ticket := createScenarioTicket(t, f)

	updated, err := f.svc.Reply(context.Background(), userU, ticket.ID, "Still broken after retry")
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	for _, m := range updated.Messages {
		assert.Equal(t, userU, m.Author)
		assert.False(t, m.IsResponse)
	}
	assert.True(t, updated.Messages[1].SentAt.After(updated.Messages[0].SentAt))
	assert.Equal(t, "Still broken after retry", updated.Messages[1].Body)
	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventTicketMessageAdded}, f.seen.types())
}

func TestReplyValidationAndScoping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := createScenarioTicket(t, f)

	_, err := f.svc.Reply(ctx, userU, ticket.ID, "   ")
	assertCode(t, err, "VALIDATION_FAILED")

	_, err = f.svc.Reply(ctx, userU, "does-not-exist", "hello")
	assertCode(t, err, "NOT_FOUND")

	_, err = f.svc.Reply(ctx, userV, ticket.ID, "let me in")
	assertCode(t, err, "NOT_FOUND")

	stored, err := f.svc.GetForOwner(ctx, userU, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1, "rejected replies must not append")
}

func TestGetForOwnerHidesOtherUsersTickets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := createScenarioTicket(t, f)

	got, err := f.svc.GetForOwner(ctx, userV, ticket.ID)
	assert.Nil(t, got)
	assertCode(t, err, "NOT_FOUND")

	_, absentErr := f.svc.GetForOwner(ctx, userV, "missing")
	assert.Equal(t, apperrors.ToDomainError(err).HTTPStatus, apperrors.ToDomainError(absentErr).HTTPStatus)

	got, err = f.svc.GetForOwner(ctx, userU, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
}

func TestListForOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := createScenarioTicket(t, f)
	second := createScenarioTicket(t, f)
	_, err := f.svc.Create(ctx, userV, TicketCreateInput{Title: "other", Department: "Sales", Message: "m"})
	require.NoError(t, err)

	list, err := f.svc.ListForOwner(ctx, userU)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = f.svc.ListForOwner(ctx, domain.UserRef{})
	assertCode(t, err, "UNAUTHORIZED")
}

func TestConcurrentRepliesAreNotLost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := createScenarioTicket(t, f)

	g, gctx := errgroup.WithContext(ctx)
	for _, body := range []string{"A", "B"} {
		body := body
		g.Go(func() error {
			_, err := f.svc.Reply(gctx, userU, ticket.ID, body)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := f.svc.GetForOwner(ctx, userU, ticket.ID)
	require.NoError(t, err)
	bodies := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		bodies = append(bodies, m.Body)
	}
	assert.ElementsMatch(t, []string{"My download link is broken", "A", "B"}, bodies)
}

type failingRepo struct {
	repository.TicketRepository
	err error
}

func (r failingRepo) ListByOwner(context.Context, string) ([]domain.Ticket, error) {
	return nil, r.err
}

func (r failingRepo) Create(context.Context, *domain.Ticket) error {
	return r.err
}

func TestStoreFailuresAreHidden(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	svc := NewTicketService(TicketDependencies{TicketRepo: failingRepo{err: cause}})

	_, err := svc.ListForOwner(context.Background(), userU)
	assertCode(t, err, "STORE_UNAVAILABLE")
	assert.NotContains(t, apperrors.ToDomainError(err).Message, "10.0.0.5")

	_, err = svc.Create(context.Background(), userU, TicketCreateInput{Title: "t", Department: "d", Message: "m"})
	assertCode(t, err, "STORE_UNAVAILABLE")
	assert.ErrorIs(t, err, cause)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventTicketCreated, func(context.Context, events.Event) error {
		return errors.New("webhook down")
	})
	svc := NewTicketService(TicketDependencies{TicketRepo: repository.NewMemoryTicketRepository(), Dispatcher: dispatcher})

	ticket, err := svc.Create(context.Background(), userU, TicketCreateInput{Title: "t", Department: "d", Message: "m"})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
}
