package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sharifiasldev/support-service/internal/config"
	"github.com/sharifiasldev/support-service/internal/contentstore"
	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/persistence"
)

// fakeCMS is a minimal stand-in for the CMS tickets collection.
type fakeCMS struct {
	mu        sync.Mutex
	nextID    int64
	nextMsgID int64
	users     map[int64]string
	tickets   map[int64]*fakeTicket
	puts      int
	lastPut   []byte
	delay     time.Duration
}

type fakeTicket struct {
	ID         int64
	Owner      int64
	Title      string
	Department string
	Status     string
	CreatedAt  time.Time
	Messages   []fakeMessage
}

type fakeMessage struct {
	ID         int64
	Message    string
	IsResponse bool
	Author     int64
	SentAt     *time.Time
}

func newFakeCMS() *fakeCMS {
	// component ids start high so they never collide with seeded ones
	return &fakeCMS{nextMsgID: 99, users: map[int64]string{7: "sara", 8: "omid"}, tickets: map[int64]*fakeTicket{}}
}

func (f *fakeCMS) author(id int64) map[string]any {
	if id == 0 {
		return map[string]any{"data": nil}
	}
	return map[string]any{"data": map[string]any{"id": id, "attributes": map[string]any{"username": f.users[id]}}}
}

func (f *fakeCMS) render(t *fakeTicket) map[string]any {
	msgs := make([]map[string]any, 0, len(t.Messages))
	for _, m := range t.Messages {
		msgs = append(msgs, map[string]any{
			"id": m.ID, "message": m.Message, "isResponse": m.IsResponse,
			"sentAt": m.SentAt, "author": f.author(m.Author),
		})
	}
	return map[string]any{"id": t.ID, "attributes": map[string]any{
		"title": t.Title, "department": t.Department, "status": t.Status,
		"createdAt": t.CreatedAt, "updatedAt": t.CreatedAt,
		"user": f.author(t.Owner), "messages": msgs,
	}}
}

func (f *fakeCMS) storeMessages(t *fakeTicket, raw []messageInput) {
	t.Messages = nil
	for _, in := range raw {
		msg := fakeMessage{ID: in.ID, Message: in.Message, IsResponse: in.IsResponse, SentAt: in.SentAt}
		if in.Author != nil {
			msg.Author = *in.Author
		}
		if msg.ID == 0 {
			f.nextMsgID++
			msg.ID = f.nextMsgID
		}
		t.Messages = append(t.Messages, msg)
	}
}

func (f *fakeCMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	q := r.URL.Query()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/tickets":
		owner, _ := strconv.ParseInt(q.Get("filters[user][id][$eq]"), 10, 64)
		id := q.Get("filters[id][$eq]")
		data := []map[string]any{}
		for _, t := range f.tickets {
			if t.Owner != owner || (id != "" && strconv.FormatInt(t.ID, 10) != id) {
				continue
			}
			data = append(data, f.render(t))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	case r.Method == http.MethodPost && r.URL.Path == "/api/tickets":
		var body struct {
			Data struct {
				Title      string         `json:"title"`
				Department string         `json:"department"`
				Status     string         `json:"status"`
				User       int64          `json:"user"`
				Messages   []messageInput `json:"messages"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.nextID++
		t := &fakeTicket{ID: f.nextID, Owner: body.Data.User, Title: body.Data.Title,
			Department: body.Data.Department, Status: body.Data.Status, CreatedAt: time.Now().UTC()}
		f.storeMessages(t, body.Data.Messages)
		f.tickets[t.ID] = t
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.render(t)})
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/tickets/"):
		f.puts++
		id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), 10, 64)
		t, ok := f.tickets[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		f.lastPut = raw
		var body struct {
			Data struct {
				Messages []messageInput `json:"messages"`
			} `json:"data"`
		}
		_ = json.Unmarshal(raw, &body)
		f.storeMessages(t, body.Data.Messages)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.render(t)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newContentStoreRepo(t *testing.T, cms *fakeCMS) TicketRepository {
	t.Helper()
	srv := httptest.NewServer(cms)
	t.Cleanup(srv.Close)
	client := contentstore.NewClient(config.ContentStoreConfig{BaseURL: srv.URL, APIToken: "svc"}, zap.NewNop())
	return NewContentStoreTicketRepository(client, "tickets", persistence.NewLocalLocker(), 0)
}

var sara = domain.UserRef{ID: "7", Username: "sara"}

func TestContentStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	cms := newFakeCMS()
	repo := newContentStoreRepo(t, cms)

	ticket := newTicket(sara, "Cannot download file", base)
	require.NoError(t, repo.Create(ctx, ticket))
	assert.Equal(t, "1", ticket.ID)
	assert.Equal(t, "100", ticket.Messages[0].ID)

	got, err := repo.GetForOwner(ctx, sara.ID, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cannot download file", got.Title)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
	assert.Equal(t, sara, got.Owner)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, sara, got.Messages[0].Author)
	assert.True(t, got.Messages[0].SentAt.Equal(base))

	_, err = repo.GetForOwner(ctx, "8", ticket.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetForOwner(ctx, sara.ID, "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.ListByOwner(ctx, sara.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ticket.ID, list[0].ID)
}

func TestContentStoreAppendKeepsExistingMessages(t *testing.T) {
	ctx := context.Background()
	cms := newFakeCMS()
	repo := newContentStoreRepo(t, cms)

	ticket := newTicket(sara, "thread", base)
	require.NoError(t, repo.Create(ctx, ticket))

	updated, err := repo.AppendMessage(ctx, sara.ID, ticket.ID, domain.TicketMessage{
		Body: "older clock", Author: sara, SentAt: base.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.Equal(t, "first", updated.Messages[0].Body)
	assert.Equal(t, ticket.Messages[0].ID, updated.Messages[0].ID)
	assert.True(t, updated.Messages[1].SentAt.Equal(base), "sentAt clamped to latest")

	_, err = repo.AppendMessage(ctx, "8", ticket.ID, domain.TicketMessage{Body: "x", Author: domain.UserRef{ID: "8"}, SentAt: base})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, cms.puts)
}

func TestContentStoreConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	cms := newFakeCMS()
	repo := newContentStoreRepo(t, cms)

	ticket := newTicket(sara, "race", base)
	require.NoError(t, repo.Create(ctx, ticket))

	var g errgroup.Group
	for _, body := range []string{"A", "B", "C", "D"} {
		body := body
		g.Go(func() error {
			_, err := repo.AppendMessage(ctx, sara.ID, ticket.ID, domain.TicketMessage{Body: body, Author: sara, SentAt: base.Add(time.Minute)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := repo.GetForOwner(ctx, sara.ID, ticket.ID)
	require.NoError(t, err)
	bodies := map[string]bool{}
	for _, m := range got.Messages {
		bodies[m.Body] = true
	}
	assert.Len(t, got.Messages, 5)
	for _, body := range []string{"first", "A", "B", "C", "D"} {
		assert.True(t, bodies[body], "missing %q", body)
	}
}

// seedTicket stores a ticket as if written through the CMS admin.
func (f *fakeCMS) seedTicket(owner int64, messages ...fakeMessage) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.tickets[f.nextID] = &fakeTicket{ID: f.nextID, Owner: owner, Title: "seeded", Department: "Sales",
		Status: "Open", CreatedAt: base, Messages: messages}
	return strconv.FormatInt(f.nextID, 10)
}

func (f *fakeCMS) putMessages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Data struct {
			Messages []map[string]any `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.lastPut, &body))
	return body.Data.Messages
}

func TestContentStoreAppendLeavesStaffMessagesUntouched(t *testing.T) {
	ctx := context.Background()
	cms := newFakeCMS()
	repo := newContentStoreRepo(t, cms)

	first := base
	ticketID := cms.seedTicket(7,
		fakeMessage{ID: 1, Message: "first", Author: 7, SentAt: &first},
		fakeMessage{ID: 2, Message: "staff reply from admin", IsResponse: true},
	)

	updated, err := repo.AppendMessage(ctx, sara.ID, ticketID, domain.TicketMessage{
		Body: "thanks", Author: sara, SentAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 3)

	sent := cms.putMessages(t)
	require.Len(t, sent, 3)
	assert.Equal(t, map[string]any{
		"id": float64(2), "message": "staff reply from admin", "isResponse": true, "author": nil,
	}, sent[1])
	assert.Equal(t, float64(7), sent[0]["author"])
	assert.Equal(t, base.Format(time.RFC3339), sent[0]["sentAt"])

	stored := cms.tickets[1].Messages[1]
	assert.Nil(t, stored.SentAt)
	assert.True(t, updated.Messages[2].SentAt.Equal(base.Add(time.Minute)))
}

func TestContentStoreAppendWithoutComponentIDs(t *testing.T) {
	ctx := context.Background()
	cms := newFakeCMS()
	repo := newContentStoreRepo(t, cms)

	first := base
	ticketID := cms.seedTicket(7, fakeMessage{ID: 0, Message: "first", Author: 7, SentAt: &first})

	got, err := repo.GetForOwner(ctx, sara.ID, ticketID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages[0].ID)

	_, err = repo.AppendMessage(ctx, sara.ID, ticketID, domain.TicketMessage{Body: "again", Author: sara, SentAt: base})
	require.NoError(t, err)

	sent := cms.putMessages(t)
	require.Len(t, sent, 2)
	assert.NotContains(t, sent[0], "id")
	assert.Equal(t, "first", sent[0]["message"])
}

func TestContentStoreAppendAbandonsWorkPastHoldLimit(t *testing.T) {
	cms := newFakeCMS()
	first := base
	ticketID := cms.seedTicket(7, fakeMessage{ID: 1, Message: "first", Author: 7, SentAt: &first})
	cms.delay = 200 * time.Millisecond

	srv := httptest.NewServer(cms)
	t.Cleanup(srv.Close)
	client := contentstore.NewClient(config.ContentStoreConfig{BaseURL: srv.URL}, zap.NewNop())
	repo := NewContentStoreTicketRepository(client, "tickets", persistence.NewLocalLocker(), 50*time.Millisecond)

	_, err := repo.AppendMessage(context.Background(), sara.ID, ticketID, domain.TicketMessage{Body: "late", Author: sara, SentAt: base})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	cms.mu.Lock()
	defer cms.mu.Unlock()
	assert.Zero(t, cms.puts)
	assert.Len(t, cms.tickets[1].Messages, 1)
}
