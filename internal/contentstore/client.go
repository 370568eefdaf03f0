package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sharifiasldev/support-service/internal/config"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("contentstore: not found")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("contentstore: unauthorized")
	// ErrResponseTooLarge is returned when a body exceeds the client's cap.
	ErrResponseTooLarge = errors.New("contentstore: response too large")
)

// StatusError carries any other non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("contentstore: status %d: %s", e.Status, e.Message)
}

// Entry is a single collection record. Attributes are decoded by the caller.
type Entry struct {
	ID         int64           `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

// UserRecord is the users-permissions user shape.
type UserRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuthResult is returned by the local auth endpoints.
type AuthResult struct {
	JWT  string     `json:"jwt"`
	User UserRecord `json:"user"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Client talks to the headless CMS over its REST API.
type Client struct {
	baseURL  string
	apiToken string
	http     *http.Client
	maxBody  int64
	logger   *zap.Logger
}

// NewClient builds a client; the API token authorizes collection access.
func NewClient(cfg config.ContentStoreConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		http:     &http.Client{Timeout: cfg.Timeout()},
		maxBody:  cfg.MaxResponse(),
		logger:   logger,
	}
}

// Find lists entries of a collection matching the query.
func (c *Client) Find(ctx context.Context, collection string, q Query) ([]Entry, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/"+collection, q.Values(), nil, c.apiToken, &env); err != nil {
		return nil, err
	}
	var entries []Entry
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
	}
	return entries, nil
}

// Create inserts a record; q may request populated relations in the reply.
func (c *Client) Create(ctx context.Context, collection string, data any, q Query) (*Entry, error) {
	return c.write(ctx, http.MethodPost, "/api/"+collection, data, q)
}

// Update replaces the given fields of a record.
func (c *Client) Update(ctx context.Context, collection, id string, data any, q Query) (*Entry, error) {
	return c.write(ctx, http.MethodPut, "/api/"+collection+"/"+url.PathEscape(id), data, q)
}

func (c *Client) write(ctx context.Context, method, path string, data any, q Query) (*Entry, error) {
	var env envelope
	body := map[string]any{"data": data}
	if err := c.do(ctx, method, path, q.Values(), body, c.apiToken, &env); err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(env.Data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// Me resolves the user that owns the given bearer token.
func (c *Client) Me(ctx context.Context, token string) (*UserRecord, error) {
	var user UserRecord
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, nil, token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a user through the local auth provider.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/local/register", nil, body, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Login exchanges an email/username and password for a token.
func (c *Client) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/local", nil, body, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ChangePassword changes the password of the token's owner.
func (c *Client) ChangePassword(ctx context.Context, token, currentPassword, newPassword string) error {
	body := map[string]string{
		"currentPassword":      currentPassword,
		"password":             newPassword,
		"passwordConfirmation": newPassword,
	}
	return c.do(ctx, http.MethodPost, "/api/auth/change-password", nil, body, token, nil)
}

// Ping checks the store health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("content store not configured")
	}
	return c.do(ctx, http.MethodGet, "/_health", nil, nil, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("content store call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > c.maxBody {
		return fmt.Errorf("%s %s: %w", method, path, ErrResponseTooLarge)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return &StatusError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return fallback
}
