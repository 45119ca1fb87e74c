// Package authclient talks to the event-portal auth API and implements
// session.Backend.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dom/event-portal/internal/session"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps rejected credentials to session.ErrUnauthorized and server
// failures to session.ErrBackendUnavailable.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return session.ErrUnauthorized
	case e.StatusCode >= http.StatusInternalServerError:
		return session.ErrBackendUnavailable
	default:
		return nil
	}
}

// Client handles HTTP communication with the backend
type Client struct {
	root       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ session.Backend = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the API served at baseURL.
func New(baseURL string, opts ...Option) *Client {
	root := strings.TrimRight(baseURL, "/")
	c := &Client{
		root:       root,
		baseURL:    root + "/api/v1",
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("authclient")
	return c
}

// Wire types matching the backend

type userPayload struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u *userPayload) toUser() *session.User {
	return &session.User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

type authPayload struct {
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	User    userPayload `json:"user"`
}

func (p *authPayload) toResult() *session.LoginResult {
	return &session.LoginResult{
		Tokens: session.Tokens{Access: p.Access, Refresh: p.Refresh},
		User:   p.User.toUser(),
	}
}

type refreshPayload struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.LoginResult, error) {
	body := map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	}

	var out authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return out.toResult(), nil
}

func (c *Client) Register(ctx context.Context, reg session.Registration) (*session.LoginResult, error) {
	body := map[string]string{
		"username":    reg.Username,
		"password":    reg.Password,
		"email":       reg.Email,
		"displayName": reg.DisplayName,
		"role":        reg.Role,
	}

	var out authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", body, http.StatusCreated, &out); err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}
	return out.toResult(), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Tokens, error) {
	body := map[string]string{"refresh": refreshToken}

	var out refreshPayload
	if err := c.do(ctx, http.MethodPost, "/auth/token/refresh", "", body, http.StatusOK, &out); err != nil {
		return session.Tokens{}, fmt.Errorf("token refresh failed: %w", err)
	}
	return session.Tokens{Access: out.Access, Refresh: out.Refresh}, nil
}

func (c *Client) Me(ctx context.Context, accessToken string) (*session.User, error) {
	var out userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("get profile failed: %w", err)
	}
	return out.toUser(), nil
}

func (c *Client) UpdateProfile(ctx context.Context, accessToken string, upd session.ProfileUpdate) (*session.User, error) {
	body := map[string]*string{
		"displayName": upd.DisplayName,
		"email":       upd.Email,
	}

	var out userPayload
	if err := c.do(ctx, http.MethodPut, "/auth/update_profile", accessToken, body, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("update profile failed: %w", err)
	}
	return out.toUser(), nil
}

func (c *Client) DeleteUser(ctx context.Context, accessToken string) error {
	if err := c.do(ctx, http.MethodDelete, "/auth/user", accessToken, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	return nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/logout", "", body, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body interface{}, want int, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %w", session.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != want {
		return &APIError{StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsStatus reports whether err carries an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
