package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeAccount struct {
	password string
	user     User
}

// fakeBackend is an in-memory auth server. Access tokens can be expired and
// the whole backend can be taken offline.
type fakeBackend struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
	access   map[string]string
	refresh  map[string]string
	seq      int

	offline     bool
	rejectMe    bool
	block       bool
	calls       map[string]int
	loggedOut   []string
	deletedUser []string
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		accounts: make(map[string]*fakeAccount),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		calls:    make(map[string]int),
	}
	b.addUser("userA", "password-a", "participant")
	b.addUser("userB", "password-b", "organizer")
	return b
}

func (b *fakeBackend) addUser(username, password, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[username] = &fakeAccount{
		password: password,
		user: User{
			ID:          fmt.Sprintf("id-%s", username),
			Username:    username,
			Email:       username + "@example.com",
			DisplayName: username,
			Role:        role,
			CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func (b *fakeBackend) setOffline(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = v
}

func (b *fakeBackend) setRejectMe(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectMe = v
}

func (b *fakeBackend) setBlock(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block = v
}

// expireAccess invalidates an access token as if it had timed out.
func (b *fakeBackend) expireAccess(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.access, token)
}

// revokeRefresh invalidates a refresh token.
func (b *fakeBackend) revokeRefresh(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, token)
}

func (b *fakeBackend) callCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) enter(ctx context.Context, name string) error {
	b.mu.Lock()
	b.calls[name]++
	offline, block := b.offline, b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, ctx.Err())
	}
	if offline {
		return fmt.Errorf("%w: connection refused", ErrBackendUnavailable)
	}
	return nil
}

// issueLocked mints a token pair for username. b.mu must be held.
func (b *fakeBackend) issueLocked(username string) Tokens {
	b.seq++
	t := Tokens{
		Access:  fmt.Sprintf("access-%d", b.seq),
		Refresh: fmt.Sprintf("refresh-%d", b.seq),
	}
	b.access[t.Access] = username
	b.refresh[t.Refresh] = username
	return t
}

func (b *fakeBackend) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if err := b.enter(ctx, "login"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[creds.Username]
	if !ok || acc.password != creds.Password {
		return nil, fmt.Errorf("%w: 401 invalid credentials", ErrUnauthorized)
	}
	user := acc.user
	return &LoginResult{Tokens: b.issueLocked(creds.Username), User: &user}, nil
}

func (b *fakeBackend) Register(ctx context.Context, reg Registration) (*LoginResult, error) {
	if err := b.enter(ctx, "register"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if _, ok := b.accounts[reg.Username]; ok {
		b.mu.Unlock()
		return nil, errors.New("409 username already exists")
	}
	b.mu.Unlock()

	role := reg.Role
	if role == "" {
		role = "participant"
	}
	b.addUser(reg.Username, reg.Password, role)

	b.mu.Lock()
	defer b.mu.Unlock()
	user := b.accounts[reg.Username].user
	return &LoginResult{Tokens: b.issueLocked(reg.Username), User: &user}, nil
}

func (b *fakeBackend) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if err := b.enter(ctx, "refresh"); err != nil {
		return Tokens{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	username, ok := b.refresh[refreshToken]
	if !ok {
		return Tokens{}, fmt.Errorf("%w: 401 invalid refresh token", ErrUnauthorized)
	}
	b.seq++
	access := fmt.Sprintf("access-%d", b.seq)
	b.access[access] = username
	return Tokens{Access: access}, nil
}

func (b *fakeBackend) userFor(access string) (*fakeAccount, error) {
	username, ok := b.access[access]
	if !ok || b.rejectMe {
		return nil, fmt.Errorf("%w: 401 invalid token", ErrUnauthorized)
	}
	acc, ok := b.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: 401 user not found", ErrUnauthorized)
	}
	return acc, nil
}

func (b *fakeBackend) Me(ctx context.Context, accessToken string) (*User, error) {
	if err := b.enter(ctx, "me"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, err := b.userFor(accessToken)
	if err != nil {
		return nil, err
	}
	user := acc.user
	return &user, nil
}

func (b *fakeBackend) UpdateProfile(ctx context.Context, accessToken string, upd ProfileUpdate) (*User, error) {
	if err := b.enter(ctx, "update_profile"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, err := b.userFor(accessToken)
	if err != nil {
		return nil, err
	}
	if upd.DisplayName != nil {
		acc.user.DisplayName = *upd.DisplayName
	}
	if upd.Email != nil {
		acc.user.Email = *upd.Email
	}
	user := acc.user
	return &user, nil
}

func (b *fakeBackend) DeleteUser(ctx context.Context, accessToken string) error {
	if err := b.enter(ctx, "delete_user"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, err := b.userFor(accessToken)
	if err != nil {
		return err
	}
	delete(b.accounts, acc.user.Username)
	b.deletedUser = append(b.deletedUser, acc.user.Username)
	return nil
}

func (b *fakeBackend) Logout(ctx context.Context, refreshToken string) error {
	if err := b.enter(ctx, "logout"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, refreshToken)
	b.loggedOut = append(b.loggedOut, refreshToken)
	return nil
}
