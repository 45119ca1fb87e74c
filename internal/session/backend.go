package session

import "context"

type Credentials struct {
	Username string
	Password string
}

type Registration struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Role        string
}

// Tokens is a credential pair. An empty Refresh in a refresh response means
// the refresh token stays unchanged.
type Tokens struct {
	Access  string
	Refresh string
}

type LoginResult struct {
	Tokens
	User *User
}

type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}

// Backend is the auth server a Manager talks to. Implementations wrap
// ErrUnauthorized when the server rejects credentials or tokens and
// ErrBackendUnavailable when it cannot be reached.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Register(ctx context.Context, reg Registration) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	Me(ctx context.Context, accessToken string) (*User, error)
	UpdateProfile(ctx context.Context, accessToken string, upd ProfileUpdate) (*User, error)
	DeleteUser(ctx context.Context, accessToken string) error
	Logout(ctx context.Context, refreshToken string) error
}
