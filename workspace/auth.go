package workspace

import (
	"context"
	"time"

	"github.com/Bheem-Platform/bheem-workspace-sub001/client"
)

// AuthService wraps the authentication endpoints.
type AuthService struct {
	api *client.Client
}

// Account is the authenticated user's profile.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the result of a successful login.
type Session struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Account      Account `json:"account"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates with email and password and stores the returned
// token pair on the client.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := s.api.Post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &session,
		client.WithoutAuth())
	if err != nil {
		return Session{}, err
	}
	if err := s.api.SetTokens(ctx, session.AccessToken, session.RefreshToken); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Logout revokes the session server-side and clears the stored tokens.
// The local tokens are cleared even when revocation fails.
func (s *AuthService) Logout(ctx context.Context) error {
	revokeErr := s.api.Post(ctx, "/auth/logout", nil, nil)
	if err := s.api.ClearTokens(ctx); err != nil {
		return err
	}
	return revokeErr
}

// Me fetches the authenticated user's profile.
func (s *AuthService) Me(ctx context.Context) (Account, error) {
	var account Account
	if err := s.api.Get(ctx, "/auth/me", &account); err != nil {
		return Account{}, err
	}
	return account, nil
}
