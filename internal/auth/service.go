package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"askdesk/internal/audit"
	"askdesk/internal/logging"
)

// ErrInvalidCredentials is the single error for every login failure:
// unknown user, wrong password, deactivated account. The uniformity is
// deliberate so responses do not reveal which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyHash keeps the bcrypt comparison on the unknown-user path, so
// login latency does not distinguish existing from missing usernames.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("askdesk-timing-pad"), bcrypt.DefaultCost)

// CallerIdentity is the authenticated principal attached to a request.
// The wire field is singular "role" even though the value is a list.
type CallerIdentity struct {
	Username string   `json:"username"`
	Roles    []string `json:"role"`
}

// TokenPair is the response to a successful login or refresh. User is
// present on login only.
type TokenPair struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	User         *CallerIdentity `json:"user,omitempty"`
}

// Service implements login, refresh, and per-request authentication.
type Service struct {
	store  *Store
	issuer *TokenIssuer
	sink   *audit.Sink
}

// NewService wires the auth service. A nil sink discards audit events.
func NewService(store *Store, issuer *TokenIssuer, sink *audit.Sink) *Service {
	return &Service{store: store, issuer: issuer, sink: sink}
}

// Login verifies credentials and mints a token pair with the user's
// current role snapshot.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	log := logging.Get(logging.CategoryAuth)

	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.sink.AuthAttempt(username, false, "unknown user")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: login lookup: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.sink.AuthAttempt(username, false, "bad password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.sink.AuthAttempt(username, false, "inactive account")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(user.Username, user.Roles)
	if err != nil {
		return nil, err
	}
	pair.User = &CallerIdentity{Username: user.Username, Roles: user.Roles}
	s.sink.AuthAttempt(username, true, "")
	log.Info("login succeeded for %s", username)
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The role
// snapshot in the token is carried forward unchanged; only a full login
// picks up role changes. A deactivated or deleted account cannot
// refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", ErrInvalidToken)
		}
		return nil, fmt.Errorf("auth: refresh lookup: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account deactivated", ErrInvalidToken)
	}

	return s.issuePair(claims.Subject, claims.Roles)
}

// Authenticate validates an access token and returns the caller.
func (s *Service) Authenticate(tokenString string) (*CallerIdentity, error) {
	claims, err := s.issuer.Verify(tokenString, TokenKindAccess)
	if err != nil {
		return nil, err
	}
	return &CallerIdentity{Username: claims.Subject, Roles: claims.Roles}, nil
}

func (s *Service) issuePair(username string, roles []string) (*TokenPair, error) {
	access, err := s.issuer.Issue(username, roles, TokenKindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.Issue(username, roles, TokenKindRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
	}, nil
}
