// Package identity abstracts the hosted identity provider the session manager
// wraps. Implementations translate provider-specific failures into the
// sentinel errors below so callers can branch with errors.Is:
//
//	tokens, err := provider.SignIn(ctx, email, password)
//	if errors.Is(err, identity.ErrUnconfirmedAccount) {
//	    // offer "verify now"
//	}
//
// Two implementations exist: HostedProvider talks OAuth2 to a remote IdP and
// LocalProvider issues tokens in-process for development and tests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication failures. Every provider error wraps exactly one of these.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnconfirmedAccount = errors.New("account not confirmed")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidPassword    = errors.New("password does not meet policy")
	ErrInvalidCode        = errors.New("invalid or expired confirmation code")
	ErrUnknownAuth        = errors.New("unknown authentication error")
)

// Provider is the identity SDK surface the session manager depends on.
type Provider interface {
	SignIn(ctx context.Context, username, password string) (*Tokens, error)
	SignUp(ctx context.Context, username, password, displayName string) (*SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	ResendConfirmationCode(ctx context.Context, username string) error
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	GlobalSignOut(ctx context.Context, accessToken string) error
}

// Tokens is the credential set returned by a successful authentication or
// refresh.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SignUpResult marks a registration that still awaits confirmation.
type SignUpResult struct {
	UserSub     string `json:"user_sub"`
	Confirmed   bool   `json:"confirmed"`
	Destination string `json:"destination,omitempty"` // Masked address the code went to
}

// Claims carried by identity tokens.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes a JWT's claims without verifying its signature.
// The client holds no provider keys; the backend verifies every bearer token
// it receives. Expiry is reported by the claims, not enforced here.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	return claims, nil
}

// Expiry returns the token expiry or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// classify maps a provider error code onto a sentinel. Codes are compared
// case-insensitively and cover both OAuth2 snake_case codes and
// exception-style names.
func classify(code string) error {
	switch strings.ToLower(code) {
	case "user_not_confirmed", "usernotconfirmedexception":
		return ErrUnconfirmedAccount
	case "user_not_found", "usernotfoundexception":
		return ErrUserNotFound
	case "invalid_grant", "invalid_credentials", "not_authorized", "notauthorizedexception":
		return ErrInvalidCredentials
	case "code_mismatch", "codemismatchexception", "expired_code", "expiredcodeexception":
		return ErrInvalidCode
	case "username_exists", "usernameexistsexception":
		return ErrUsernameExists
	case "invalid_password", "invalidpasswordexception":
		return ErrInvalidPassword
	default:
		return ErrUnknownAuth
	}
}

// maskDestination hides most of the local part of an email address:
// "alice@example.com" -> "a***@example.com".
func maskDestination(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
