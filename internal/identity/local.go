package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenUseAccess  = "access"
	tokenUseID      = "id"
	tokenUseRefresh = "refresh"
)

// CodeSender delivers a confirmation code to a user.
type CodeSender func(username, code string)

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithCodeSender replaces the default sender, which logs the code.
func WithCodeSender(send CodeSender) LocalOption {
	return func(p *LocalProvider) { p.sendCode = send }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) { p.now = now }
}

// WithCodeExpiry sets how long confirmation codes stay valid (default 24h).
func WithCodeExpiry(d time.Duration) LocalOption {
	return func(p *LocalProvider) { p.codeExpiry = d }
}

type localUser struct {
	sub          string
	username     string
	displayName  string
	passwordHash []byte
	confirmed    bool
	code         string
	codeExpires  time.Time
}

// LocalProvider is an in-process identity provider. Accounts live in memory,
// passwords are bcrypt hashed and tokens are HS256 JWTs. Refresh tokens are
// single use: each refresh rotates them.
type LocalProvider struct {
	mu      sync.Mutex
	users   map[string]*localUser // keyed by lowercased username
	refresh map[string]string     // refresh token jti -> username

	secret        []byte
	issuer        string
	tokenExpiry   time.Duration
	refreshExpiry time.Duration
	codeExpiry    time.Duration
	sendCode      CodeSender
	now           func() time.Time
}

// NewLocalProvider creates a provider signing tokens with secret.
//
// Example:
//
//	idp := identity.NewLocalProvider([]byte(secret), "psoriscan-local", time.Hour,
//	    identity.WithCodeSender(func(user, code string) { ... }))
func NewLocalProvider(secret []byte, issuer string, tokenExpiry time.Duration, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		users:         make(map[string]*localUser),
		refresh:       make(map[string]string),
		secret:        secret,
		issuer:        issuer,
		tokenExpiry:   tokenExpiry,
		refreshExpiry: 30 * 24 * time.Hour,
		codeExpiry:    24 * time.Hour,
		now:           time.Now,
		sendCode: func(username, code string) {
			log.Info().
				Str("username", username).
				Str("code", code).
				Msg("Confirmation code issued")
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp registers an unconfirmed account and sends it a confirmation code.
func (p *LocalProvider) SignUp(ctx context.Context, username, password, displayName string) (*SignUpResult, error) {
	username = normalizeUsername(username)
	if _, err := mail.ParseAddress(username); err != nil {
		return nil, fmt.Errorf("%w: username must be an email address", ErrInvalidCredentials)
	}
	if err := checkPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAuth, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.users[username]; exists {
		return nil, ErrUsernameExists
	}

	user := &localUser{
		sub:          uuid.New().String(),
		username:     username,
		displayName:  displayName,
		passwordHash: hash,
	}
	if err := p.issueCode(user); err != nil {
		return nil, err
	}
	p.users[username] = user

	return &SignUpResult{
		UserSub:     user.sub,
		Confirmed:   false,
		Destination: maskDestination(username),
	}, nil
}

// ConfirmSignUp confirms an account with its one-time code. Confirming an
// already confirmed account succeeds.
func (p *LocalProvider) ConfirmSignUp(ctx context.Context, username, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[normalizeUsername(username)]
	if !ok {
		return ErrUserNotFound
	}
	if user.confirmed {
		return nil
	}
	if user.code == "" || code != user.code || p.now().After(user.codeExpires) {
		return ErrInvalidCode
	}

	user.confirmed = true
	user.code = ""
	return nil
}

// ResendConfirmationCode issues a fresh code, invalidating the previous one.
func (p *LocalProvider) ResendConfirmationCode(ctx context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[normalizeUsername(username)]
	if !ok {
		return ErrUserNotFound
	}
	if user.confirmed {
		return fmt.Errorf("%w: account already confirmed", ErrInvalidCode)
	}
	return p.issueCode(user)
}

// SignIn authenticates with username and password.
func (p *LocalProvider) SignIn(ctx context.Context, username, password string) (*Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[normalizeUsername(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.confirmed {
		return nil, ErrUnconfirmedAccount
	}

	return p.issueTokens(user)
}

// Refresh exchanges a refresh token for a new token set and revokes it.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	claims, err := p.verify(refreshToken, tokenUseRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	username, ok := p.refresh[claims.ID]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token revoked", ErrInvalidCredentials)
	}
	delete(p.refresh, claims.ID)

	user, ok := p.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}

	return p.issueTokens(user)
}

// GlobalSignOut revokes every refresh token of the access token's owner.
func (p *LocalProvider) GlobalSignOut(ctx context.Context, accessToken string) error {
	claims, err := p.verify(accessToken, tokenUseAccess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	revoked := 0
	for jti, username := range p.refresh {
		if username == claims.Email {
			delete(p.refresh, jti)
			revoked++
		}
	}

	log.Debug().Str("user_id", claims.Subject).Int("revoked", revoked).Msg("Refresh tokens revoked")
	return nil
}

// issueTokens must be called with p.mu held.
func (p *LocalProvider) issueTokens(user *localUser) (*Tokens, error) {
	now := p.now()
	expiresAt := now.Add(p.tokenExpiry)

	access, err := p.sign(user, tokenUseAccess, generateJTI(), now, expiresAt)
	if err != nil {
		return nil, err
	}
	id, err := p.sign(user, tokenUseID, generateJTI(), now, expiresAt)
	if err != nil {
		return nil, err
	}

	refreshJTI := generateJTI()
	refresh, err := p.sign(user, tokenUseRefresh, refreshJTI, now, now.Add(p.refreshExpiry))
	if err != nil {
		return nil, err
	}
	p.refresh[refreshJTI] = user.username

	return &Tokens{
		AccessToken:  access,
		IDToken:      id,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

func (p *LocalProvider) sign(user *localUser, use, jti string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Email:    user.username,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.sub,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if use == tokenUseID {
		claims.Name = user.displayName
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", ErrUnknownAuth, err)
	}
	return token, nil
}

func (p *LocalProvider) verify(tokenString, use string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(p.issuer))
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != use {
		return nil, fmt.Errorf("expected %s token, got %q", use, claims.TokenUse)
	}
	return claims, nil
}

// issueCode must be called with p.mu held.
func (p *LocalProvider) issueCode(user *localUser) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownAuth, err)
	}
	user.code = code
	user.codeExpires = p.now().Add(p.codeExpiry)
	p.sendCode(user.username, code)
	return nil
}

// checkPasswordPolicy requires at least 8 characters with an upper-case
// letter, a lower-case letter, a digit and a symbol.
func checkPasswordPolicy(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: at least 8 characters required", ErrInvalidPassword)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return fmt.Errorf("%w: needs upper, lower, digit and symbol", ErrInvalidPassword)
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// generateCode returns a uniformly random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// generateJTI returns a URL-safe base64 string of 16 random bytes.
func generateJTI() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
