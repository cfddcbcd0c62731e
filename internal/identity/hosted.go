package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// HostedProvider talks to a remote identity provider. Token flows use the
// OAuth2 resource owner password grant; account management uses the
// provider's JSON account endpoints.
type HostedProvider struct {
	oauth      *oauth2.Config
	clientID   string
	accountURL string
	httpClient *http.Client
}

// accountError is the error body returned by the account endpoints and,
// for non-standard providers, by the token endpoint.
type accountError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// NewHostedProvider creates a provider for the IdP described by cfg.
// A nil httpClient uses http.DefaultClient.
//
// Example:
//
//	idp := identity.NewHostedProvider(&config.IdentityConfig{
//	    ClientID:   "psoriscan-mobile",
//	    TokenURL:   "https://id.example.com/oauth2/token",
//	    AccountURL: "https://id.example.com/account",
//	}, nil)
func NewHostedProvider(cfg *config.IdentityConfig, httpClient *http.Client) *HostedProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HostedProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		clientID:   cfg.ClientID,
		accountURL: strings.TrimRight(cfg.AccountURL, "/"),
		httpClient: httpClient,
	}
}

// SignIn runs the password grant.
func (p *HostedProvider) SignIn(ctx context.Context, username, password string) (*Tokens, error) {
	token, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), username, password)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return tokensFrom(token)
}

// Refresh exchanges a refresh token for a fresh token set. Providers that do
// not rotate refresh tokens keep the old one.
func (p *HostedProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return tokensFrom(token)
}

// SignUp registers a new account. The provider sends the confirmation code.
func (p *HostedProvider) SignUp(ctx context.Context, username, password, displayName string) (*SignUpResult, error) {
	var resp struct {
		UserSub     string `json:"user_sub"`
		Confirmed   bool   `json:"user_confirmed"`
		Destination string `json:"code_delivery_destination"`
	}
	err := p.postAccount(ctx, "/signup", "", map[string]string{
		"client_id": p.clientID,
		"username":  username,
		"password":  password,
		"name":      displayName,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &SignUpResult{
		UserSub:     resp.UserSub,
		Confirmed:   resp.Confirmed,
		Destination: resp.Destination,
	}, nil
}

func (p *HostedProvider) ConfirmSignUp(ctx context.Context, username, code string) error {
	return p.postAccount(ctx, "/confirm", "", map[string]string{
		"client_id": p.clientID,
		"username":  username,
		"code":      code,
	}, nil)
}

func (p *HostedProvider) ResendConfirmationCode(ctx context.Context, username string) error {
	return p.postAccount(ctx, "/resend", "", map[string]string{
		"client_id": p.clientID,
		"username":  username,
	}, nil)
}

// GlobalSignOut invalidates every token issued to the access token's owner.
func (p *HostedProvider) GlobalSignOut(ctx context.Context, accessToken string) error {
	return p.postAccount(ctx, "/signout", accessToken, map[string]string{
		"client_id": p.clientID,
	}, nil)
}

func (p *HostedProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *HostedProvider) postAccount(ctx context.Context, path, bearer string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrUnknownAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.accountURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnknownAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownAuth, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnknownAuth, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr accountError
		_ = json.Unmarshal(data, &apiErr)
		log.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("code", apiErr.Code).
			Msg("Identity provider rejected request")
		return fmt.Errorf("%w: %s", classify(apiErr.Code), describe(apiErr, resp.StatusCode))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnknownAuth, err)
		}
	}
	return nil
}

func tokensFrom(token *oauth2.Token) (*Tokens, error) {
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrUnknownAuth)
	}

	expiresAt := token.Expiry
	if claims, err := ParseClaims(idToken); err == nil && !claims.Expiry().IsZero() {
		expiresAt = claims.Expiry()
	}

	return &Tokens{
		AccessToken:  token.AccessToken,
		IDToken:      idToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: %v", ErrUnknownAuth, err)
	}

	code := re.ErrorCode
	desc := re.ErrorDescription
	if code == "" && re.Response != nil {
		var apiErr accountError
		if json.Unmarshal(re.Body, &apiErr) == nil {
			code, desc = apiErr.Code, apiErr.Description
		}
	}
	if desc == "" {
		desc = code
	}
	return fmt.Errorf("%w: %s", classify(code), desc)
}

func describe(e accountError, status int) string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("status %d", status)
	}
}
