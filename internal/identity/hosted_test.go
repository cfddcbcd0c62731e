package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestIDToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:    email,
		TokenUse: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// newTestIdP serves a token endpoint accepting a@b.com / Abcdef1! and
// refresh token "refresh-1", plus the account endpoints.
func newTestIdP(t *testing.T) (*HostedProvider, *httptest.Server) {
	t.Helper()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	idToken := signTestIDToken(t, "user-1", "a@b.com", exp)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))

		switch r.PostForm.Get("grant_type") {
		case "password":
			switch {
			case r.PostForm.Get("username") == "pending@b.com":
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "user_not_confirmed", "error_description": "User is not confirmed.",
				})
				return
			case r.PostForm.Get("username") != "a@b.com" || r.PostForm.Get("password") != "Abcdef1!":
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "invalid_grant", "error_description": "Incorrect username or password.",
				})
				return
			}
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "refresh-1" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"id_token":      idToken,
		})
	})
	mux.HandleFunc("/account/signup", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["username"] == "taken@b.com" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "UsernameExistsException"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_sub": "user-2", "user_confirmed": false, "code_delivery_destination": "n***@b.com",
		})
	})
	mux.HandleFunc("/account/confirm", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] != "123456" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "CodeMismatchException"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/account/resend", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/account/signout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "NotAuthorizedException"})
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewHostedProvider(&config.IdentityConfig{
		ClientID:   "test-client",
		TokenURL:   srv.URL + "/oauth2/token",
		AccountURL: srv.URL + "/account/",
	}, srv.Client())
	return p, srv
}

func TestHostedSignIn(t *testing.T) {
	p, _ := newTestIdP(t)
	ctx := context.Background()

	t.Run("returns tokens with id token", func(t *testing.T) {
		tokens, err := p.SignIn(ctx, "a@b.com", "Abcdef1!")
		require.NoError(t, err)

		assert.Equal(t, "access-1", tokens.AccessToken)
		assert.Equal(t, "refresh-1", tokens.RefreshToken)

		claims, err := ParseClaims(tokens.IDToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, claims.Expiry(), tokens.ExpiresAt)
	})

	t.Run("bad password", func(t *testing.T) {
		_, err := p.SignIn(ctx, "a@b.com", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Contains(t, err.Error(), "Incorrect username or password.")
	})

	t.Run("unconfirmed account", func(t *testing.T) {
		_, err := p.SignIn(ctx, "pending@b.com", "Abcdef1!")
		assert.ErrorIs(t, err, ErrUnconfirmedAccount)
	})
}

func TestHostedRefresh(t *testing.T) {
	p, _ := newTestIdP(t)
	ctx := context.Background()

	tokens, err := p.Refresh(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.NotEmpty(t, tokens.IDToken)

	_, err = p.Refresh(ctx, "revoked")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHostedAccountEndpoints(t *testing.T) {
	p, srv := newTestIdP(t)
	ctx := context.Background()

	t.Run("sign up", func(t *testing.T) {
		res, err := p.SignUp(ctx, "new@b.com", "Abcdef1!", "New")
		require.NoError(t, err)
		assert.Equal(t, "user-2", res.UserSub)
		assert.False(t, res.Confirmed)
		assert.Equal(t, "n***@b.com", res.Destination)

		_, err = p.SignUp(ctx, "taken@b.com", "Abcdef1!", "")
		assert.ErrorIs(t, err, ErrUsernameExists)
	})

	t.Run("confirm", func(t *testing.T) {
		assert.NoError(t, p.ConfirmSignUp(ctx, "new@b.com", "123456"))
		assert.ErrorIs(t, p.ConfirmSignUp(ctx, "new@b.com", "999999"), ErrInvalidCode)
	})

	t.Run("resend", func(t *testing.T) {
		assert.NoError(t, p.ResendConfirmationCode(ctx, "new@b.com"))
	})

	t.Run("global sign out", func(t *testing.T) {
		assert.NoError(t, p.GlobalSignOut(ctx, "access-1"))
		assert.ErrorIs(t, p.GlobalSignOut(ctx, "stale"), ErrInvalidCredentials)
	})

	t.Run("unreachable provider", func(t *testing.T) {
		srv.Close()
		_, err := p.SignIn(ctx, "a@b.com", "Abcdef1!")
		assert.ErrorIs(t, err, ErrUnknownAuth)
	})
}
